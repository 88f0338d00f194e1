package users

import (
	"context"
	"errors"
)

var (
	ErrStoreNotFound = errors.New("user not found in store")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

type Store interface {
	Create(ctx context.Context, user User) (User, error)
	FindByID(ctx context.Context, userID string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	// FindByIDs skips ids that do not resolve.
	FindByIDs(ctx context.Context, userIDs []string) (map[string]User, error)
	Update(ctx context.Context, userID string, mutate func(*User) error) (User, error)
	Delete(ctx context.Context, userID string) (bool, error)
	ListActive(ctx context.Context) ([]User, error)
	Close() error
}
