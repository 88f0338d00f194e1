package tasks

import (
	"context"
	"errors"
	"strings"
)

var ErrStoreNotFound = errors.New("task not found in store")

// Mutation edits a task inside a store transaction. Returning an error aborts
// the write.
type Mutation func(*Task) error

// Store is authorization-agnostic; callers check permissions first. Every
// method that returns a Task returns a private copy.
type Store interface {
	Insert(ctx context.Context, task Task) (Task, error)
	FindByID(ctx context.Context, taskID string) (Task, error)
	FindVisibleTo(ctx context.Context, userID string, filter ListFilter) ([]Task, int, error)
	Update(ctx context.Context, taskID string, mutate Mutation) (Task, error)
	Delete(ctx context.Context, taskID string) (bool, error)
	CountByStatus(ctx context.Context, userID string) (map[Status]int, error)
	// ForgetUser deletes tasks owned by userID and removes it from every share list.
	ForgetUser(ctx context.Context, userID string) error
	Close() error
}

type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortDueDate   SortField = "dueDate"
	SortPriority  SortField = "priority"
	SortTitle     SortField = "title"
	SortStatus    SortField = "status"
)

func (f SortField) Valid() bool {
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortDueDate, SortPriority, SortTitle, SortStatus:
		return true
	default:
		return false
	}
}

type ListFilter struct {
	Status     Status
	Priority   Priority
	Search     string
	SortBy     SortField
	Descending bool
	Page       int
	Limit      int
}

// Normalize fills defaults: createdAt descending, page 1, limit defaultLimit.
func (f ListFilter) Normalize(defaultLimit, maxLimit int) ListFilter {
	f.Search = strings.TrimSpace(f.Search)
	if f.SortBy == "" {
		f.SortBy = SortCreatedAt
		f.Descending = true
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if maxLimit > 0 && f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f
}

func (f ListFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}
