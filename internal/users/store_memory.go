package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]User)}
}

func (s *InMemoryStore) Create(_ context.Context, user User) (User, error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = NormalizeEmail(user.Email)
	user.Username = NormalizeUsername(user.Username)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUniqueLocked(user); err != nil {
		return User{}, err
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *InMemoryStore) checkUniqueLocked(user User) error {
	// email first, so a duplicate account never reads as a username clash
	usernameTaken := false
	for id, existing := range s.users {
		if id == user.ID {
			continue
		}
		if existing.Email == user.Email {
			return ErrEmailTaken
		}
		if existing.Username == user.Username {
			usernameTaken = true
		}
	}
	if usernameTaken {
		return ErrUsernameTaken
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrStoreNotFound
	}
	return u, nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrStoreNotFound
}

func (s *InMemoryStore) FindByUsername(_ context.Context, username string) (User, error) {
	username = NormalizeUsername(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrStoreNotFound
}

func (s *InMemoryStore) FindByIDs(_ context.Context, userIDs []string) (map[string]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, userID string, mutate func(*User) error) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[userID]
	if !ok {
		return User{}, ErrStoreNotFound
	}
	next := current
	if err := mutate(&next); err != nil {
		return User{}, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.Email = NormalizeEmail(next.Email)
	next.Username = NormalizeUsername(next.Username)
	next.UpdatedAt = time.Now().UTC()
	if err := s.checkUniqueLocked(next); err != nil {
		return User{}, err
	}
	s.users[userID] = next
	return next, nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return false, nil
	}
	delete(s.users, userID)
	return true, nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]User, error) {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
