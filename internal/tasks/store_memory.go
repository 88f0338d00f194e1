package tasks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps tasks in process for local/dev use and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]*Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Insert(_ context.Context, task Task) (Task, error) {
	now := s.now()
	task = task.Clone()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.SharedWith == nil {
		task.SharedWith = []Share{}
	}
	if task.Comments == nil {
		task.Comments = []Comment{}
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := task.Clone()
	s.tasks[task.ID] = &stored
	return task, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return t.Clone(), nil
}

func (s *InMemoryStore) FindVisibleTo(_ context.Context, userID string, filter ListFilter) ([]Task, int, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	s.mu.RLock()
	matched := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.VisibleTo(userID) {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		matched = append(matched, t.Clone())
	}
	s.mu.RUnlock()

	sortTasks(matched, filter.SortBy, filter.Descending)

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []Task{}, total, nil
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func (s *InMemoryStore) Update(_ context.Context, taskID string, mutate Mutation) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return Task{}, err
	}
	next.ID = current.ID
	next.OwnerID = current.OwnerID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()
	stored := next.Clone()
	s.tasks[taskID] = &stored
	return next, nil
}

func (s *InMemoryStore) Delete(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return false, nil
	}
	delete(s.tasks, taskID)
	return true, nil
}

func (s *InMemoryStore) CountByStatus(_ context.Context, userID string) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int)
	for _, t := range s.tasks {
		if t.VisibleTo(userID) {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (s *InMemoryStore) ForgetUser(_ context.Context, userID string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.OwnerID == userID {
			delete(s.tasks, id)
			continue
		}
		if t.Unshare(userID) {
			t.UpdatedAt = now
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func sortTasks(list []Task, field SortField, desc bool) {
	less := func(a, b Task) bool {
		switch field {
		case SortUpdatedAt:
			return a.UpdatedAt.Before(b.UpdatedAt)
		case SortDueDate:
			if a.DueDate == nil || b.DueDate == nil {
				return false
			}
			return a.DueDate.Before(*b.DueDate)
		case SortPriority:
			return a.Priority.rank() < b.Priority.rank()
		case SortTitle:
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		case SortStatus:
			return a.Status < b.Status
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		// Undated tasks sort last in both directions, like NULLS LAST.
		if field == SortDueDate && (a.DueDate == nil) != (b.DueDate == nil) {
			return a.DueDate != nil
		}
		if less(a, b) == less(b, a) {
			// Equal keys: stable order by id so pagination is deterministic.
			return a.ID < b.ID
		}
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
}
