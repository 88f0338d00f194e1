package tasks

import (
	"math"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

func (p Priority) rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	default:
		return -1
	}
}

// Permission is the level stored on a share entry.
type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

func (p Permission) Valid() bool {
	return p == PermissionView || p == PermissionEdit
}

type Share struct {
	UserID     string     `json:"userId"`
	Permission Permission `json:"permission"`
	SharedAt   time.Time  `json:"sharedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Task is the stored document. SharedWith never contains OwnerID and holds
// each user at most once.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Tags        []string   `json:"tags"`
	IsPublic    bool       `json:"isPublic"`
	SharedWith  []Share    `json:"sharedWith"`
	Comments    []Comment  `json:"comments"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t Task) Clone() Task {
	out := t
	if t.Tags != nil {
		out.Tags = append([]string(nil), t.Tags...)
	}
	if t.SharedWith != nil {
		out.SharedWith = append([]Share(nil), t.SharedWith...)
	}
	if t.Comments != nil {
		out.Comments = append([]Comment(nil), t.Comments...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		out.CompletedAt = &c
	}
	return out
}

// ShareFor returns the share entry for userID, if any.
func (t Task) ShareFor(userID string) (Share, bool) {
	for _, s := range t.SharedWith {
		if s.UserID == userID {
			return s, true
		}
	}
	return Share{}, false
}

// ShareWith adds userID to the share list or updates the existing entry in
// place, keeping its position. Sharing with the owner is rejected.
func (t *Task) ShareWith(userID string, perm Permission, now time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errInvalid("share user is required")
	}
	if !perm.Valid() {
		return errInvalid("permission must be view or edit")
	}
	if userID == t.OwnerID {
		return errInvalid("cannot share a task with its owner")
	}
	for i := range t.SharedWith {
		if t.SharedWith[i].UserID == userID {
			t.SharedWith[i].Permission = perm
			t.SharedWith[i].SharedAt = now
			return nil
		}
	}
	t.SharedWith = append(t.SharedWith, Share{UserID: userID, Permission: perm, SharedAt: now})
	return nil
}

// Unshare removes userID from the share list and reports whether it was present.
func (t *Task) Unshare(userID string) bool {
	kept := t.SharedWith[:0]
	removed := false
	for _, s := range t.SharedWith {
		if s.UserID == userID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	t.SharedWith = kept
	return removed
}

// SetStatus keeps CompletedAt in step with the status.
func (t *Task) SetStatus(s Status, now time.Time) {
	if s == StatusCompleted && t.Status != StatusCompleted {
		ts := now
		t.CompletedAt = &ts
	}
	if s != StatusCompleted {
		t.CompletedAt = nil
	}
	t.Status = s
}

func (t Task) VisibleTo(userID string) bool {
	if t.OwnerID == userID {
		return true
	}
	_, ok := t.ShareFor(userID)
	return ok
}

func (t Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status == StatusCompleted {
		return false
	}
	return now.After(*t.DueDate)
}

// DaysUntilDue rounds up to whole days; nil when no due date is set.
func (t Task) DaysUntilDue(now time.Time) *int {
	if t.DueDate == nil {
		return nil
	}
	days := int(math.Ceil(t.DueDate.Sub(now).Hours() / 24))
	return &days
}

// Stats counts visible tasks by status.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"`
	InProgress     int `json:"inProgress"`
	Cancelled      int `json:"cancelled"`
	CompletionRate int `json:"completionRate"`
}

func StatsFromCounts(counts map[Status]int) Stats {
	st := Stats{
		Completed:  counts[StatusCompleted],
		Pending:    counts[StatusPending],
		InProgress: counts[StatusInProgress],
		Cancelled:  counts[StatusCancelled],
	}
	for _, n := range counts {
		st.Total += n
	}
	if st.Total > 0 {
		st.CompletionRate = int(math.Round(float64(st.Completed) * 100 / float64(st.Total)))
	}
	return st
}
