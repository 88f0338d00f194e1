package tasks

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/taskhub/internal/apperr"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxCommentLen     = 1000
	MaxTags           = 20
)

func errInvalid(msg string) error {
	return apperr.Validation("%s", msg)
}

// Draft carries the caller-supplied fields of a new task.
type Draft struct {
	Title       string
	Description string
	Status      Status
	Priority    Priority
	DueDate     *time.Time
	Tags        []string
	IsPublic    bool
}

// Build validates the draft and returns a task owned by ownerID. ID and
// timestamps are left for the store.
func (d Draft) Build(ownerID string, now time.Time) (Task, error) {
	t := Task{
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Status:      d.Status,
		Priority:    d.Priority,
		Tags:        normalizeTags(d.Tags),
		IsPublic:    d.IsPublic,
		SharedWith:  []Share{},
		Comments:    []Comment{},
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if d.DueDate != nil {
		due := d.DueDate.UTC()
		t.DueDate = &due
	}
	if t.Status == StatusCompleted {
		ts := now
		t.CompletedAt = &ts
	}
	if err := Validate(t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Patch is a partial update. Nil fields are left untouched; ClearDueDate
// removes the due date.
type Patch struct {
	Title        *string
	Description  *string
	Status       *Status
	Priority     *Priority
	DueDate      *time.Time
	ClearDueDate bool
	Tags         *[]string
	IsPublic     *bool
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.DueDate == nil && !p.ClearDueDate && p.Tags == nil && p.IsPublic == nil
}

// Apply mutates t and re-validates it. On error t may be partially modified;
// callers apply patches to a clone.
func (p Patch) Apply(t *Task, now time.Time) error {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		due := p.DueDate.UTC()
		t.DueDate = &due
	}
	if p.Tags != nil {
		t.Tags = normalizeTags(*p.Tags)
	}
	if p.IsPublic != nil {
		t.IsPublic = *p.IsPublic
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return errInvalid("status must be one of pending, in-progress, completed, cancelled")
		}
		t.SetStatus(*p.Status, now)
	}
	return Validate(*t)
}

// Validate checks the mutable attributes and the share-list rules.
func Validate(t Task) error {
	if t.Title == "" {
		return errInvalid("title is required")
	}
	if utf8.RuneCountInString(t.Title) > MaxTitleLen {
		return errInvalid("title must be at most 200 characters")
	}
	if utf8.RuneCountInString(t.Description) > MaxDescriptionLen {
		return errInvalid("description must be at most 1000 characters")
	}
	if !t.Status.Valid() {
		return errInvalid("status must be one of pending, in-progress, completed, cancelled")
	}
	if !t.Priority.Valid() {
		return errInvalid("priority must be one of low, medium, high")
	}
	if len(t.Tags) > MaxTags {
		return errInvalid("at most 20 tags are allowed")
	}
	seen := make(map[string]struct{}, len(t.SharedWith))
	for _, s := range t.SharedWith {
		if s.UserID == t.OwnerID {
			return errInvalid("owner cannot appear in the share list")
		}
		if _, dup := seen[s.UserID]; dup {
			return errInvalid("user appears more than once in the share list")
		}
		if !s.Permission.Valid() {
			return errInvalid("permission must be view or edit")
		}
		seen[s.UserID] = struct{}{}
	}
	return nil
}

// NewComment validates content and stamps the comment.
func NewComment(id, userID, content string, now time.Time) (Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Comment{}, errInvalid("comment content is required")
	}
	if utf8.RuneCountInString(content) > MaxCommentLen {
		return Comment{}, errInvalid("comment must be at most 1000 characters")
	}
	return Comment{ID: id, UserID: userID, Content: content, CreatedAt: now}, nil
}

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}
