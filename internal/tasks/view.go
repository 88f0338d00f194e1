package tasks

import (
	"time"

	"github.com/ent0n29/taskhub/internal/users"
)

type ShareView struct {
	User       users.Summary `json:"user"`
	Permission Permission    `json:"permission"`
	SharedAt   time.Time     `json:"sharedAt"`
}

type CommentView struct {
	ID        string        `json:"id"`
	User      users.Summary `json:"user"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
}

// View is a task with every user id resolved to display data, plus the
// derived due-date fields. It is what clients and broadcasts see.
type View struct {
	ID           string        `json:"id"`
	Owner        users.Summary `json:"owner"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       Status        `json:"status"`
	Priority     Priority      `json:"priority"`
	DueDate      *time.Time    `json:"dueDate,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	Tags         []string      `json:"tags"`
	IsPublic     bool          `json:"isPublic"`
	SharedWith   []ShareView   `json:"sharedWith"`
	Comments     []CommentView `json:"comments"`
	IsOverdue    bool          `json:"isOverdue"`
	DaysUntilDue *int          `json:"daysUntilDue,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ReferencedUsers lists the owner, shared users and commenters, deduplicated.
func (t Task) ReferencedUsers() []string {
	n := 1 + len(t.SharedWith) + len(t.Comments)
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(t.OwnerID)
	for _, s := range t.SharedWith {
		add(s.UserID)
	}
	for _, c := range t.Comments {
		add(c.UserID)
	}
	return out
}

// Resolve builds the view. Ids missing from directory resolve to a
// placeholder summary rather than failing the whole snapshot.
func Resolve(t Task, directory map[string]users.Summary, now time.Time) View {
	lookup := func(id string) users.Summary {
		if s, ok := directory[id]; ok {
			return s
		}
		return users.UnknownSummary(id)
	}

	v := View{
		ID:           t.ID,
		Owner:        lookup(t.OwnerID),
		Title:        t.Title,
		Description:  t.Description,
		Status:       t.Status,
		Priority:     t.Priority,
		DueDate:      t.DueDate,
		CompletedAt:  t.CompletedAt,
		Tags:         append([]string{}, t.Tags...),
		IsPublic:     t.IsPublic,
		SharedWith:   make([]ShareView, 0, len(t.SharedWith)),
		Comments:     make([]CommentView, 0, len(t.Comments)),
		IsOverdue:    t.IsOverdue(now),
		DaysUntilDue: t.DaysUntilDue(now),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	for _, s := range t.SharedWith {
		v.SharedWith = append(v.SharedWith, ShareView{User: lookup(s.UserID), Permission: s.Permission, SharedAt: s.SharedAt})
	}
	for _, c := range t.Comments {
		v.Comments = append(v.Comments, CommentView{ID: c.ID, User: lookup(c.UserID), Content: c.Content, CreatedAt: c.CreatedAt})
	}
	return v
}

// InterestedUsers is the owner plus every shared user, owner first and
// without duplicates.
func (v View) InterestedUsers() []string {
	out := make([]string, 0, 1+len(v.SharedWith))
	seen := make(map[string]struct{}, 1+len(v.SharedWith))
	for _, id := range append([]string{v.Owner.ID}, shareIDs(v.SharedWith)...) {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func shareIDs(shares []ShareView) []string {
	ids := make([]string, 0, len(shares))
	for _, s := range shares {
		ids = append(ids, s.User.ID)
	}
	return ids
}
