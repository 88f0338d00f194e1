package tasks

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/taskhub/internal/apperr"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestShareWithUpdatesExistingEntry(t *testing.T) {
	task := Task{OwnerID: "alice"}
	if err := task.ShareWith("bob", PermissionView, testNow); err != nil {
		t.Fatalf("ShareWith() error = %v", err)
	}
	if err := task.ShareWith("carol", PermissionView, testNow); err != nil {
		t.Fatalf("ShareWith() error = %v", err)
	}
	later := testNow.Add(time.Hour)
	if err := task.ShareWith("bob", PermissionEdit, later); err != nil {
		t.Fatalf("ShareWith() update error = %v", err)
	}
	if len(task.SharedWith) != 2 {
		t.Fatalf("len(SharedWith) = %d, want 2", len(task.SharedWith))
	}
	if got := task.SharedWith[0]; got.UserID != "bob" || got.Permission != PermissionEdit || !got.SharedAt.Equal(later) {
		t.Fatalf("SharedWith[0] = %+v, want bob/edit at %v", got, later)
	}
}

func TestShareWithRejectsOwnerAndBadPermission(t *testing.T) {
	task := Task{OwnerID: "alice"}
	if err := task.ShareWith("alice", PermissionView, testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("ShareWith(owner) error = %v, want validation", err)
	}
	if err := task.ShareWith("bob", Permission("admin"), testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("ShareWith(admin) error = %v, want validation", err)
	}
	if err := task.ShareWith("  ", PermissionView, testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("ShareWith(blank) error = %v, want validation", err)
	}
	if len(task.SharedWith) != 0 {
		t.Fatalf("SharedWith = %+v, want empty", task.SharedWith)
	}
}

func TestUnshare(t *testing.T) {
	task := Task{OwnerID: "alice"}
	_ = task.ShareWith("bob", PermissionView, testNow)
	_ = task.ShareWith("carol", PermissionEdit, testNow)

	if !task.Unshare("bob") {
		t.Fatalf("Unshare(bob) = false, want true")
	}
	if task.Unshare("bob") {
		t.Fatalf("second Unshare(bob) = true, want false")
	}
	if task.VisibleTo("bob") {
		t.Fatalf("bob still sees task after unshare")
	}
	if !task.VisibleTo("carol") || !task.VisibleTo("alice") {
		t.Fatalf("carol/alice lost visibility")
	}
}

func TestCloneIsDeep(t *testing.T) {
	due := testNow
	task := Task{OwnerID: "alice", Tags: []string{"a"}, DueDate: &due}
	_ = task.ShareWith("bob", PermissionView, testNow)

	cp := task.Clone()
	cp.Tags[0] = "b"
	cp.SharedWith[0].Permission = PermissionEdit
	*cp.DueDate = testNow.Add(time.Hour)

	if task.Tags[0] != "a" || task.SharedWith[0].Permission != PermissionView || !task.DueDate.Equal(testNow) {
		t.Fatalf("Clone shares state with original: %+v", task)
	}
}

func TestSetStatusTracksCompletedAt(t *testing.T) {
	task := Task{Status: StatusPending}
	task.SetStatus(StatusCompleted, testNow)
	if task.CompletedAt == nil || !task.CompletedAt.Equal(testNow) {
		t.Fatalf("CompletedAt = %v, want %v", task.CompletedAt, testNow)
	}
	task.SetStatus(StatusCompleted, testNow.Add(time.Hour))
	if !task.CompletedAt.Equal(testNow) {
		t.Fatalf("CompletedAt moved on repeated completion: %v", task.CompletedAt)
	}
	task.SetStatus(StatusInProgress, testNow)
	if task.CompletedAt != nil {
		t.Fatalf("CompletedAt = %v, want nil after reopening", task.CompletedAt)
	}
}

func TestOverdueAndDaysUntilDue(t *testing.T) {
	past := testNow.Add(-36 * time.Hour)
	future := testNow.Add(30 * time.Hour)

	late := Task{Status: StatusPending, DueDate: &past}
	if !late.IsOverdue(testNow) {
		t.Fatalf("IsOverdue() = false, want true")
	}
	if d := late.DaysUntilDue(testNow); d == nil || *d != -1 {
		t.Fatalf("DaysUntilDue() = %v, want -1", d)
	}

	done := Task{Status: StatusCompleted, DueDate: &past}
	if done.IsOverdue(testNow) {
		t.Fatalf("completed task reported overdue")
	}

	soon := Task{Status: StatusPending, DueDate: &future}
	if d := soon.DaysUntilDue(testNow); d == nil || *d != 2 {
		t.Fatalf("DaysUntilDue() = %v, want 2", d)
	}
	if (Task{}).DaysUntilDue(testNow) != nil {
		t.Fatalf("DaysUntilDue() without due date should be nil")
	}
}

func TestStatsFromCounts(t *testing.T) {
	st := StatsFromCounts(map[Status]int{StatusCompleted: 1, StatusPending: 1, StatusInProgress: 1})
	if st.Total != 3 || st.Completed != 1 || st.CompletionRate != 33 {
		t.Fatalf("StatsFromCounts() = %+v", st)
	}
	if empty := StatsFromCounts(nil); empty.Total != 0 || empty.CompletionRate != 0 {
		t.Fatalf("StatsFromCounts(nil) = %+v", empty)
	}
}

func TestDraftBuild(t *testing.T) {
	task, err := Draft{Title: "  Write report  ", Tags: []string{"work", " ", "q1"}}.Build("alice", testNow)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if task.Title != "Write report" || task.Status != StatusPending || task.Priority != PriorityMedium {
		t.Fatalf("Build() = %+v", task)
	}
	if len(task.Tags) != 2 {
		t.Fatalf("Tags = %v, want blanks dropped", task.Tags)
	}

	if _, err := (Draft{}).Build("alice", testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Build(empty title) error = %v, want validation", err)
	}
	if _, err := (Draft{Title: strings.Repeat("x", MaxTitleLen+1)}).Build("alice", testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Build(long title) error = %v, want validation", err)
	}
	if _, err := (Draft{Title: "t", Priority: "urgent"}).Build("alice", testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Build(bad priority) error = %v, want validation", err)
	}
}

func TestPatchApply(t *testing.T) {
	due := testNow.Add(48 * time.Hour)
	task := Task{OwnerID: "alice", Title: "old", Status: StatusPending, Priority: PriorityLow, DueDate: &due}

	title := "new"
	status := StatusCompleted
	p := Patch{Title: &title, Status: &status, ClearDueDate: true}
	if p.Empty() {
		t.Fatalf("Empty() = true, want false")
	}
	if err := p.Apply(&task, testNow); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if task.Title != "new" || task.Status != StatusCompleted || task.CompletedAt == nil || task.DueDate != nil {
		t.Fatalf("Apply() = %+v", task)
	}

	blank := ""
	if err := (Patch{Title: &blank}).Apply(&task, testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Apply(blank title) error = %v, want validation", err)
	}
	if !(Patch{}).Empty() {
		t.Fatalf("zero Patch should be empty")
	}
}

func TestNewComment(t *testing.T) {
	c, err := NewComment("c1", "bob", " looks good ", testNow)
	if err != nil {
		t.Fatalf("NewComment() error = %v", err)
	}
	if c.Content != "looks good" || c.UserID != "bob" {
		t.Fatalf("NewComment() = %+v", c)
	}
	if _, err := NewComment("c2", "bob", "   ", testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("NewComment(blank) error = %v, want validation", err)
	}
	if _, err := NewComment("c3", "bob", strings.Repeat("y", MaxCommentLen+1), testNow); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("NewComment(long) error = %v, want validation", err)
	}
}
