package policy

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/ent0n29/taskhub/internal/tasks"
)

func TestEvaluateLevels(t *testing.T) {
	task := tasks.Task{OwnerID: "alice"}
	now := time.Now().UTC()
	_ = task.ShareWith("bob", tasks.PermissionView, now)
	_ = task.ShareWith("carol", tasks.PermissionEdit, now)

	cases := map[string]Level{
		"alice": LevelAdmin,
		"bob":   LevelView,
		"carol": LevelEdit,
		"dave":  LevelNone,
		"":      LevelNone,
	}
	for user, want := range cases {
		if got := Evaluate(user, task); got != want {
			t.Fatalf("Evaluate(%q) = %s, want %s", user, got, want)
		}
	}
	if !Authorize("carol", task, LevelView) || Authorize("bob", task, LevelEdit) || Authorize("carol", task, LevelAdmin) {
		t.Fatalf("Authorize ordering broken")
	}
}

func TestEvaluateRandomShareLists(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	perms := []tasks.Permission{tasks.PermissionView, tasks.PermissionEdit}

	for i := 0; i < 500; i++ {
		owner := users[rng.Intn(len(users))]
		task := tasks.Task{OwnerID: owner}
		want := map[string]tasks.Permission{}
		for j := rng.Intn(len(users)); j > 0; j-- {
			u := users[rng.Intn(len(users))]
			p := perms[rng.Intn(len(perms))]
			if err := task.ShareWith(u, p, time.Time{}); err != nil {
				continue
			}
			want[u] = p
		}

		for _, u := range users {
			got := Evaluate(u, task)
			switch {
			case u == owner:
				if got != LevelAdmin {
					t.Fatalf("iter %d: Evaluate(owner %q) = %s, want admin", i, u, got)
				}
			case want[u] == tasks.PermissionEdit:
				if got != LevelEdit {
					t.Fatalf("iter %d: Evaluate(%q) = %s, want edit", i, u, got)
				}
			case want[u] == tasks.PermissionView:
				if got != LevelView {
					t.Fatalf("iter %d: Evaluate(%q) = %s, want view", i, u, got)
				}
			default:
				if got != LevelNone {
					t.Fatalf("iter %d: Evaluate(%q) = %s, want none", i, u, got)
				}
			}
		}
		if len(task.SharedWith) != len(want) {
			t.Fatalf("iter %d: share list has %d entries, want %d: %s", i, len(task.SharedWith), len(want), fmt.Sprint(task.SharedWith))
		}
	}
}

func TestRulesRequired(t *testing.T) {
	r := DefaultRules()
	cases := map[Operation]Level{
		OpCreate:      LevelNone,
		OpRead:        LevelView,
		OpUpdate:      LevelEdit,
		OpDelete:      LevelAdmin,
		OpShareAdd:    LevelAdmin,
		OpShareRemove: LevelAdmin,
		OpComment:     LevelView,
	}
	for op, want := range cases {
		if got := r.Required(op); got != want {
			t.Fatalf("Required(%s) = %s, want %s", op, got, want)
		}
	}

	strict, err := NewRules("edit")
	if err != nil {
		t.Fatalf("NewRules() error = %v", err)
	}
	if got := strict.Required(OpComment); got != LevelEdit {
		t.Fatalf("Required(comment) = %s, want edit", got)
	}
	if _, err := NewRules("admin"); err == nil {
		t.Fatalf("NewRules(admin) error = nil, want error")
	}
	if got := (Rules{}).Required(OpComment); got != LevelView {
		t.Fatalf("zero Rules comment level = %s, want view", got)
	}
}
