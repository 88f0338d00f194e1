package policy

import "github.com/ent0n29/taskhub/internal/tasks"

// Level is a user's derived access to one task. Levels are ordered so that
// admin implies edit implies view.
type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelEdit
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelView:
		return "view"
	case LevelEdit:
		return "edit"
	case LevelAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Evaluate returns admin for the owner, the share entry's level for a shared
// user and none otherwise.
func Evaluate(userID string, task tasks.Task) Level {
	if userID == "" {
		return LevelNone
	}
	if userID == task.OwnerID {
		return LevelAdmin
	}
	share, ok := task.ShareFor(userID)
	if !ok {
		return LevelNone
	}
	switch share.Permission {
	case tasks.PermissionEdit:
		return LevelEdit
	case tasks.PermissionView:
		return LevelView
	default:
		return LevelNone
	}
}

func Authorize(userID string, task tasks.Task, required Level) bool {
	return Evaluate(userID, task) >= required
}
