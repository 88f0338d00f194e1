package policy

import (
	"fmt"
	"strings"
)

type Operation string

const (
	OpCreate      Operation = "create"
	OpRead        Operation = "read"
	OpUpdate      Operation = "update"
	OpDelete      Operation = "delete"
	OpShareAdd    Operation = "share-add"
	OpShareRemove Operation = "share-remove"
	OpComment     Operation = "comment-add"
)

// Rules maps each task operation to the level it requires. Only the comment
// level is configurable.
type Rules struct {
	comment Level
}

func DefaultRules() Rules {
	return Rules{comment: LevelView}
}

// NewRules accepts "view" or "edit" for the comment level; empty means view.
func NewRules(commentPermission string) (Rules, error) {
	switch strings.ToLower(strings.TrimSpace(commentPermission)) {
	case "", "view":
		return Rules{comment: LevelView}, nil
	case "edit":
		return Rules{comment: LevelEdit}, nil
	default:
		return Rules{}, fmt.Errorf("comment permission must be view or edit, got %q", commentPermission)
	}
}

func (r Rules) Required(op Operation) Level {
	switch op {
	case OpCreate:
		return LevelNone
	case OpRead:
		return LevelView
	case OpUpdate:
		return LevelEdit
	case OpComment:
		if r.comment == LevelNone {
			return LevelView
		}
		return r.comment
	default:
		// delete and share management, and anything unknown
		return LevelAdmin
	}
}
