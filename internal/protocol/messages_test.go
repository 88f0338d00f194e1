package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/schema"
)

func newTestParser() *Parser {
	return NewParser(schema.MustNew())
}

func TestParseTaskUpdate(t *testing.T) {
	raw := []byte(`{"type":"task:update","requestId":"r1","data":{"taskId":"t1","title":"New","dueDate":null}}`)
	env, msg, err := newTestParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if env.RequestID != "r1" {
		t.Fatalf("RequestID = %q, want r1", env.RequestID)
	}
	update, ok := msg.(TaskUpdate)
	if !ok {
		t.Fatalf("message type = %T, want TaskUpdate", msg)
	}
	patch := update.Patch()
	if update.TaskID != "t1" || patch.Title == nil || *patch.Title != "New" || !patch.ClearDueDate {
		t.Fatalf("unexpected update: %+v patch %+v", update, patch)
	}
	if patch.Status != nil {
		t.Fatalf("absent status decoded as %v", *patch.Status)
	}
}

func TestParseTaskCreateWithDueDate(t *testing.T) {
	raw := []byte(`{"type":"task:create","data":{"title":"x","dueDate":"2026-04-01T09:00:00Z"}}`)
	_, msg, err := newTestParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	draft := msg.(TaskCreate).Draft()
	if draft.DueDate == nil || draft.DueDate.Day() != 1 {
		t.Fatalf("DueDate = %v", draft.DueDate)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	env, _, err := newTestParser().Parse([]byte(`{"type":"wat","requestId":"r9"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if env.RequestID != "r9" {
		t.Fatalf("RequestID = %q, want r9 preserved", env.RequestID)
	}
}

func TestParseRequiresTaskID(t *testing.T) {
	_, _, err := newTestParser().Parse([]byte(`{"type":"task:comment","data":{"content":"hi"}}`))
	if err == nil || !strings.Contains(err.Error(), "taskId") {
		t.Fatalf("error = %v, want taskId required", err)
	}
}

func TestParseSchemaViolation(t *testing.T) {
	_, _, err := newTestParser().Parse([]byte(`{"type":"task:share","data":{"taskId":"t1","userId":"u2","permission":"owner"}}`))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestParsePingWithoutData(t *testing.T) {
	_, msg, err := newTestParser().Parse([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, ok := msg.(Ping); !ok {
		t.Fatalf("message type = %T, want Ping", msg)
	}
}

func TestEventEncoding(t *testing.T) {
	raw, err := json.Marshal(Event{Type: EventTaskDeleted, Data: TaskIDPayload{TaskID: "t1"}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(raw) != `{"type":"task:deleted","data":{"taskId":"t1"}}` {
		t.Fatalf("encoded = %s", raw)
	}
}
