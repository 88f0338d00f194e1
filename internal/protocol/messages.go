package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/schema"
	"github.com/ent0n29/taskhub/internal/tasks"
	"github.com/ent0n29/taskhub/internal/users"
)

// MessageType identifies socket payload variants in both directions.
type MessageType string

// Client to server.
const (
	TypeTaskCreate     MessageType = "task:create"
	TypeTaskUpdate     MessageType = "task:update"
	TypeTaskDelete     MessageType = "task:delete"
	TypeTaskShare      MessageType = "task:share"
	TypeTaskUnshare    MessageType = "task:unshare"
	TypeTaskComment    MessageType = "task:comment"
	TypeTaskJoin       MessageType = "task:join"
	TypeTaskLeave      MessageType = "task:leave"
	TypeTaskTyping     MessageType = "task:typing"
	TypeTaskStopTyping MessageType = "task:stop-typing"
	TypeUserStatus     MessageType = "user:status"
	TypePing           MessageType = "ping"
)

// Server to client.
const (
	EventTaskCreated       MessageType = "task:created"
	EventTaskUpdated       MessageType = "task:updated"
	EventTaskDeleted       MessageType = "task:deleted"
	EventTaskShared        MessageType = "task:shared"
	EventTaskCommented     MessageType = "task:commented"
	EventTaskRevoked       MessageType = "task:revoked"
	EventUserConnected     MessageType = "user:connected"
	EventUserDisconnected  MessageType = "user:disconnected"
	EventUserTyping        MessageType = "user:typing"
	EventUserStopTyping    MessageType = "user:stop-typing"
	EventUserStatusUpdated MessageType = "user:status-updated"
	EventAck               MessageType = "ack"
	EventError             MessageType = "error"
	EventPong              MessageType = "pong"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// Envelope is the inbound frame: {type, requestId?, data}.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is the outbound frame.
type Event struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Data      any         `json:"data,omitempty"`
}

// NullableTime distinguishes an absent field from an explicit null.
type NullableTime struct {
	Set   bool
	Value *time.Time
}

func (n *NullableTime) UnmarshalJSON(raw []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		n.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return err
	}
	n.Value = &t
	return nil
}

type TaskCreate struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      tasks.Status   `json:"status"`
	Priority    tasks.Priority `json:"priority"`
	DueDate     NullableTime   `json:"dueDate"`
	Tags        []string       `json:"tags"`
	IsPublic    bool           `json:"isPublic"`
}

func (m TaskCreate) Draft() tasks.Draft {
	return tasks.Draft{
		Title:       m.Title,
		Description: m.Description,
		Status:      m.Status,
		Priority:    m.Priority,
		DueDate:     m.DueDate.Value,
		Tags:        m.Tags,
		IsPublic:    m.IsPublic,
	}
}

type TaskUpdate struct {
	TaskID      string          `json:"taskId"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Status      *tasks.Status   `json:"status"`
	Priority    *tasks.Priority `json:"priority"`
	DueDate     NullableTime    `json:"dueDate"`
	Tags        *[]string       `json:"tags"`
	IsPublic    *bool           `json:"isPublic"`
}

func (m TaskUpdate) Patch() tasks.Patch {
	p := tasks.Patch{
		Title:       m.Title,
		Description: m.Description,
		Status:      m.Status,
		Priority:    m.Priority,
		Tags:        m.Tags,
		IsPublic:    m.IsPublic,
	}
	if m.DueDate.Set {
		if m.DueDate.Value == nil {
			p.ClearDueDate = true
		} else {
			p.DueDate = m.DueDate.Value
		}
	}
	return p
}

type TaskRef struct {
	TaskID string `json:"taskId"`
}

type TaskShare struct {
	TaskID     string           `json:"taskId"`
	UserID     string           `json:"userId"`
	Email      string           `json:"email"`
	Permission tasks.Permission `json:"permission"`
}

type TaskUnshare struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

type TaskComment struct {
	TaskID  string `json:"taskId"`
	Content string `json:"content"`
}

type UserStatus struct {
	Status string `json:"status"`
}

type Ping struct{}

// Outbound payloads.

type TaskPayload struct {
	Task tasks.View `json:"task"`
}

type TaskIDPayload struct {
	TaskID string `json:"taskId"`
}

type PresencePayload struct {
	UserID string        `json:"userId"`
	User   users.Summary `json:"userSummary"`
}

type TypingPayload struct {
	TaskID string        `json:"taskId"`
	UserID string        `json:"userId"`
	User   users.Summary `json:"user"`
}

type StatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type AckPayload struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongPayload struct {
	Time time.Time `json:"time"`
}

type inboundRule struct {
	schema   schema.Name
	decode   func([]byte) (any, error)
	needTask bool
}

func decodeAs[T any](raw []byte) (any, error) {
	var msg T
	if len(bytes.TrimSpace(raw)) == 0 {
		return msg, nil
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

var inboundRules = map[MessageType]inboundRule{
	TypeTaskCreate:     {schema: schema.TaskCreate, decode: decodeAs[TaskCreate]},
	TypeTaskUpdate:     {schema: schema.TaskUpdate, decode: decodeAs[TaskUpdate], needTask: true},
	TypeTaskDelete:     {schema: schema.TaskRef, decode: decodeAs[TaskRef], needTask: true},
	TypeTaskShare:      {schema: schema.TaskShare, decode: decodeAs[TaskShare], needTask: true},
	TypeTaskUnshare:    {schema: schema.TaskUnshare, decode: decodeAs[TaskUnshare], needTask: true},
	TypeTaskComment:    {schema: schema.TaskComment, decode: decodeAs[TaskComment], needTask: true},
	TypeTaskJoin:       {schema: schema.TaskRef, decode: decodeAs[TaskRef], needTask: true},
	TypeTaskLeave:      {schema: schema.TaskRef, decode: decodeAs[TaskRef], needTask: true},
	TypeTaskTyping:     {schema: schema.TaskRef, decode: decodeAs[TaskRef], needTask: true},
	TypeTaskStopTyping: {schema: schema.TaskRef, decode: decodeAs[TaskRef], needTask: true},
	TypeUserStatus:     {schema: schema.UserStatus, decode: decodeAs[UserStatus]},
	TypePing:           {decode: decodeAs[Ping]},
}

// Parser decodes and validates inbound socket frames.
type Parser struct {
	validator *schema.Validator
}

func NewParser(v *schema.Validator) *Parser {
	return &Parser{validator: v}
}

// Parse returns the envelope (for its request id, even on error) and the
// typed message.
func (p *Parser) Parse(raw []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, apperr.Wrap(apperr.KindValidation, err, "invalid message envelope")
	}
	rule, ok := inboundRules[env.Type]
	if !ok {
		return env, nil, apperr.Wrap(apperr.KindValidation, ErrUnsupportedType, fmt.Sprintf("unsupported message type %q", env.Type))
	}
	if rule.schema != "" && p.validator != nil {
		if err := p.validator.Validate(rule.schema, env.Data); err != nil {
			return env, nil, err
		}
	}
	msg, err := rule.decode(env.Data)
	if err != nil {
		return env, nil, apperr.Wrap(apperr.KindValidation, err, fmt.Sprintf("invalid %s payload", env.Type))
	}
	if rule.needTask && taskIDOf(msg) == "" {
		return env, nil, apperr.Validation("taskId is required for %s", env.Type)
	}
	return env, msg, nil
}

func taskIDOf(msg any) string {
	switch m := msg.(type) {
	case TaskUpdate:
		return m.TaskID
	case TaskRef:
		return m.TaskID
	case TaskShare:
		return m.TaskID
	case TaskUnshare:
		return m.TaskID
	case TaskComment:
		return m.TaskID
	default:
		return ""
	}
}
