package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskhub/internal/protocol"
	"github.com/ent0n29/taskhub/internal/tasks"
)

type clientEvent struct {
	Type      protocol.MessageType `json:"type"`
	RequestID string               `json:"requestId"`
	Data      json.RawMessage      `json:"data"`
}

type testSocket struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *harness) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws?token=" + token
}

// connect dials and waits for a pong, which is only sent after the
// connection has been registered.
func (h *harness) connect(t *testing.T, token string) *testSocket {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(token), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	s := &testSocket{t: t, conn: conn}
	s.send(protocol.TypePing, "hello", nil)
	s.waitFor(protocol.EventPong)
	return s
}

func (s *testSocket) send(kind protocol.MessageType, requestID string, data any) {
	s.t.Helper()
	frame := map[string]any{"type": kind, "requestId": requestID}
	if data != nil {
		frame["data"] = data
	}
	if err := s.conn.WriteJSON(frame); err != nil {
		s.t.Fatalf("WriteJSON(%s) error = %v", kind, err)
	}
}

func (s *testSocket) next(timeout time.Duration) (clientEvent, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	var ev clientEvent
	err := s.conn.ReadJSON(&ev)
	return ev, err
}

// waitFor skips events until one of kind arrives.
func (s *testSocket) waitFor(kind protocol.MessageType) clientEvent {
	s.t.Helper()
	for {
		ev, err := s.next(3 * time.Second)
		if err != nil {
			s.t.Fatalf("waiting for %s: %v", kind, err)
		}
		if ev.Type == kind {
			return ev
		}
	}
}

// expectQuiet asserts that nothing except the listed kinds arrives before
// a fresh ping is answered.
func (s *testSocket) expectQuiet(allowed ...protocol.MessageType) {
	s.t.Helper()
	s.send(protocol.TypePing, "quiet", nil)
	for {
		ev, err := s.next(3 * time.Second)
		if err != nil {
			s.t.Fatalf("waiting for pong: %v", err)
		}
		if ev.Type == protocol.EventPong && ev.RequestID == "quiet" {
			return
		}
		ok := false
		for _, kind := range allowed {
			if ev.Type == kind {
				ok = true
			}
		}
		if !ok {
			s.t.Fatalf("unexpected %s event: %s", ev.Type, ev.Data)
		}
	}
}

func taskFrom(t *testing.T, ev clientEvent) tasks.View {
	t.Helper()
	var payload struct {
		Task tasks.View `json:"task"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode %s: %v", ev.Type, err)
	}
	return payload.Task
}

func errorFrom(t *testing.T, ev clientEvent) protocol.ErrorPayload {
	t.Helper()
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	return payload
}

func TestSocketHandshakeRequiresToken(t *testing.T) {
	h := newHarness(t)
	for _, token := range []string{"", "garbage"} {
		_, res, err := websocket.DefaultDialer.Dial(h.wsURL(token), nil)
		if !errors.Is(err, websocket.ErrBadHandshake) {
			t.Fatalf("Dial(token=%q) error = %v, want bad handshake", token, err)
		}
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Dial(token=%q) status = %d, want 401", token, res.StatusCode)
		}
	}

	alice := h.register(t, "Alice", "alice@example.com")
	header := http.Header{"Authorization": []string{"Bearer " + alice.Token}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.ts.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("Dial(header token) error = %v", err)
	}
	_ = conn.Close()
}

func TestSocketUpdateReachesSharedUserOnce(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "Alice", "alice@example.com")
	bob := h.register(t, "Bob", "bob@example.com")

	aliceWS := h.connect(t, alice.Token)
	// The broadcast is queued before the acknowledgment.
	aliceWS.send(protocol.TypeTaskCreate, "c1", map[string]any{"title": "Draft"})
	task := taskFrom(t, aliceWS.waitFor(protocol.EventTaskCreated))
	if created := aliceWS.waitFor(protocol.EventAck); created.RequestID != "c1" {
		t.Fatalf("ack requestId = %q, want c1", created.RequestID)
	}

	aliceWS.send(protocol.TypeTaskShare, "s1", map[string]any{"taskId": task.ID, "userId": bob.User.ID, "permission": "view"})
	aliceWS.waitFor(protocol.EventAck)

	bobWS := h.connect(t, bob.Token)
	aliceWS.waitFor(protocol.EventUserConnected)

	aliceWS.send(protocol.TypeTaskUpdate, "u1", map[string]any{"taskId": task.ID, "title": "Final"})
	if echoed := taskFrom(t, aliceWS.waitFor(protocol.EventTaskUpdated)); echoed.Title != "Final" {
		t.Fatalf("actor echo title = %q", echoed.Title)
	}
	ack := aliceWS.waitFor(protocol.EventAck)
	if ack.RequestID != "u1" {
		t.Fatalf("ack requestId = %q, want u1", ack.RequestID)
	}
	var ackPayload struct {
		OK   bool       `json:"ok"`
		Data tasks.View `json:"data"`
	}
	if err := json.Unmarshal(ack.Data, &ackPayload); err != nil || !ackPayload.OK || ackPayload.Data.Title != "Final" {
		t.Fatalf("ack payload = %s (%v)", ack.Data, err)
	}

	got := taskFrom(t, bobWS.waitFor(protocol.EventTaskUpdated))
	if got.Title != "Final" || got.Owner.Name != "Alice" {
		t.Fatalf("bob received %+v", got)
	}
	bobWS.expectQuiet()
}

func TestSocketStrangerUpdateIsForbidden(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "Alice", "alice@example.com")
	bob := h.register(t, "Bob", "bob@example.com")
	carol := h.register(t, "Carol", "carol@example.com")

	task := h.createTask(t, alice.Token, "Private-ish")
	if status, body := h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/share", alice.Token, map[string]string{
		"userId": bob.User.ID, "permission": "view",
	}); status != http.StatusOK {
		t.Fatalf("share status = %d body = %s", status, body)
	}

	carolWS := h.connect(t, carol.Token)
	bobWS := h.connect(t, bob.Token)

	carolWS.send(protocol.TypeTaskUpdate, "x1", map[string]any{"taskId": task.ID, "title": "hijacked"})
	ev := carolWS.waitFor(protocol.EventError)
	if ev.RequestID != "x1" || errorFrom(t, ev).Code != "forbidden" {
		t.Fatalf("error event = %+v %s", ev, ev.Data)
	}
	bobWS.expectQuiet()

	bobWS.send(protocol.TypeTaskDelete, "d1", map[string]any{"taskId": task.ID})
	if code := errorFrom(t, bobWS.waitFor(protocol.EventError)).Code; code != "forbidden" {
		t.Fatalf("bob delete code = %q, want forbidden", code)
	}

	status, body := h.do(t, http.MethodGet, "/api/tasks/"+task.ID, alice.Token, nil)
	if status != http.StatusOK || decodeTask(t, body).Title != "Private-ish" {
		t.Fatalf("task after forbidden update = %d %s", status, body)
	}
}

func TestSocketUnshareSendsRevoked(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "Alice", "alice@example.com")
	bob := h.register(t, "Bob", "bob@example.com")

	task := h.createTask(t, alice.Token, "Shared")
	h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/share", alice.Token, map[string]string{"userId": bob.User.ID, "permission": "edit"})
	bobWS := h.connect(t, bob.Token)

	if status, _ := h.do(t, http.MethodDelete, "/api/tasks/"+task.ID+"/share/"+bob.User.ID, alice.Token, nil); status != http.StatusOK {
		t.Fatalf("unshare status = %d", status)
	}
	ev := bobWS.waitFor(protocol.EventTaskRevoked)
	var payload protocol.TaskIDPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.TaskID != task.ID {
		t.Fatalf("revoked payload = %s (%v)", ev.Data, err)
	}
}

func TestSocketTypingStaysInRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "Alice", "alice@example.com")
	bob := h.register(t, "Bob", "bob@example.com")
	carol := h.register(t, "Carol", "carol@example.com")

	task := h.createTask(t, alice.Token, "Room")
	h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/share", alice.Token, map[string]string{"userId": bob.User.ID, "permission": "view"})

	aliceWS := h.connect(t, alice.Token)
	bobWS := h.connect(t, bob.Token)
	carolWS := h.connect(t, carol.Token)

	bobWS.send(protocol.TypeTaskJoin, "j1", map[string]any{"taskId": task.ID})
	bobWS.waitFor(protocol.EventAck)
	carolWS.send(protocol.TypeTaskJoin, "j2", map[string]any{"taskId": task.ID})
	if code := errorFrom(t, carolWS.waitFor(protocol.EventError)).Code; code != "forbidden" {
		t.Fatalf("carol join code = %q, want forbidden", code)
	}

	aliceWS.send(protocol.TypeTaskTyping, "t1", map[string]any{"taskId": task.ID})
	aliceWS.waitFor(protocol.EventAck)

	ev := bobWS.waitFor(protocol.EventUserTyping)
	var typing protocol.TypingPayload
	if err := json.Unmarshal(ev.Data, &typing); err != nil {
		t.Fatalf("decode typing: %v", err)
	}
	if typing.UserID != alice.User.ID || typing.TaskID != task.ID || typing.User.Name != "Alice" {
		t.Fatalf("typing payload = %+v", typing)
	}
	carolWS.expectQuiet(protocol.EventUserConnected)
	aliceWS.expectQuiet(protocol.EventUserConnected)
}

func TestSocketPresenceAndStatus(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "Alice", "alice@example.com")
	bob := h.register(t, "Bob", "bob@example.com")

	bobWS := h.connect(t, bob.Token)
	aliceWS := h.connect(t, alice.Token)
	bobWS.waitFor(protocol.EventUserConnected)

	// a second tab is not a new presence
	second := h.connect(t, alice.Token)
	bobWS.expectQuiet()

	aliceWS.send(protocol.TypeUserStatus, "st", map[string]any{"status": "busy"})
	aliceWS.waitFor(protocol.EventAck)
	ev := bobWS.waitFor(protocol.EventUserStatusUpdated)
	var status protocol.StatusPayload
	if err := json.Unmarshal(ev.Data, &status); err != nil || status.Status != "busy" || status.UserID != alice.User.ID {
		t.Fatalf("status payload = %s (%v)", ev.Data, err)
	}

	_ = second.conn.Close()
	bobWS.expectQuiet()
	_ = aliceWS.conn.Close()
	ev = bobWS.waitFor(protocol.EventUserDisconnected)
	var presence protocol.PresencePayload
	if err := json.Unmarshal(ev.Data, &presence); err != nil || presence.UserID != alice.User.ID {
		t.Fatalf("disconnect payload = %s (%v)", ev.Data, err)
	}
}

func TestSocketRejectsMalformedMessages(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "Alice", "alice@example.com")
	ws := h.connect(t, alice.Token)

	if err := ws.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if code := errorFrom(t, ws.waitFor(protocol.EventError)).Code; code != "validation_failed" {
		t.Fatalf("malformed code = %q", code)
	}

	ws.send("task:explode", "e1", map[string]any{})
	ev := ws.waitFor(protocol.EventError)
	if ev.RequestID != "e1" || errorFrom(t, ev).Code != "validation_failed" {
		t.Fatalf("unknown type error = %+v %s", ev, ev.Data)
	}

	ws.send(protocol.TypeTaskUpdate, "e2", map[string]any{"title": "no id"})
	if code := errorFrom(t, ws.waitFor(protocol.EventError)).Code; code != "validation_failed" {
		t.Fatalf("missing taskId code = %q", code)
	}
}

func TestShutdownClosesSockets(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "Alice", "alice@example.com")
	ws := h.connect(t, alice.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if conns, _ := h.registry.Counts(); conns != 0 {
		t.Fatalf("connections after Shutdown = %d, want 0", conns)
	}
	for {
		_, err := ws.next(2 * time.Second)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("socket still open after Shutdown")
		}
		return
	}
}

