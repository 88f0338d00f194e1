package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/auth"
	"github.com/ent0n29/taskhub/internal/protocol"
	"github.com/ent0n29/taskhub/internal/session"
	"github.com/ent0n29/taskhub/internal/taskservice"
	"github.com/ent0n29/taskhub/internal/users"
)

const maxSocketMessageBytes = 64 << 10

var (
	errQueueFull  = errors.New("outbound queue full")
	errConnClosed = errors.New("connection closed")
)

// wsConn is the registry handle for one websocket. Send only enqueues; a
// single writer goroutine owns the socket.
type wsConn struct {
	id     string
	userID string
	user   users.Summary

	out       chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(user users.User, buffer int) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		userID: user.ID,
		user:   user.Summary(),
		out:    make(chan protocol.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string     { return c.id }
func (c *wsConn) UserID() string { return c.userID }

func (c *wsConn) Send(ev protocol.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- ev:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errQueueFull
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

type socketRoute struct {
	// reply is the event kind sent back on success.
	reply  protocol.MessageType
	handle func(ctx context.Context, c *wsConn, msg any) (any, error)
}

func (s *Server) socketRoutes() map[protocol.MessageType]socketRoute {
	ack := func(h func(context.Context, *wsConn, any) (any, error)) socketRoute {
		return socketRoute{reply: protocol.EventAck, handle: h}
	}
	return map[protocol.MessageType]socketRoute{
		protocol.TypeTaskCreate: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			return s.tasks.Create(ctx, c.userID, msg.(protocol.TaskCreate).Draft())
		}),
		protocol.TypeTaskUpdate: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			m := msg.(protocol.TaskUpdate)
			return s.tasks.Update(ctx, c.userID, m.TaskID, m.Patch())
		}),
		protocol.TypeTaskDelete: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			m := msg.(protocol.TaskRef)
			if err := s.tasks.Delete(ctx, c.userID, m.TaskID); err != nil {
				return nil, err
			}
			return protocol.TaskIDPayload{TaskID: m.TaskID}, nil
		}),
		protocol.TypeTaskShare: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			m := msg.(protocol.TaskShare)
			return s.tasks.Share(ctx, c.userID, m.TaskID, taskservice.ShareRequest{
				UserID:     m.UserID,
				Email:      m.Email,
				Permission: m.Permission,
			})
		}),
		protocol.TypeTaskUnshare: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			m := msg.(protocol.TaskUnshare)
			return s.tasks.Unshare(ctx, c.userID, m.TaskID, m.UserID)
		}),
		protocol.TypeTaskComment: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			m := msg.(protocol.TaskComment)
			return s.tasks.Comment(ctx, c.userID, m.TaskID, m.Content)
		}),
		protocol.TypeTaskJoin: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			taskID := msg.(protocol.TaskRef).TaskID
			if err := s.tasks.CanView(ctx, c.userID, taskID); err != nil {
				return nil, err
			}
			s.registry.Join(c.id, taskID)
			return protocol.TaskIDPayload{TaskID: taskID}, nil
		}),
		protocol.TypeTaskLeave: ack(func(_ context.Context, c *wsConn, msg any) (any, error) {
			taskID := msg.(protocol.TaskRef).TaskID
			s.registry.Leave(c.id, taskID)
			return protocol.TaskIDPayload{TaskID: taskID}, nil
		}),
		protocol.TypeTaskTyping: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			return nil, s.relayTyping(ctx, c, msg.(protocol.TaskRef).TaskID, protocol.EventUserTyping)
		}),
		protocol.TypeTaskStopTyping: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			return nil, s.relayTyping(ctx, c, msg.(protocol.TaskRef).TaskID, protocol.EventUserStopTyping)
		}),
		protocol.TypeUserStatus: ack(func(ctx context.Context, c *wsConn, msg any) (any, error) {
			status := msg.(protocol.UserStatus).Status
			s.registry.SetStatus(c.userID, status)
			payload := protocol.StatusPayload{UserID: c.userID, Status: status}
			s.router.ToEveryone(ctx, c.userID, protocol.EventUserStatusUpdated, payload)
			return payload, nil
		}),
		protocol.TypePing: {
			reply: protocol.EventPong,
			handle: func(context.Context, *wsConn, any) (any, error) {
				return protocol.PongPayload{Time: time.Now().UTC()}, nil
			},
		},
	}
}

// relayTyping forwards a typing signal to the other members of the task's
// room who can still see the task. The sender joins the room implicitly.
func (s *Server) relayTyping(ctx context.Context, c *wsConn, taskID string, kind protocol.MessageType) error {
	view, err := s.tasks.Get(ctx, c.userID, taskID)
	if err != nil {
		return err
	}
	s.registry.Join(c.id, taskID)

	allowed := make(map[string]struct{})
	for _, id := range view.InterestedUsers() {
		allowed[id] = struct{}{}
	}
	var targets []session.Conn
	for _, member := range s.registry.InRoom(taskID) {
		if member.UserID() == c.userID {
			continue
		}
		if _, ok := allowed[member.UserID()]; ok {
			targets = append(targets, member)
		}
	}
	s.router.ToConns(targets, kind, protocol.TypingPayload{TaskID: taskID, UserID: c.userID, User: c.user})
	return nil
}

func (s *Server) socketToken(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := s.socketToken(r)
	if token == "" {
		s.respondAppError(w, r, apperr.Unauthenticated("missing token"))
		return
	}
	user, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.sockets.Add(1)
	defer s.sockets.Done()

	conn := newWSConn(user, s.cfg.WSOutboundBuffer)
	logger := s.logger.WithFields(log.Fields{"conn_id": conn.id, "user_id": user.ID})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ws, conn, logger)
	}()

	s.router.Connect(ctx, conn, conn.user)
	s.metrics.ObserveSessionEvent("connected")
	s.metrics.SetPresence(s.registry.Counts())
	logger.Info("socket connected")

	s.readLoop(ctx, ws, conn, logger)

	conn.close()
	<-writerDone
	s.router.Disconnect(ctx, conn, conn.user)
	s.metrics.ObserveSessionEvent("disconnected")
	s.metrics.SetPresence(s.registry.Counts())
	logger.Info("socket disconnected")
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsConn, logger log.FieldLogger) {
	pongWait := s.cfg.WSPongTimeout
	ws.SetReadLimit(maxSocketMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		s.registry.Touch(conn.id)
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("socket read ended")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.registry.Touch(conn.id)
		if msgType != websocket.TextMessage {
			continue
		}
		s.dispatch(ctx, conn, data, logger)
	}
}

// dispatch runs one client message and answers on the same connection with
// the route's reply kind or an error event.
func (s *Server) dispatch(ctx context.Context, conn *wsConn, data []byte, logger log.FieldLogger) {
	env, msg, err := s.parser.Parse(data)
	if err != nil {
		s.metrics.ObserveWSMessage("inbound", "invalid")
		s.replyError(conn, env, err, logger)
		return
	}
	s.metrics.ObserveWSMessage("inbound", string(env.Type))

	route, ok := s.routes[env.Type]
	if !ok {
		s.replyError(conn, env, apperr.Wrap(apperr.KindValidation, protocol.ErrUnsupportedType, "unsupported message type"), logger)
		return
	}
	result, err := route.handle(ctx, conn, msg)
	if err != nil {
		s.replyError(conn, env, err, logger)
		return
	}
	payload := result
	if route.reply == protocol.EventAck {
		payload = protocol.AckPayload{OK: true, Data: result}
	}
	s.reply(conn, protocol.Event{Type: route.reply, RequestID: env.RequestID, Data: payload}, logger)
}

func (s *Server) replyError(conn *wsConn, env protocol.Envelope, err error, logger log.FieldLogger) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindStorage || kind == apperr.KindInternal {
		logger.WithError(err).WithField("event", env.Type).Error("socket message failed")
	}
	s.reply(conn, protocol.Event{
		Type:      protocol.EventError,
		RequestID: env.RequestID,
		Data:      protocol.ErrorPayload{Code: string(kind), Message: apperr.MessageOf(err)},
	}, logger)
}

func (s *Server) reply(conn *wsConn, ev protocol.Event, logger log.FieldLogger) {
	if err := conn.Send(ev); err != nil {
		s.metrics.ObserveDelivery("dropped")
		logger.WithError(err).WithField("event", ev.Type).Warn("reply dropped")
	}
}

// writeLoop is the only writer on ws. It exits when conn closes or a write
// fails, and closes the socket so the read loop unblocks.
func (s *Server) writeLoop(ws *websocket.Conn, conn *wsConn, logger log.FieldLogger) {
	writeWait := s.cfg.WSWriteTimeout
	ticker := time.NewTicker(s.cfg.WSPongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		conn.close()
		_ = ws.Close()
	}()

	for {
		select {
		case <-conn.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev := <-conn.out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				s.metrics.ObserveDelivery("failed")
				logger.WithError(err).Debug("socket write failed")
				return
			}
			s.metrics.ObserveWSMessage("outbound", string(ev.Type))
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
