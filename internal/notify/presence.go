package notify

import (
	"context"

	"github.com/ent0n29/taskhub/internal/protocol"
	"github.com/ent0n29/taskhub/internal/session"
	"github.com/ent0n29/taskhub/internal/users"
)

// Connect registers conn and, when it is the user's first connection,
// announces the user to every other session. Connect and Disconnect for one
// user are serialized so the announcements leave in registry order.
func (r *Router) Connect(ctx context.Context, conn session.Conn, user users.Summary) (first bool) {
	unlock := r.presence.Lock(conn.UserID())
	defer unlock()

	first = r.registry.Register(conn.UserID(), conn)
	if first {
		r.ToEveryone(ctx, conn.UserID(), protocol.EventUserConnected, protocol.PresencePayload{UserID: conn.UserID(), User: user})
	}
	return first
}

// Disconnect unregisters conn and announces the user as gone when it was
// the last connection.
func (r *Router) Disconnect(ctx context.Context, conn session.Conn, user users.Summary) (last bool) {
	unlock := r.presence.Lock(conn.UserID())
	defer unlock()

	last = r.registry.Unregister(conn.UserID(), conn)
	if last {
		r.ToEveryone(ctx, conn.UserID(), protocol.EventUserDisconnected, protocol.PresencePayload{UserID: conn.UserID(), User: user})
	}
	return last
}
