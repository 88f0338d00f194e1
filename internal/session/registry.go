package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/taskhub/internal/protocol"
)

// Conn is one live transport session. Send must not block; it reports
// failure when the event could not be queued.
type Conn interface {
	ID() string
	UserID() string
	Send(protocol.Event) error
}

type entry struct {
	conn     Conn
	lastSeen time.Time
	rooms    map[string]struct{}
}

// Registry maps user ids to their live connections. It is owned by the
// server process and injected where needed.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]map[string]*entry
	byConn   map[string]*entry
	statuses map[string]string
	onExpire func(Conn)
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[string]map[string]*entry),
		byConn:   make(map[string]*entry),
		statuses: make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) SetExpireHook(hook func(Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Register adds conn under userID. Registering the same handle twice is a
// no-op. first reports whether this is the user's only connection.
func (r *Registry) Register(userID string, conn Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*entry)
		r.byUser[userID] = conns
	}
	if _, dup := conns[conn.ID()]; dup {
		return false
	}
	e := &entry{conn: conn, lastSeen: r.now(), rooms: make(map[string]struct{})}
	conns[conn.ID()] = e
	r.byConn[conn.ID()] = e
	return len(conns) == 1
}

// Unregister removes conn. last reports whether userID has no connections
// left; the user's entry and status are dropped in that case.
func (r *Registry) Unregister(userID string, conn Conn) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byUser[userID]
	if !ok {
		return false
	}
	if _, present := conns[conn.ID()]; !present {
		return false
	}
	delete(conns, conn.ID())
	delete(r.byConn, conn.ID())
	if len(conns) > 0 {
		return false
	}
	delete(r.byUser, userID)
	delete(r.statuses, userID)
	return true
}

// ConnectionsFor returns a snapshot; it is empty when the user is offline.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]Conn, 0, len(conns))
	for _, e := range conns {
		out = append(out, e.conn)
	}
	return out
}

func (r *Registry) Reachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// All returns every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e.conn)
	}
	return out
}

func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Counts returns the number of connections and distinct users.
func (r *Registry) Counts() (conns, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn), len(r.byUser)
}

func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byConn[connID]; ok {
		e.lastSeen = r.now()
	}
}

// Join records that connID follows taskID for typing indicators.
func (r *Registry) Join(connID, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[connID]
	if !ok {
		return false
	}
	e.rooms[taskID] = struct{}{}
	return true
}

func (r *Registry) Leave(connID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byConn[connID]; ok {
		delete(e.rooms, taskID)
	}
}

// InRoom returns the connections that joined taskID.
func (r *Registry) InRoom(taskID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conn
	for _, e := range r.byConn {
		if _, ok := e.rooms[taskID]; ok {
			out = append(out, e.conn)
		}
	}
	return out
}

// SetStatus stores a self-reported status for an online user.
func (r *Registry) SetStatus(userID, status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byUser[userID]) == 0 {
		return false
	}
	r.statuses[userID] = status
	return true
}

// Status returns "offline" for unreachable users and "online" when none was set.
func (r *Registry) Status(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.byUser[userID]) == 0 {
		return "offline"
	}
	if s, ok := r.statuses[userID]; ok {
		return s
	}
	return "online"
}

// StartJanitor hands connections idle for longer than idle to the expire
// hook. The hook is expected to close them, which unregisters them.
func (r *Registry) StartJanitor(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle(idle)
			}
		}
	}()
}

func (r *Registry) expireIdle(idle time.Duration) {
	if idle <= 0 {
		return
	}
	now := r.now()
	var expired []Conn

	r.mu.RLock()
	for _, e := range r.byConn {
		if now.Sub(e.lastSeen) >= idle {
			expired = append(expired, e.conn)
		}
	}
	hook := r.onExpire
	r.mu.RUnlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}
