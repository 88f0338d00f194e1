// Package notify fans task and presence events out to registered
// connections, optionally through a cross-instance relay.
package notify

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/observability"
	"github.com/ent0n29/taskhub/internal/protocol"
	"github.com/ent0n29/taskhub/internal/session"
	"github.com/ent0n29/taskhub/internal/tasks"
)

// Delivery is one resolved fan-out: either to the listed users or to every
// session except those of Exclude. It is also the relay wire format.
type Delivery struct {
	Recipients []string       `json:"recipients,omitempty"`
	All        bool           `json:"all,omitempty"`
	Exclude    string         `json:"exclude,omitempty"`
	Event      protocol.Event `json:"event"`
}

// Relay carries deliveries between server instances. When a relay is set
// the router delivers only what comes back from it.
type Relay interface {
	Publish(ctx context.Context, d Delivery) error
}

// Report summarizes one local fan-out. Users counts distinct users that had
// at least one connection. A relayed dispatch reports zeros because delivery
// happens when the event comes back from the relay.
type Report struct {
	Users     int
	Delivered int
	Dropped   int
}

type Router struct {
	registry *session.Registry
	metrics  *observability.Metrics
	logger   log.FieldLogger
	relay    Relay
	locks    *keyedMutex
	presence *keyedMutex
}

func NewRouter(registry *session.Registry, metrics *observability.Metrics, logger log.FieldLogger) *Router {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Router{
		registry: registry,
		metrics:  metrics,
		logger:   logger.WithField("component", "notify"),
		locks:    newKeyedMutex(),
		presence: newKeyedMutex(),
	}
}

// SetRelay must be called before the router is shared.
func (r *Router) SetRelay(relay Relay) {
	r.relay = relay
}

// LockTask serializes work on one task. Callers hold it from authorization
// through broadcast so events for a task leave in commit order.
func (r *Router) LockTask(taskID string) (unlock func()) {
	return r.locks.Lock(taskID)
}

// InterestedUsers is the owner plus every shared user, without duplicates.
func (r *Router) InterestedUsers(task tasks.View) []string {
	return task.InterestedUsers()
}

// Broadcast sends kind/payload to every connection of every interested
// user of task. Offline users are skipped.
func (r *Router) Broadcast(ctx context.Context, task tasks.View, kind protocol.MessageType, payload any) Report {
	return r.dispatch(ctx, Delivery{
		Recipients: task.InterestedUsers(),
		Event:      protocol.Event{Type: kind, Data: payload},
	})
}

// ToUsers delivers an event to the listed users only.
func (r *Router) ToUsers(ctx context.Context, userIDs []string, kind protocol.MessageType, payload any) Report {
	return r.dispatch(ctx, Delivery{
		Recipients: dedupe(userIDs),
		Event:      protocol.Event{Type: kind, Data: payload},
	})
}

// ToEveryone delivers a global event to every session except those of
// exceptUser (may be empty).
func (r *Router) ToEveryone(ctx context.Context, exceptUser string, kind protocol.MessageType, payload any) Report {
	return r.dispatch(ctx, Delivery{
		All:     true,
		Exclude: exceptUser,
		Event:   protocol.Event{Type: kind, Data: payload},
	})
}

// ToConns delivers directly to the given connections, bypassing the relay.
// Used for room-scoped signals such as typing indicators.
func (r *Router) ToConns(conns []session.Conn, kind protocol.MessageType, payload any) Report {
	var rep Report
	ev := protocol.Event{Type: kind, Data: payload}
	seen := make(map[string]struct{})
	for _, c := range conns {
		seen[c.UserID()] = struct{}{}
		if r.send(c, ev) {
			rep.Delivered++
		} else {
			rep.Dropped++
		}
	}
	rep.Users = len(seen)
	return rep
}

func (r *Router) dispatch(ctx context.Context, d Delivery) Report {
	if r.relay != nil {
		err := r.relay.Publish(ctx, d)
		if err == nil {
			r.metrics.ObserveRelay("publish", "ok")
			return Report{}
		}
		r.metrics.ObserveRelay("publish", "error")
		r.logger.WithError(err).WithField("event", d.Event.Type).Warn("relay publish failed; delivering locally")
	}
	return r.DeliverLocal(d)
}

// DeliverLocal fans d out to connections registered in this process. A
// failed send never stops delivery to the remaining connections.
func (r *Router) DeliverLocal(d Delivery) Report {
	var conns []session.Conn
	if d.All {
		for _, c := range r.registry.All() {
			if d.Exclude != "" && c.UserID() == d.Exclude {
				continue
			}
			conns = append(conns, c)
		}
	} else {
		for _, userID := range d.Recipients {
			conns = append(conns, r.registry.ConnectionsFor(userID)...)
		}
	}
	return r.ToConns(conns, d.Event.Type, d.Event.Data)
}

func (r *Router) send(c session.Conn, ev protocol.Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			r.deliveryFailed(c, ev, fmt.Errorf("panic during send: %v", rec))
		}
	}()
	if err := c.Send(ev); err != nil {
		r.deliveryFailed(c, ev, err)
		return false
	}
	r.metrics.ObserveDelivery("delivered")
	return true
}

func (r *Router) deliveryFailed(c session.Conn, ev protocol.Event, err error) {
	r.metrics.ObserveDelivery("dropped")
	r.logger.WithError(apperr.Wrap(apperr.KindDelivery, err, "delivery failed")).WithFields(log.Fields{
		"conn_id": c.ID(),
		"user_id": c.UserID(),
		"event":   ev.Type,
	}).Warn("dropping event for connection")
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
