package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/taskhub/internal/notify"
	"github.com/ent0n29/taskhub/internal/protocol"
)

type collector struct {
	mu  sync.Mutex
	got []notify.Delivery
}

func (c *collector) deliver(d notify.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, d)
}

func (c *collector) waitFor(t *testing.T, n int) []notify.Delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.got) >= n {
			out := append([]notify.Delivery(nil), c.got...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries", n)
	return nil
}

func TestRedisRelayRoundTripKeepsOrder(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	relay := New(rc, "test:events", nil, nil)
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var c collector
	if err := relay.Start(ctx, c.deliver); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, title := range []string{"first", "second", "third"} {
		d := notify.Delivery{
			Recipients: []string{"alice", "bob"},
			Event:      protocol.Event{Type: protocol.EventTaskUpdated, Data: map[string]string{"title": title}},
		}
		if err := relay.Publish(ctx, d); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	got := c.waitFor(t, 3)
	for i, want := range []string{"first", "second", "third"} {
		data, ok := got[i].Event.Data.(map[string]any)
		if !ok || data["title"] != want {
			t.Fatalf("delivery %d = %+v, want title %q", i, got[i], want)
		}
		if got[i].Event.Type != protocol.EventTaskUpdated || len(got[i].Recipients) != 2 {
			t.Fatalf("delivery %d lost routing: %+v", i, got[i])
		}
	}
}

func TestRedisRelayIgnoresMalformedMessages(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	relay := New(rc, "test:events", nil, nil)
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var c collector
	if err := relay.Start(ctx, c.deliver); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := rc.Publish(ctx, "test:events", "{not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := relay.Publish(ctx, notify.Delivery{All: true, Event: protocol.Event{Type: protocol.EventUserConnected}}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got := c.waitFor(t, 1)
	if !got[0].All || got[0].Event.Type != protocol.EventUserConnected {
		t.Fatalf("delivery = %+v", got[0])
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	if _, err := Dial(context.Background(), "not a url", "", nil, nil); err == nil {
		t.Fatalf("Dial() error = nil, want error")
	}
}
