// Package relay shares notification deliveries between server instances
// over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/taskhub/internal/notify"
	"github.com/ent0n29/taskhub/internal/observability"
	"github.com/ent0n29/taskhub/internal/reliability"
)

const (
	reconnectBase = 200 * time.Millisecond
	reconnectCap  = 10 * time.Second
)

type Redis struct {
	client  *redis.Client
	channel string
	metrics *observability.Metrics
	logger  log.FieldLogger
}

// Dial connects to redisURL and checks the connection.
func Dial(ctx context.Context, redisURL, channel string, metrics *observability.Metrics, logger log.FieldLogger) (*Redis, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, channel, metrics, logger), nil
}

func New(client *redis.Client, channel string, metrics *observability.Metrics, logger log.FieldLogger) *Redis {
	if logger == nil {
		logger = observability.Discard()
	}
	if strings.TrimSpace(channel) == "" {
		channel = "taskhub:events"
	}
	return &Redis{
		client:  client,
		channel: channel,
		metrics: metrics,
		logger:  logger.WithFields(log.Fields{"component": "relay", "channel": channel}),
	}
}

func (r *Redis) Publish(ctx context.Context, d notify.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}

// Start subscribes and returns once the subscription is confirmed, so no
// publish after Start returns is missed. Messages are handed to deliver on
// a background goroutine that resubscribes with backoff until ctx ends.
func (r *Redis) Start(ctx context.Context, deliver func(notify.Delivery)) error {
	sub, err := r.subscribe(ctx)
	if err != nil {
		return err
	}
	go r.run(ctx, sub, deliver)
	return nil
}

func (r *Redis) subscribe(ctx context.Context) (*redis.PubSub, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	return sub, nil
}

func (r *Redis) run(ctx context.Context, sub *redis.PubSub, deliver func(notify.Delivery)) {
	attempt := 0
	for {
		if sub != nil {
			attempt = 0
			r.consume(ctx, sub, deliver)
			_ = sub.Close()
			sub = nil
		}
		if ctx.Err() != nil {
			return
		}

		wait := reliability.ExponentialBackoff(attempt, reconnectBase, reconnectCap)
		r.logger.WithField("retry_in", wait).Warn("relay subscription lost, reconnecting")
		if !reliability.Sleep(ctx, wait) {
			return
		}
		attempt++

		next, err := r.subscribe(ctx)
		if err != nil {
			if !reliability.IsTransient(err) && !errors.Is(err, redis.ErrClosed) {
				r.logger.WithError(err).Error("relay resubscribe failed")
			}
			continue
		}
		r.logger.Info("relay subscription restored")
		sub = next
	}
}

func (r *Redis) consume(ctx context.Context, sub *redis.PubSub, deliver func(notify.Delivery)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var d notify.Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				r.metrics.ObserveRelay("receive", "malformed")
				r.logger.WithError(err).Warn("dropping malformed relay message")
				continue
			}
			r.metrics.ObserveRelay("receive", "ok")
			deliver(d)
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
