package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"doerline/internal/apperr"
	"doerline/internal/metrics"
)

// RedisHub fans messages out across instances through Redis pub/sub. Every
// subscription holds its own Redis subscription to the topic channel.
type RedisHub struct {
	client *redis.Client
	opts   options

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewRedisClient opens a client for addr or a redis:// URL.
func NewRedisClient(addrOrURL, password string, db int) (*redis.Client, error) {
	if opts, err := redis.ParseURL(addrOrURL); err == nil {
		return redis.NewClient(opts), nil
	}
	if addrOrURL == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return redis.NewClient(&redis.Options{Addr: addrOrURL, Password: password, DB: db}), nil
}

func NewRedisHub(client *redis.Client, opts ...Option) *RedisHub {
	return &RedisHub{client: client, opts: buildOptions(opts), subs: map[*Subscription]struct{}{}}
}

func (h *RedisHub) channel(t Topic) string {
	return h.opts.prefix + string(t)
}

func (h *RedisHub) Publish(ctx context.Context, msg Message) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := h.client.Publish(ctx, h.channel(msg.Topic), body).Err(); err != nil {
		return apperr.Unavailable("redis publish", err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, topic Topic) (*Subscription, error) {
	if !topic.Valid() {
		return nil, fmt.Errorf("invalid topic %q", topic)
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.mu.Unlock()

	ps := h.client.Subscribe(ctx, h.channel(topic))
	// Receive waits for the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperr.Unavailable("redis subscribe", err)
	}
	sub := newSubscription(topic, h.opts.buffer)
	sub.release = func() {
		_ = ps.Close()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		metrics.ActiveSubscriptions.Dec()
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	go h.pump(ps, sub)
	releaseOnDone(ctx, sub)
	return sub, nil
}

// pump copies Redis messages into sub until the Redis subscription closes.
func (h *RedisHub) pump(ps *redis.PubSub, sub *Subscription) {
	defer close(sub.ch)
	for raw := range ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			h.opts.logger.Warn("discarding malformed realtime message",
				zap.String("channel", raw.Channel),
				zap.Error(err),
			)
			continue
		}
		select {
		case sub.ch <- msg:
		case <-sub.done:
			return
		default:
			h.opts.logger.Warn("dropping message for slow subscriber",
				zap.String("topic", string(msg.Topic)),
				zap.Int64("event_id", msg.Event.ID),
			)
		}
	}
}

func (h *RedisHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close releases every subscription. The Redis client stays open; its owner
// closes it.
func (h *RedisHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	all := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		all = append(all, sub)
	}
	h.mu.Unlock()
	for _, sub := range all {
		sub.Close()
	}
	return nil
}
