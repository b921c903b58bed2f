package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"doerline/internal/metrics"
)

// MemoryHub fans messages out inside one process.
type MemoryHub struct {
	opts options

	mu     sync.RWMutex
	subs   map[Topic]map[*Subscription]struct{}
	active int
	closed bool
}

func NewMemoryHub(opts ...Option) *MemoryHub {
	return &MemoryHub{opts: buildOptions(opts), subs: map[Topic]map[*Subscription]struct{}{}}
}

func (h *MemoryHub) Subscribe(ctx context.Context, topic Topic) (*Subscription, error) {
	if !topic.Valid() {
		return nil, fmt.Errorf("invalid topic %q", topic)
	}
	sub := newSubscription(topic, h.opts.buffer)
	sub.release = func() { h.remove(sub) }
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if h.subs[topic] == nil {
		h.subs[topic] = map[*Subscription]struct{}{}
	}
	h.subs[topic][sub] = struct{}{}
	h.active++
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	releaseOnDone(ctx, sub)
	return sub, nil
}

func (h *MemoryHub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.topic]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.topic)
	}
	h.active--
	metrics.ActiveSubscriptions.Dec()
	close(sub.ch)
}

// Publish delivers msg to every subscriber of its topic without blocking.
func (h *MemoryHub) Publish(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.subs[msg.Topic] {
		select {
		case sub.ch <- msg:
		default:
			h.opts.logger.Warn("dropping message for slow subscriber",
				zap.String("topic", string(msg.Topic)),
				zap.Int64("event_id", msg.Event.ID),
			)
		}
	}
	return nil
}

func (h *MemoryHub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Close releases every subscription and refuses further use.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range all {
		sub.Close()
	}
	return nil
}
