// Package relay treats the events table as an outbox and delivers new
// events to sinks: webhooks, an AMQP exchange and the realtime hub. Each
// sink keeps its own persisted cursor, so delivery is at least once and a
// failing sink never holds back the others.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"doerline/internal/domain"
	"doerline/internal/logging"
	"doerline/internal/metrics"
	"doerline/internal/repo"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Sink receives events in id order.
type Sink interface {
	// Name identifies the sink's cursor; it must be stable across restarts.
	Name() string
	Accept(evtType string) bool
	Deliver(ctx context.Context, evt domain.Event) error
}

// Tailer is implemented by sinks that only want events newer than the
// moment they first ran, instead of the whole history.
type Tailer interface {
	StartAtLatest() bool
}

type Relay struct {
	Repo      repo.Repo
	Sinks     []Sink
	Logger    *zap.Logger
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Run polls until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	log := logging.OrNop(r.Logger)
	names := make([]string, 0, len(r.Sinks))
	for _, s := range r.Sinks {
		names = append(names, s.Name())
	}
	log.Info("relay started", zap.Strings("sinks", names), zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn("relay pass incomplete", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce delivers one batch to every sink and returns how many events were
// delivered in total.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, sink := range r.Sinks {
		n, err := r.deliver(ctx, sink)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return total, errors.Join(errs...)
}

func (r *Relay) cursor(ctx context.Context, sink Sink) (int64, error) {
	cur, err := r.Repo.RelayCursor(ctx, sink.Name())
	if !errors.Is(err, repo.ErrNotFound) {
		return cur, err
	}
	if t, ok := sink.(Tailer); !ok || !t.StartAtLatest() {
		return 0, nil
	}
	if cur, err = r.Repo.LatestEventID(ctx, ""); err != nil {
		return 0, err
	}
	return cur, r.Repo.SetRelayCursor(ctx, sink.Name(), cur, domain.FormatTime(r.now()))
}

func (r *Relay) deliver(ctx context.Context, sink Sink) (int, error) {
	log := logging.OrNop(r.Logger).With(zap.String("sink", sink.Name()))
	start, err := r.cursor(ctx, sink)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	evts, err := r.Repo.EventsAfter(ctx, batch, start, "")
	if err != nil {
		return 0, fmt.Errorf("fetch events: %w", err)
	}
	cur, delivered := start, 0
	var deliverErr error
	for _, evt := range evts {
		if !sink.Accept(evt.Type) {
			cur = evt.ID
			continue
		}
		if err := sink.Deliver(ctx, evt); err != nil {
			metrics.RelayDeliveries.WithLabelValues(sink.Name(), "failed").Inc()
			log.Warn("delivery failed", zap.Int64("event_id", evt.ID), zap.String("type", evt.Type), zap.Error(err))
			deliverErr = err
			break
		}
		metrics.RelayDeliveries.WithLabelValues(sink.Name(), "ok").Inc()
		delivered++
		cur = evt.ID
	}
	if cur != start {
		if err := r.Repo.SetRelayCursor(ctx, sink.Name(), cur, domain.FormatTime(r.now())); err != nil {
			return delivered, fmt.Errorf("save cursor: %w", err)
		}
	}
	if delivered > 0 {
		log.Debug("delivered events", zap.Int("count", delivered), zap.Int64("cursor", cur))
	}
	return delivered, deliverErr
}
