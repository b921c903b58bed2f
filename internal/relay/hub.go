package relay

import (
	"context"

	"doerline/internal/domain"
	"doerline/internal/realtime"
)

// HubSink forwards project and chat events to live subscribers.
type HubSink struct {
	Hub realtime.Hub
}

func (s HubSink) Name() string { return "realtime" }

func (s HubSink) Accept(string) bool { return true }

// StartAtLatest skips history: subscribers only care about what happens
// while they listen.
func (s HubSink) StartAtLatest() bool { return true }

func (s HubSink) Deliver(ctx context.Context, evt domain.Event) error {
	topic, ok := realtime.TopicFor(evt)
	if !ok {
		return nil
	}
	return s.Hub.Publish(ctx, realtime.Message{Topic: topic, Event: evt})
}
