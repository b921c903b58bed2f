// Package realtime fans project events out to live subscribers. A
// subscription is scoped to one topic and is released either explicitly or
// when the context it was opened with ends.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"doerline/internal/domain"
	"doerline/internal/events"
)

// Topic names a stream of messages, such as "project:<id>".
type Topic string

func ProjectTopic(projectID string) Topic { return Topic("project:" + projectID) }
func ChatTopic(projectID string) Topic    { return Topic("chat:" + projectID) }

// ProjectID returns the project a topic belongs to.
func (t Topic) ProjectID() string {
	_, id, _ := strings.Cut(string(t), ":")
	return id
}

// Valid reports whether t is one of the known topic kinds with an id.
func (t Topic) Valid() bool {
	kind, id, ok := strings.Cut(string(t), ":")
	return ok && id != "" && (kind == "project" || kind == "chat")
}

// TopicFor picks the topic an event is published on. Events that do not
// belong to a project are not published.
func TopicFor(evt domain.Event) (Topic, bool) {
	if evt.ProjectID == "" {
		return "", false
	}
	if evt.Type == events.ChatMessageSent {
		return ChatTopic(evt.ProjectID), true
	}
	return ProjectTopic(evt.ProjectID), true
}

// Message is one event delivered on a topic.
type Message struct {
	Topic Topic        `json:"topic"`
	Event domain.Event `json:"event"`
}

// ErrClosed is returned by a hub that has been shut down.
var ErrClosed = errors.New("realtime hub closed")

// Hub is implemented by the in-process and the Redis fan-out.
type Hub interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topic Topic) (*Subscription, error)
	// Active reports the number of live subscriptions.
	Active() int
	Close() error
}

// Subscription receives the messages of one topic until released.
type Subscription struct {
	topic   Topic
	ch      chan Message
	done    chan struct{}
	once    sync.Once
	release func()
}

func newSubscription(topic Topic, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscription{topic: topic, ch: make(chan Message, buffer), done: make(chan struct{})}
}

func (s *Subscription) Topic() Topic { return s.topic }

// C delivers messages. It is closed once the subscription is released.
func (s *Subscription) C() <-chan Message { return s.ch }

// Done is closed when the subscription is released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close releases the subscription. Calling it more than once is harmless.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// releaseOnDone closes s when ctx ends.
func releaseOnDone(ctx context.Context, s *Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

type options struct {
	buffer int
	logger *zap.Logger
	prefix string
}

// Option configures a hub.
type Option func(*options)

// WithBuffer sets the per-subscriber buffer. A subscriber whose buffer is
// full misses messages instead of stalling the publisher.
func WithBuffer(n int) Option { return func(o *options) { o.buffer = n } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithChannelPrefix sets the Redis channel prefix.
func WithChannelPrefix(p string) Option { return func(o *options) { o.prefix = p } }

func buildOptions(opts []Option) options {
	o := options{buffer: 32, logger: zap.NewNop(), prefix: "doerline:"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
