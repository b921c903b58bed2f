package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doerline/internal/domain"
	"doerline/internal/events"
)

func msg(topic Topic, id int64) Message {
	return Message{Topic: topic, Event: domain.Event{ID: id, Type: events.ProjectTransitioned, ProjectID: topic.ProjectID()}}
}

func TestMemoryHubDeliversOnlyToTopic(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, ProjectTopic("p1"))
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, ProjectTopic("p2"))
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Active())

	require.NoError(t, hub.Publish(ctx, msg(ProjectTopic("p1"), 1)))
	select {
	case got := <-a.C():
		assert.Equal(t, int64(1), got.Event.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message")
	}
	select {
	case got := <-b.C():
		t.Fatalf("unexpected message on other topic: %+v", got)
	default:
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()
	sub, err := hub.Subscribe(context.Background(), ChatTopic("p1"))
	require.NoError(t, err)
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Active())
	_, open := <-sub.C()
	assert.False(t, open, "channel should be closed after release")
	require.NoError(t, hub.Publish(context.Background(), msg(ChatTopic("p1"), 2)))
}

func TestContextCancelReleases(t *testing.T) {
	hub := NewMemoryHub()
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, ProjectTopic("p1"))
	require.NoError(t, err)
	cancel()
	require.Eventually(t, func() bool { return hub.Active() == 0 }, time.Second, 5*time.Millisecond)
	<-sub.Done()
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewMemoryHub(WithBuffer(2))
	defer hub.Close()
	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, ProjectTopic("p1"))
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, hub.Publish(ctx, msg(ProjectTopic("p1"), i)))
	}
	assert.Len(t, sub.C(), 2)
	first := <-sub.C()
	assert.Equal(t, int64(1), first.Event.ID)
}

func TestClosedHubRefusesUse(t *testing.T) {
	hub := NewMemoryHub()
	sub, err := hub.Subscribe(context.Background(), ProjectTopic("p1"))
	require.NoError(t, err)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())
	<-sub.Done()
	assert.Equal(t, 0, hub.Active())
	_, err = hub.Subscribe(context.Background(), ProjectTopic("p1"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, hub.Publish(context.Background(), msg(ProjectTopic("p1"), 1)), ErrClosed)
}

func TestTopics(t *testing.T) {
	_, err := NewMemoryHub().Subscribe(context.Background(), Topic("project:"))
	assert.Error(t, err)
	assert.False(t, Topic("tasks:1").Valid())
	assert.True(t, ChatTopic("x").Valid())

	topic, ok := TopicFor(domain.Event{Type: events.ChatMessageSent, ProjectID: "p9"})
	assert.True(t, ok)
	assert.Equal(t, ChatTopic("p9"), topic)
	topic, ok = TopicFor(domain.Event{Type: events.DeliverableAdded, ProjectID: "p9"})
	assert.True(t, ok)
	assert.Equal(t, ProjectTopic("p9"), topic)
	_, ok = TopicFor(domain.Event{Type: events.ActorCreated})
	assert.False(t, ok)
}

func TestNewRedisClientAcceptsAddrOrURL(t *testing.T) {
	c, err := NewRedisClient("redis://localhost:6379/2", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Options().DB)
	c.Close()

	c, err = NewRedisClient("localhost:6380", "secret", 1)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", c.Options().Addr)
	c.Close()

	_, err = NewRedisClient("", "", 0)
	assert.Error(t, err)
}
