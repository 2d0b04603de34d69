package events

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todo-miniapp/internal/logging"
)

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(logging.Discard())
	defer bus.Close()

	assert.NoError(t, bus.Publish(TodoEvent{Kind: KindCreated, TodoID: 1}))
}

func TestSubscribeReceivesEvents(t *testing.T) {
	bus := NewBus(logging.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(TodoEvent{Kind: KindUpdated, TodoID: 7, Title: "walk", Completed: true, Affected: 1}))

	select {
	case ev := <-ch:
		assert.Equal(t, KindUpdated, ev.Kind)
		assert.EqualValues(t, 7, ev.TodoID)
		assert.Equal(t, "walk", ev.Title)
		assert.True(t, ev.Completed)
		assert.False(t, ev.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	bus := NewBus(logging.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}

func TestLoggerAdapterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewLoggerAdapter(logging.NewWithWriter(&buf, "debug")).
		With(watermill.LogFields{"topic": "todos"})

	adapter.Error("publish failed", errors.New("boom"), watermill.LogFields{"uuid": "abc"})

	out := buf.String()
	assert.Contains(t, out, "publish failed")
	assert.Contains(t, out, "topic=todos")
	assert.Contains(t, out, "uuid=abc")
	assert.Contains(t, out, "boom")
}
