// Package events carries todo change notifications between the service layer
// and the bot over an in-process watermill channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/charmbracelet/log"
)

const TopicTodos = "todos"

type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// TodoEvent describes one successful mutation.
type TodoEvent struct {
	Kind      Kind      `json:"kind"`
	TodoID    int64     `json:"todo_id"`
	Title     string    `json:"title,omitempty"`
	Completed bool      `json:"completed"`
	Affected  int64     `json:"affected"`
	At        time.Time `json:"at"`
}

// Bus publishes and fans out TodoEvents. Publishing never blocks on slow
// subscribers and events published with no subscriber are dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *log.Logger
}

func NewBus(logger *log.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			NewLoggerAdapter(logger),
		),
		logger: logger,
	}
}

func (b *Bus) Publish(ev TodoEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	if err := b.pubsub.Publish(TopicTodos, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams events until ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan TodoEvent, error) {
	messages, err := b.pubsub.Subscribe(ctx, TopicTodos)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan TodoEvent)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev TodoEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("drop malformed event", "uuid", msg.UUID, "err", err)
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
