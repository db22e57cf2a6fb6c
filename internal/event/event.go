// Package event 发布钱包状态变化事件，支持进程内、Redis Pub/Sub 与 RabbitMQ 三种驱动。
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TypeStateChanged 是唯一的事件类型：每次状态迁移都携带完整快照。
const TypeStateChanged = "StateChanged"

// Event 是总线上传递的消息。
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Reason     string          `json:"reason"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewStateChanged 构造一条状态变化事件，payload 为快照的 JSON。
func NewStateChanged(reason string, snapshot any) (Event, error) {
	var payload json.RawMessage
	if snapshot != nil {
		encoded, err := json.Marshal(snapshot)
		if err != nil {
			return Event{}, err
		}
		payload = encoded
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeStateChanged,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, nil
}

// Handler 处理收到的事件。
type Handler func(ctx context.Context, evt Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Subscriber 阻塞消费事件直到 ctx 结束。
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

// Bus 同时具备发布与订阅能力。
type Bus interface {
	Publisher
	Subscriber
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
func (Nop) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
