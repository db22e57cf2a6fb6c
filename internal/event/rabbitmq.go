package event

import (
	"context"
	"encoding/json"
	"sync"

	xerrors "WalletBridge/internal/errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Durable  bool
}

// RabbitMQBus 向 fanout exchange 发布事件，每个订阅者使用独占的临时队列。
type RabbitMQBus struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewRabbitMQBus 建立连接并声明 exchange。
func NewRabbitMQBus(cfg RabbitMQConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "walletbridge.state"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "声明 RabbitMQ exchange 失败")
	}
	return &RabbitMQBus{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish 实现 Publisher。
func (b *RabbitMQBus) Publish(ctx context.Context, evt Event) error {
	if b == nil || b.ch == nil {
		return xerrors.New(xerrors.CodeEventFailure, "RabbitMQ 总线未初始化")
	}
	encoded, err := json.Marshal(evt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "序列化事件失败")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   evt.ID,
		Type:        evt.Type,
		Timestamp:   evt.OccurredAt,
		Body:        encoded,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Subscribe 实现 Subscriber，使用独立 channel 与自动确认。
func (b *RabbitMQBus) Subscribe(ctx context.Context, handler Handler) error {
	if b == nil || b.conn == nil {
		return xerrors.New(xerrors.CodeEventFailure, "RabbitMQ 总线未初始化")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "创建 RabbitMQ channel 失败")
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "声明 RabbitMQ 队列失败")
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "绑定 RabbitMQ 队列失败")
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "订阅 RabbitMQ 队列失败")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				continue
			}
			if err := handler(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
