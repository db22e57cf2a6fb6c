package event

import (
	"context"
	"encoding/json"

	xerrors "WalletBridge/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis Pub/Sub 参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisBus 通过 PUBLISH/SUBSCRIBE 广播事件。
type RedisBus struct {
	client  *redis.Client
	channel string
	owned   bool
}

// NewRedisBus 创建独立连接的 Redis 总线。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeEventFailure, err, "连接 Redis 失败")
	}
	bus := NewRedisBusFromClient(client, cfg.Channel)
	bus.owned = true
	return bus, nil
}

// NewRedisBusFromClient 复用已有连接，Close 不会关闭该连接。
func NewRedisBusFromClient(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "walletbridge:state"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish 实现 Publisher。
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	encoded, err := json.Marshal(evt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "序列化事件失败")
	}
	if err := b.client.Publish(ctx, b.channel, encoded).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Subscribe 实现 Subscriber。无法解析的消息会被跳过。
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeEventFailure, err, "Redis 订阅失败")
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			if err := handler(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// Close 关闭自有连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil || !b.owned {
		return nil
	}
	return b.client.Close()
}
