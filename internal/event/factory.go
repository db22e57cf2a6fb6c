package event

import (
	"context"
	"fmt"
	"strings"

	"WalletBridge/internal/config"
	xerrors "WalletBridge/internal/errors"
)

// New 根据配置创建事件总线。
func New(ctx context.Context, cfg config.EventsConfig) (Bus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryBus(0), nil
	case "none":
		return Nop{}, nil
	case "redis":
		bus, err := NewRedisBus(ctx, RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "rabbitmq":
		bus, err := NewRabbitMQBus(RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的事件驱动 %s", cfg.Driver))
	}
}
