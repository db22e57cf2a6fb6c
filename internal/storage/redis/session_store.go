package redis

import (
	"context"
	"errors"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/session"

	"github.com/redis/go-redis/v9"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// SessionStore 将会话键保存为带前缀的 Redis 字符串，不设置过期时间。
type SessionStore struct {
	client *redis.Client
	prefix string
}

// NewSessionStore 创建 Redis 会话存储并检查连通性。
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
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
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewSessionStoreFromClient(client, cfg.Prefix), nil
}

// NewSessionStoreFromClient 复用已有的 Redis 客户端。
func NewSessionStoreFromClient(client *redis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "walletbridge:session:"
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Get 实现 session.Store。
func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 会话失败")
	}
	return value, true, nil
}

// Set 实现 session.Store。
func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 会话失败")
	}
	return nil
}

// Remove 实现 session.Store。
func (s *SessionStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 Redis 会话失败")
	}
	return nil
}

// Client 暴露底层客户端，供事件总线复用连接。
func (s *SessionStore) Client() *redis.Client {
	return s.client
}

// Close 关闭 Redis 连接。
func (s *SessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ session.Store = (*SessionStore)(nil)
