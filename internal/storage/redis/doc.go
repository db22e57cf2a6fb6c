// Package redis 提供基于 Redis 的会话存储。
package redis
