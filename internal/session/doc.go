// Package session 定义跨重启保存钱包会话的键值存储，以及内存与文件两种本地实现。
// Redis 与 MySQL 实现位于 internal/storage 下。
package session
