// Package mysql 提供基于 MySQL 的会话存储，包含连接池初始化与内嵌的 schema 迁移。
package mysql
