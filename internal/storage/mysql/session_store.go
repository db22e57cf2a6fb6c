package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/session"

	"github.com/go-sql-driver/mysql"
)

const (
	selectSessionSQL = `SELECT value FROM session_kv WHERE session_key = ?`
	upsertSessionSQL = `INSERT INTO session_kv (session_key, value, updated_at) VALUES (?, ?, ?)
    ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	deleteSessionSQL = `DELETE FROM session_kv WHERE session_key = ?`
)

// mysqlNoSuchTable 对应 ER_NO_SUCH_TABLE。
const mysqlNoSuchTable = 1146

// SessionStore 将会话键值写入 session_kv 表。
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionStore 建立连接池并执行内嵌迁移。
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SessionStore{db: db, now: time.Now}, nil
}

// Get 实现 session.Store。
func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, selectSessionSQL, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, wrapMySQLError(err, "读取会话失败")
	}
	return value, true, nil
}

// Set 实现 session.Store。
func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, upsertSessionSQL, key, value, s.now().Unix()); err != nil {
		return wrapMySQLError(err, "写入会话失败")
	}
	return nil
}

// Remove 实现 session.Store。
func (s *SessionStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteSessionSQL, key); err != nil {
		return wrapMySQLError(err, "删除会话失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func wrapMySQLError(err error, message string) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlNoSuchTable {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "session_kv 表不存在，请先执行迁移",
			xerrors.WithMetadata("mysql_error", strconv.Itoa(int(mysqlErr.Number))))
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}

var _ session.Store = (*SessionStore)(nil)
