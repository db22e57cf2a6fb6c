package mysql

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"WalletBridge/deploy/migrations"
	xerrors "WalletBridge/internal/errors"
	"WalletBridge/pkg/logger"
)

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

// migration 是一个嵌入的 SQL 文件，按版本号排序执行。
type migration struct {
	version    string
	file       string
	statements []string
}

// migrator 将 deploy/migrations 下的会话表结构应用到数据库。
type migrator struct {
	db     *sql.DB
	source fs.FS
	log    *slog.Logger
}

func newMigrator(db *sql.DB) *migrator {
	return &migrator{db: db, source: migrations.Files, log: logger.Named("session-migrations")}
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := newMigrator(db).run(ctx)
	return err
}

// run 返回本次新应用的版本号。
func (m *migrator) run(ctx context.Context) ([]string, error) {
	if _, err := m.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 schema_migrations 表失败")
	}
	done, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := m.load()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range pending {
		if done[mig.version] {
			continue
		}
		start := time.Now()
		if err := m.apply(ctx, mig); err != nil {
			m.log.Error("session schema migration failed", slog.String("file", mig.file), slog.Any("error", err))
			return applied, err
		}
		m.log.Info("session schema migrated",
			slog.String("version", mig.version),
			slog.String("file", mig.file),
			slog.Duration("took", time.Since(start)))
		applied = append(applied, mig.version)
	}
	if len(applied) == 0 {
		m.log.Debug("session schema up to date", slog.Int("known", len(done)))
	}
	return applied, nil
}

func (m *migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 schema_migrations 失败")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 schema_migrations 失败")
		}
		done[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 schema_migrations 失败")
	}
	return done, nil
}

func (m *migrator) apply(ctx context.Context, mig migration) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启迁移事务失败")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range mig.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("执行迁移 %s 失败", mig.file),
				xerrors.WithMetadata("version", mig.version))
		}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mig.version, time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录迁移版本失败")
	}
	if err = tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交迁移事务失败")
	}
	return nil
}

func (m *migrator) load() ([]migration, error) {
	files, err := fs.Glob(m.source, "*.sql")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移目录失败")
	}

	var out []migration
	for _, file := range files {
		raw, err := fs.ReadFile(m.source, file)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移文件 %s 失败", file))
		}
		stmts := splitStatements(string(raw))
		if len(stmts) == 0 {
			continue
		}
		out = append(out, migration{version: migrationVersion(file), file: file, statements: stmts})
	}
	slices.SortFunc(out, func(a, b migration) int {
		return cmp.Or(cmp.Compare(a.version, b.version), cmp.Compare(a.file, b.file))
	})
	return out, nil
}

// splitStatements 按分号切分，忽略空语句和 "--" 注释行。
func splitStatements(content string) []string {
	var stmts []string
	for _, part := range strings.Split(content, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// migrationVersion 取文件名中第一个 "_" 之前的部分，如 0001_create_session_kv.sql -> 0001。
func migrationVersion(file string) string {
	if version, _, ok := strings.Cut(file, "_"); ok && version != "" {
		return version
	}
	return strings.TrimSuffix(file, ".sql")
}
