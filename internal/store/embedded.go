package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EmbeddedFileName is the database file created inside the data directory.
const EmbeddedFileName = "preferences.db"

const (
	sqliteDriver = "sqlite"

	// locking_mode must precede journal_mode so WAL runs without shared memory.
	sqlitePragmas = "?_pragma=locking_mode(EXCLUSIVE)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sqliteSchema = `CREATE TABLE IF NOT EXISTS preference_records (
    id TEXT PRIMARY KEY CHECK (length(id) = 36),
    excluded INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s', 'now') AS INTEGER) * 1000)
)`

	sqliteUpsert = `INSERT INTO preference_records (id, excluded, updated_at)
 VALUES (?, ?, ?)
 ON CONFLICT(id) DO UPDATE SET
    excluded = excluded.excluded,
    updated_at = excluded.updated_at`
)

// embeddedBackend keeps one SQLite connection open for the life of the
// process. database/sql hands that connection to one caller at a time, and
// the exclusive file lock keeps other processes out.
type embeddedBackend struct {
	dir    string
	driver string
	sqlDB  *sql.DB
}

func newEmbeddedBackend(dir string) *embeddedBackend {
	return &embeddedBackend{dir: dir, driver: sqliteDriver}
}

func (b *embeddedBackend) Name() BackendType {
	return BackendEmbedded
}

func (b *embeddedBackend) path() string {
	return filepath.Join(filepath.Clean(b.dir), EmbeddedFileName)
}

func (b *embeddedBackend) Open(ctx context.Context) error {
	if strings.TrimSpace(b.dir) == "" {
		return invalidConfig("data_dir", "data directory is required")
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return newError(KindConnectionFailed, fmt.Errorf("create data dir: %w", err))
	}

	sqlDB, err := sql.Open(b.driver, b.path()+sqlitePragmas)
	if err != nil {
		return newError(KindDriverUnavailable, fmt.Errorf("open sqlite db: %w", err))
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return newError(KindConnectionFailed, fmt.Errorf("ping sqlite db: %w", err))
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return newError(KindConnectionFailed, fmt.Errorf("create preference table: %w", err))
	}

	b.sqlDB = sqlDB
	return nil
}

func (b *embeddedBackend) Get(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	if b.sqlDB == nil {
		return Record{}, false, fmt.Errorf("storage is not configured")
	}

	row := b.sqlDB.QueryRowContext(ctx,
		`SELECT excluded, updated_at FROM preference_records WHERE id = ?`,
		id.String(),
	)

	var excluded int64
	var updatedAt int64
	if err := row.Scan(&excluded, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get preference record: %w", err)
	}

	return Record{
		ID:        id,
		Excluded:  excluded != 0,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, true, nil
}

func (b *embeddedBackend) Upsert(ctx context.Context, id uuid.UUID, excluded bool, at time.Time) error {
	if b.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := b.sqlDB.ExecContext(ctx, sqliteUpsert, id.String(), boolToInt(excluded), at.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("upsert preference record: %w", err)
	}
	return nil
}

func (b *embeddedBackend) Count(ctx context.Context) (int, error) {
	if b.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var n int
	if err := b.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM preference_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count preference records: %w", err)
	}
	return n, nil
}

func (b *embeddedBackend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
