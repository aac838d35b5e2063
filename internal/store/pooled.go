package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresSchema = `CREATE TABLE IF NOT EXISTS preference_records (
    id VARCHAR(36) PRIMARY KEY,
    excluded BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	postgresUpsert = `INSERT INTO preference_records (id, excluded, updated_at)
 VALUES ($1, $2, $3)
 ON CONFLICT (id) DO UPDATE SET
    excluded = EXCLUDED.excluded,
    updated_at = EXCLUDED.updated_at`

	// pgxpool treats a zero lifetime as already expired, so "disabled" is
	// expressed as a duration no connection will reach.
	noLimit = 100 * 365 * 24 * time.Hour

	applicationName = "player-optout"
)

// pooledBackend borrows a connection from the pool for every operation and
// returns it before the call completes.
type pooledBackend struct {
	cfg  NetworkedConfig
	pool *pgxpool.Pool
}

func newPooledBackend(cfg NetworkedConfig) *pooledBackend {
	return &pooledBackend{cfg: cfg}
}

func (b *pooledBackend) Name() BackendType {
	return BackendNetworked
}

// connString renders cfg as a postgres:// URL. The password is escaped by
// net/url and never validated.
func (n NetworkedConfig) connString() string {
	q := url.Values{}
	for k, v := range n.Params {
		q.Set(k, v)
	}
	if q.Get("application_name") == "" {
		q.Set("application_name", applicationName)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(n.Username, n.Password),
		Host:     net.JoinHostPort(n.Host, strconv.Itoa(n.Port)),
		Path:     "/" + n.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// poolConfig validates n and builds the pgxpool settings without dialing.
func (n NetworkedConfig) poolConfig() (*pgxpool.Config, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	pool := n.Pool.normalized()

	cfg, err := pgxpool.ParseConfig(n.connString())
	if err != nil {
		return nil, invalidConfig("params", "parse connection string: %w", err)
	}
	cfg.MaxConns = int32(pool.MaxSize)
	cfg.MinConns = int32(pool.MinIdle)
	cfg.ConnConfig.ConnectTimeout = pool.ConnectTimeout
	cfg.MaxConnIdleTime = orNoLimit(pool.IdleTimeout)
	cfg.MaxConnLifetime = orNoLimit(pool.MaxLifetime)
	return cfg, nil
}

func orNoLimit(d time.Duration) time.Duration {
	if d == 0 {
		return noLimit
	}
	return d
}

func (b *pooledBackend) Open(ctx context.Context) error {
	cfg, err := b.cfg.poolConfig()
	if err != nil {
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return newError(KindConnectionFailed, fmt.Errorf("create pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return newError(KindConnectionFailed, fmt.Errorf("ping postgres: %w", err))
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return newError(KindConnectionFailed, fmt.Errorf("create preference table: %w", err))
	}

	b.pool = pool
	return nil
}

func (b *pooledBackend) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if b.pool == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

func (b *pooledBackend) Get(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer conn.Release()

	rec := Record{ID: id}
	err = conn.QueryRow(ctx,
		`SELECT excluded, updated_at FROM preference_records WHERE id = $1`,
		id.String(),
	).Scan(&rec.Excluded, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get preference record: %w", err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, true, nil
}

func (b *pooledBackend) Upsert(ctx context.Context, id uuid.UUID, excluded bool, at time.Time) error {
	conn, err := b.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, postgresUpsert, id.String(), excluded, at.UTC()); err != nil {
		return fmt.Errorf("upsert preference record: %w", err)
	}
	return nil
}

func (b *pooledBackend) Count(ctx context.Context) (int, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var n int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM preference_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count preference records: %w", err)
	}
	return n, nil
}

func (b *pooledBackend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}
