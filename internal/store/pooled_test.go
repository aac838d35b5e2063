package store

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests require a PostgreSQL server.
// Run with: POSTGRES_TEST_HOST=localhost POSTGRES_TEST_PASSWORD=... go test -run Pooled ./internal/store

func pooledTestConfig(t *testing.T) NetworkedConfig {
	t.Helper()
	host := os.Getenv("POSTGRES_TEST_HOST")
	if host == "" {
		t.Skip("POSTGRES_TEST_HOST not set; skipping integration test")
	}
	cfg := validNetworked()
	cfg.Host = host
	cfg.Password = os.Getenv("POSTGRES_TEST_PASSWORD")
	cfg.Params = map[string]string{"sslmode": "disable"}
	if v := os.Getenv("POSTGRES_TEST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		require.NoError(t, err)
		cfg.Port = port
	}
	if v := os.Getenv("POSTGRES_TEST_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("POSTGRES_TEST_USER"); v != "" {
		cfg.Username = v
	}
	return cfg
}

func TestPooledInitializeConnectionRefused(t *testing.T) {
	cfg := validNetworked()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.Params = map[string]string{"sslmode": "disable"}
	cfg.Pool = PoolConfig{MaxSize: 1, MinIdle: 0, ConnectTimeout: time.Second}

	s, err := New(Config{Backend: BackendNetworked, Networked: cfg}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.ErrorIs(t, s.Initialize(ctx), ErrConnectionFailed)
	assert.False(t, s.Ready())
	assert.False(t, s.IsExcluded(ctx, uuid.New()))
}

func TestPooledInitializeInvalidConfig(t *testing.T) {
	cfg := validNetworked()
	cfg.Database = "optout;drop table"

	s, err := New(Config{Backend: BackendNetworked, Networked: cfg}, testLogger())
	require.NoError(t, err)

	err = s.Initialize(context.Background())
	assert.ErrorIs(t, err, &Error{Kind: KindInvalidConfig, Field: "database"})
	assert.False(t, s.Ready())
}

func TestPooledIntegration_RoundTrip(t *testing.T) {
	cfg := pooledTestConfig(t)
	ctx := context.Background()

	s, err := New(Config{Backend: BackendNetworked, Networked: cfg}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx))
	defer s.Close()

	id := uuid.New()
	assert.False(t, s.IsExcluded(ctx, id))

	s.SetExcluded(ctx, id, true)
	s.SetExcluded(ctx, id, true)
	assert.True(t, s.IsExcluded(ctx, id))

	rec, found, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.Excluded)

	assert.False(t, s.Toggle(ctx, id))
	assert.False(t, s.IsExcluded(ctx, id))
}

func TestPooledIntegration_ConcurrentCallers(t *testing.T) {
	cfg := pooledTestConfig(t)
	cfg.Pool.MaxSize = 4
	ctx := context.Background()

	s, err := New(Config{Backend: BackendNetworked, Networked: cfg}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx))
	defer s.Close()

	ids := make([]uuid.UUID, 16)
	var wg sync.WaitGroup
	for i := range ids {
		ids[i] = uuid.New()
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx, id, true))
		}(ids[i])
	}
	wg.Wait()

	for _, id := range ids {
		assert.True(t, s.IsExcluded(ctx, id))
	}
}

func TestPooledIntegration_PersistsAcrossPools(t *testing.T) {
	cfg := pooledTestConfig(t)
	ctx := context.Background()
	id := uuid.New()

	a, err := New(Config{Backend: BackendNetworked, Networked: cfg}, testLogger())
	require.NoError(t, err)
	require.NoError(t, a.Initialize(ctx))
	a.SetExcluded(ctx, id, true)
	require.NoError(t, a.Close())

	b, err := New(Config{Backend: BackendNetworked, Networked: cfg}, testLogger())
	require.NoError(t, err)
	require.NoError(t, b.Initialize(ctx))
	defer b.Close()
	assert.True(t, b.IsExcluded(ctx, id))
}
