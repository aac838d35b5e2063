package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func openEmbedded(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(Config{Backend: BackendEmbedded, DataDir: dir}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// failingBackend fails every operation after a successful Open.
type failingBackend struct {
	err error
}

func (f *failingBackend) Name() BackendType          { return BackendEmbedded }
func (f *failingBackend) Open(context.Context) error { return nil }
func (f *failingBackend) Get(context.Context, uuid.UUID) (Record, bool, error) {
	return Record{}, false, f.err
}
func (f *failingBackend) Upsert(context.Context, uuid.UUID, bool, time.Time) error { return f.err }
func (f *failingBackend) Count(context.Context) (int, error)                      { return 0, f.err }
func (f *failingBackend) Close() error                                             { return nil }

func TestIsExcludedDefaultsToFalse(t *testing.T) {
	s := openEmbedded(t, t.TempDir())

	assert.False(t, s.IsExcluded(context.Background(), uuid.New()))
}

func TestSetExcludedRoundTrip(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()

	for _, v := range []bool{true, false} {
		id := uuid.New()
		s.SetExcluded(ctx, id, v)
		assert.Equal(t, v, s.IsExcluded(ctx, id))

		rec, found, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, found, "a record is created for any written value")
		assert.Equal(t, v, rec.Excluded)
		assert.Equal(t, id, rec.ID)
		assert.False(t, rec.UpdatedAt.IsZero())
	}
}

func TestSetExcludedUpdatesExisting(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()
	id := uuid.New()

	s.SetExcluded(ctx, id, true)
	assert.True(t, s.IsExcluded(ctx, id))
	s.SetExcluded(ctx, id, false)
	assert.False(t, s.IsExcluded(ctx, id))
	s.SetExcluded(ctx, id, true)
	assert.True(t, s.IsExcluded(ctx, id))
}

func TestSetExcludedIsIdempotent(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()
	id := uuid.New()

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return clock }
	s.SetExcluded(ctx, id, true)
	first, _, err := s.Get(ctx, id)
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	s.SetExcluded(ctx, id, true)
	second, _, err := s.Get(ctx, id)
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, second.Excluded)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "most recent write wins")
}

func TestToggle(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()
	id := uuid.New()

	assert.True(t, s.Toggle(ctx, id))
	assert.True(t, s.IsExcluded(ctx, id))
	assert.False(t, s.Toggle(ctx, id))
	assert.False(t, s.IsExcluded(ctx, id))
	assert.True(t, s.Toggle(ctx, id))
	assert.True(t, s.IsExcluded(ctx, id))
}

func TestMultiplePlayers(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()

	s.SetExcluded(ctx, p1, true)
	s.SetExcluded(ctx, p2, false)
	s.SetExcluded(ctx, p3, true)

	assert.True(t, s.IsExcluded(ctx, p1))
	assert.False(t, s.IsExcluded(ctx, p2))
	assert.True(t, s.IsExcluded(ctx, p3))
}

func TestSameIDFromString(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()

	s.SetExcluded(ctx, uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"), true)

	assert.True(t, s.IsExcluded(ctx, uuid.MustParse("550E8400-E29B-41D4-A716-446655440000")))
}

func TestPersistenceAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	id := uuid.New()

	a, err := New(Config{Backend: BackendEmbedded, DataDir: dir}, testLogger())
	require.NoError(t, err)
	require.NoError(t, a.Initialize(ctx))
	a.SetExcluded(ctx, id, true)
	require.NoError(t, a.Close())

	b := openEmbedded(t, dir)
	assert.True(t, b.IsExcluded(ctx, id))
	assert.FileExists(t, filepath.Join(dir, EmbeddedFileName))
}

func TestConcurrentWritesShareOneConnection(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			s.SetExcluded(ctx, id, true)
			assert.True(t, s.IsExcluded(ctx, id))
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, n)
}

func TestUninitializedStoreFailsOpen(t *testing.T) {
	s, err := New(Config{Backend: BackendEmbedded, DataDir: t.TempDir()}, testLogger())
	require.NoError(t, err)
	ctx := context.Background()
	id := uuid.New()

	assert.False(t, s.Ready())
	assert.False(t, s.IsExcluded(ctx, id))
	assert.NotPanics(t, func() { s.SetExcluded(ctx, id, true) })
	assert.False(t, s.Toggle(ctx, id))

	_, err = s.Lookup(ctx, id)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.Save(ctx, id, true), ErrNotInitialized)
	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBackendFailuresFailOpen(t *testing.T) {
	cause := errors.New("connection reset")
	s := NewWithBackend(&failingBackend{err: cause}, testLogger())
	require.NoError(t, s.Initialize(context.Background()))
	ctx := context.Background()
	id := uuid.New()

	assert.False(t, s.IsExcluded(ctx, id))
	assert.NotPanics(t, func() { s.SetExcluded(ctx, id, true) })

	_, err := s.Lookup(ctx, id)
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.ErrorIs(t, err, cause)

	err = s.Save(ctx, id, true)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, cause)
}

func TestNilIDIsRejected(t *testing.T) {
	s := openEmbedded(t, t.TempDir())
	ctx := context.Background()

	assert.False(t, s.IsExcluded(ctx, uuid.Nil))
	assert.False(t, s.Toggle(ctx, uuid.Nil))
	assert.ErrorIs(t, s.Save(ctx, uuid.Nil, true), ErrInvalidID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openEmbedded(t, t.TempDir())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, s.Ready())
	assert.False(t, s.IsExcluded(context.Background(), uuid.New()))
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrNotInitialized)
}

func TestCloseWithoutInitialize(t *testing.T) {
	s, err := New(Config{Backend: BackendEmbedded, DataDir: t.TempDir()}, testLogger())
	require.NoError(t, err)

	assert.NoError(t, s.Close())
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := openEmbedded(t, t.TempDir())

	assert.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.Ready())
}

func TestInitializeDriverUnavailable(t *testing.T) {
	s := NewWithBackend(&embeddedBackend{dir: t.TempDir(), driver: "missing"}, testLogger())

	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrDriverUnavailable)
	assert.False(t, s.Ready())
	assert.False(t, s.IsExcluded(context.Background(), uuid.New()))
}

func TestInitializeFailureLogsKind(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewWithBackend(&embeddedBackend{dir: t.TempDir(), driver: "missing"}, logger)

	require.Error(t, s.Initialize(context.Background()))
	assert.Contains(t, buf.String(), `kind="driver unavailable"`)
}

func TestInitializeEmbeddedConnectionFailed(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	s, err := New(Config{Backend: BackendEmbedded, DataDir: filepath.Join(blocker, "data")}, testLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Initialize(context.Background()), ErrConnectionFailed)
	assert.False(t, s.Ready())
}

func TestInitializeEmbeddedRequiresDataDir(t *testing.T) {
	s, err := New(Config{Backend: BackendEmbedded, DataDir: "  "}, testLogger())
	require.NoError(t, err)

	err = s.Initialize(context.Background())
	assert.ErrorIs(t, err, &Error{Kind: KindInvalidConfig, Field: "data_dir"})
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "postgres"}, testLogger())
	assert.ErrorIs(t, err, &Error{Kind: KindInvalidConfig, Field: "backend"})

	_, err = New(Config{}, testLogger())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Config{Backend: BackendEmbedded, DataDir: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		in   BackendType
		want BackendType
	}{
		{"embedded", BackendEmbedded},
		{"EMBEDDED", BackendEmbedded},
		{" networked ", BackendNetworked},
		{"dynamodb", BackendDynamo},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			s, err := New(Config{Backend: tt.in, DataDir: t.TempDir()}, testLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Backend())
		})
	}
}
