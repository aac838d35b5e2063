package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wozniakbe/player-optout/internal/store"

// Record is the durable preference of one player.
type Record struct {
	ID        uuid.UUID
	Excluded  bool
	UpdatedAt time.Time
}

// Backend is one persistence implementation. Backends are safe for
// concurrent use once Open has returned nil.
type Backend interface {
	// Name identifies the backend in logs and traces.
	Name() BackendType
	// Open connects and ensures the preference table exists.
	Open(ctx context.Context) error
	// Get returns the record for id; found is false when none exists.
	Get(ctx context.Context, id uuid.UUID) (rec Record, found bool, err error)
	// Upsert inserts or replaces the excluded flag for id in one round trip.
	Upsert(ctx context.Context, id uuid.UUID, excluded bool, at time.Time) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Store applies the fail-open contract on top of a Backend.
type Store struct {
	kind    BackendType
	pending Backend
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu      sync.RWMutex
	backend Backend // nil until Initialize succeeds and after Close
	closed  bool
}

// New builds a Store for cfg. No connection is made until Initialize.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	kind, err := parseBackendType(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var b Backend
	switch kind {
	case BackendEmbedded:
		b = newEmbeddedBackend(cfg.DataDir)
	case BackendNetworked:
		b = newPooledBackend(cfg.Networked)
	case BackendDynamo:
		b = newDynamoBackend(cfg.Dynamo)
	}
	return NewWithBackend(b, logger), nil
}

// NewWithBackend builds a Store around an already constructed backend.
func NewWithBackend(b Backend, logger *slog.Logger) *Store {
	return &Store{
		kind:    b.Name(),
		pending: b,
		logger:  logger.With("backend", string(b.Name())),
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Backend reports which backend this store was built for.
func (s *Store) Backend() BackendType {
	return s.kind
}

// Initialize connects the backend and creates the table if needed. On error
// the store stays uninitialized and every operation fails open.
func (s *Store) Initialize(ctx context.Context) error {
	ctx, span := s.start(ctx, "store.Initialize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return endSpan(span, newError(KindNotInitialized, fmt.Errorf("store is closed")))
	}
	if s.backend != nil {
		return nil
	}

	if err := s.pending.Open(ctx); err != nil {
		s.logger.Error("failed to initialize preference store", "kind", KindOf(err).String(), "error", err)
		return endSpan(span, err)
	}
	s.backend = s.pending
	s.logger.Info("preference store initialized")
	return nil
}

// Ready reports whether Initialize succeeded and Close has not been called.
func (s *Store) Ready() bool {
	return s.current() != nil
}

func (s *Store) current() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// Get returns the full record for id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	ctx, span := s.start(ctx, "store.Get", attribute.String("player.id", id.String()))
	defer span.End()

	b, err := s.ready(id)
	if err != nil {
		return Record{}, false, endSpan(span, err)
	}
	rec, found, err := b.Get(ctx, id)
	if err != nil {
		return Record{}, false, endSpan(span, newError(KindQueryFailed, err))
	}
	span.SetAttributes(attribute.Bool("record.found", found))
	return rec, found, nil
}

// Lookup returns the stored excluded flag, false when no record exists.
func (s *Store) Lookup(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, found, err := s.Get(ctx, id)
	if err != nil || !found {
		return false, err
	}
	return rec.Excluded, nil
}

// Save upserts the excluded flag for id.
func (s *Store) Save(ctx context.Context, id uuid.UUID, excluded bool) error {
	ctx, span := s.start(ctx, "store.Save",
		attribute.String("player.id", id.String()),
		attribute.Bool("player.excluded", excluded),
	)
	defer span.End()

	b, err := s.ready(id)
	if err != nil {
		return endSpan(span, err)
	}
	if err := b.Upsert(ctx, id, excluded, s.now()); err != nil {
		return endSpan(span, newError(KindWriteFailed, err))
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, span := s.start(ctx, "store.Count")
	defer span.End()

	b := s.current()
	if b == nil {
		return 0, endSpan(span, ErrNotInitialized)
	}
	n, err := b.Count(ctx)
	if err != nil {
		return 0, endSpan(span, newError(KindQueryFailed, err))
	}
	return n, nil
}

// IsExcluded returns the stored flag, or false on any failure.
func (s *Store) IsExcluded(ctx context.Context, id uuid.UUID) bool {
	excluded, err := s.Lookup(ctx, id)
	if err != nil {
		s.logger.Warn("failed to read opt-out status", "playerId", id, "error", err)
		return false
	}
	return excluded
}

// SetExcluded upserts the flag, logging any failure.
func (s *Store) SetExcluded(ctx context.Context, id uuid.UUID, excluded bool) {
	if err := s.Save(ctx, id, excluded); err != nil {
		s.logger.Warn("failed to write opt-out status", "playerId", id, "excluded", excluded, "error", err)
	}
}

// Toggle writes the negation of the stored flag and returns it. The read
// and write are separate round trips; concurrent toggles of one id race.
func (s *Store) Toggle(ctx context.Context, id uuid.UUID) bool {
	if _, err := s.ready(id); err != nil {
		s.logger.Warn("failed to toggle opt-out status", "playerId", id, "error", err)
		return false
	}
	next := !s.IsExcluded(ctx, id)
	s.SetExcluded(ctx, id, next)
	return next
}

// Close releases the backend. Calling it again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	b := s.backend
	s.backend = nil
	s.mu.Unlock()

	if b == nil {
		return nil
	}
	if err := b.Close(); err != nil {
		s.logger.Warn("failed to close preference store", "error", err)
		return err
	}
	s.logger.Info("preference store closed")
	return nil
}

func (s *Store) ready(id uuid.UUID) (Backend, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}
	b := s.current()
	if b == nil {
		return nil, ErrNotInitialized
	}
	return b, nil
}

func (s *Store) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("store.backend", string(s.kind)))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
