package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
)

var (
	// ErrUnavailable marks a failure of the durable store itself. The in-flight
	// operation was aborted without a partial write; callers may retry it whole.
	ErrUnavailable = errors.New("storage unavailable")

	ErrNotFound = errors.New("not found")
)

func failure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// EnrollmentStore is the durable mapping from identity to enrolled descriptors.
type EnrollmentStore interface {
	// Put creates the record or appends d to its sample set, refreshing the profile.
	Put(ctx context.Context, identityID string, profile models.Profile, d descriptor.Vector) (*models.EnrollmentRecord, error)
	// Replace swaps the whole sample set of an identity (explicit re-enrollment).
	Replace(ctx context.Context, identityID string, profile models.Profile, ds []descriptor.Vector) (*models.EnrollmentRecord, error)
	// Get returns (nil, nil) when the identity is not enrolled.
	Get(ctx context.Context, identityID string) (*models.EnrollmentRecord, error)
	// Scan streams a consistent snapshot ordered by identity id.
	// fn must not call back into the store.
	Scan(ctx context.Context, fn func(rec *models.EnrollmentRecord) error) error
	// ScanSince is Scan restricted to records whose updated_at is at or after
	// since. A zero since scans everything.
	ScanSince(ctx context.Context, since time.Time, fn func(rec *models.EnrollmentRecord) error) error
	List(ctx context.Context) ([]models.EnrollmentRecord, error)
	// Profiles returns the profiles of the enrolled ids among ids, in one read.
	Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// History is one identity's attendance events, seen from inside its critical section.
type History interface {
	Last(ctx context.Context) (*models.AttendanceEvent, error)
	Append(ctx context.Context, ev *models.AttendanceEvent) error
}

// EventLog is the append-only attendance table.
type EventLog interface {
	// WithIdentity runs fn with exclusive access to identityID's history.
	// Appends become durable only if fn returns nil.
	WithIdentity(ctx context.Context, identityID string, fn func(h History) error) error
	ListEvents(ctx context.Context, q models.EventQuery) ([]models.AttendanceEvent, int, error)
	// GetEvent returns (nil, nil) when no such event exists.
	GetEvent(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error)
}

// Store bundles both tables behind one backend.
type Store interface {
	EnrollmentStore
	EventLog
	Ping(ctx context.Context) error
	Close()
}

// Open connects the backend selected by cfg.Storage.Driver and applies its schema.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	dim := cfg.Matching.Dimension
	switch cfg.Storage.Driver {
	case "memory":
		return NewMemoryStore(dim), nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Storage.SQLitePath, dim)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(cfg.Database, dim)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func validateWrite(identityID string, profile models.Profile, ds []descriptor.Vector, dim int) error {
	if strings.TrimSpace(identityID) == "" {
		return descriptor.Invalid("identityId", "must not be empty")
	}
	if strings.TrimSpace(profile.DisplayName) == "" {
		return descriptor.Invalid("displayName", "must not be empty")
	}
	if len(ds) == 0 {
		return descriptor.Invalid("descriptor", "at least one sample is required")
	}
	for _, d := range ds {
		if err := d.Validate(dim); err != nil {
			return err
		}
	}
	return nil
}

// collect drains Scan into a slice.
func collect(ctx context.Context, s EnrollmentStore) ([]models.EnrollmentRecord, error) {
	var out []models.EnrollmentRecord
	err := s.Scan(ctx, func(rec *models.EnrollmentRecord) error {
		out = append(out, *rec)
		return nil
	})
	return out, err
}

// recordGrouper folds (record, sample) rows ordered by identity into records.
type recordGrouper struct {
	cur *models.EnrollmentRecord
	fn  func(rec *models.EnrollmentRecord) error
}

func (g *recordGrouper) add(head models.EnrollmentRecord, d descriptor.Vector) error {
	if g.cur != nil && g.cur.IdentityID != head.IdentityID {
		if err := g.flush(); err != nil {
			return err
		}
	}
	if g.cur == nil {
		rec := head
		rec.Descriptors = nil
		g.cur = &rec
	}
	g.cur.Descriptors = append(g.cur.Descriptors, d)
	return nil
}

func (g *recordGrouper) flush() error {
	if g.cur == nil {
		return nil
	}
	rec := g.cur
	g.cur = nil
	return g.fn(rec)
}

// statements splits an embedded schema file into executable statements.
func statements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
