package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
)

//go:embed migrations/postgres.sql
var postgresSchema string

// Advisory lock namespaces, so enrollment and ledger locks for one identity don't collide.
const (
	lockEnrollment = 1
	lockLedger     = 2
)

type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(cfg config.DatabaseConfig, dim int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, dim: dim}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range statements(postgresSchema) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Enrollments ---

func (s *PostgresStore) Put(ctx context.Context, identityID string, profile models.Profile, d descriptor.Vector) (*models.EnrollmentRecord, error) {
	if err := validateWrite(identityID, profile, []descriptor.Vector{d}, s.dim); err != nil {
		return nil, err
	}

	var rec *models.EnrollmentRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, lockEnrollment, identityID); err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		if err := pgUpsertEnrollment(ctx, tx, identityID, profile); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO descriptors (identity_id, seq, embedding)
			 SELECT $1::text, COALESCE(MAX(seq) + 1, 0), $2::vector FROM descriptors WHERE identity_id = $1`,
			identityID, pgvector.NewVector(d),
		); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		var err error
		rec, err = pgGetEnrollment(ctx, tx, identityID)
		return err
	})
	if err != nil {
		return nil, failure("put enrollment", err)
	}
	return rec, nil
}

func (s *PostgresStore) Replace(ctx context.Context, identityID string, profile models.Profile, ds []descriptor.Vector) (*models.EnrollmentRecord, error) {
	if err := validateWrite(identityID, profile, ds, s.dim); err != nil {
		return nil, err
	}

	var rec *models.EnrollmentRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, lockEnrollment, identityID); err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		if err := pgUpsertEnrollment(ctx, tx, identityID, profile); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM descriptors WHERE identity_id = $1`, identityID); err != nil {
			return fmt.Errorf("clear samples: %w", err)
		}
		for i, d := range ds {
			if _, err := tx.Exec(ctx,
				`INSERT INTO descriptors (identity_id, seq, embedding) VALUES ($1, $2, $3)`,
				identityID, i, pgvector.NewVector(d),
			); err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
		}

		var err error
		rec, err = pgGetEnrollment(ctx, tx, identityID)
		return err
	})
	if err != nil {
		return nil, failure("replace enrollment", err)
	}
	return rec, nil
}

func pgUpsertEnrollment(ctx context.Context, tx pgx.Tx, identityID string, p models.Profile) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO enrollments (identity_id, display_name, category, department)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity_id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   category = EXCLUDED.category,
		   department = EXCLUDED.department,
		   updated_at = now()`,
		identityID, p.DisplayName, p.Category, p.Department)
	if err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgGetEnrollment(ctx context.Context, q pgQuerier, identityID string) (*models.EnrollmentRecord, error) {
	rec := &models.EnrollmentRecord{IdentityID: identityID}
	err := q.QueryRow(ctx,
		`SELECT display_name, category, department, created_at, updated_at FROM enrollments WHERE identity_id = $1`,
		identityID,
	).Scan(&rec.Profile.DisplayName, &rec.Profile.Category, &rec.Profile.Department, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT embedding FROM descriptors WHERE identity_id = $1 ORDER BY seq`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		rec.Descriptors = append(rec.Descriptors, descriptor.Vector(vec.Slice()))
	}
	return rec, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, identityID string) (*models.EnrollmentRecord, error) {
	rec, err := pgGetEnrollment(ctx, s.pool, identityID)
	if err != nil {
		return nil, failure("get enrollment", err)
	}
	return rec, nil
}

const pgScanQuery = `SELECT e.identity_id, e.display_name, e.category, e.department, e.created_at, e.updated_at, d.embedding
	FROM enrollments e
	JOIN descriptors d ON d.identity_id = e.identity_id`

// Scan streams one query, so the matcher sees a single MVCC snapshot.
func (s *PostgresStore) Scan(ctx context.Context, fn func(rec *models.EnrollmentRecord) error) error {
	return s.scan(ctx, fn, pgScanQuery+` ORDER BY e.identity_id, d.seq`)
}

// ScanSince compares against updated_at, which is set by the database clock,
// so replicas with skewed clocks agree on the watermark.
func (s *PostgresStore) ScanSince(ctx context.Context, since time.Time, fn func(rec *models.EnrollmentRecord) error) error {
	if since.IsZero() {
		return s.Scan(ctx, fn)
	}
	return s.scan(ctx, fn, pgScanQuery+` WHERE e.updated_at >= $1 ORDER BY e.identity_id, d.seq`, since)
}

func (s *PostgresStore) scan(ctx context.Context, fn func(rec *models.EnrollmentRecord) error, query string, args ...any) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return failure("scan enrollments", err)
	}
	defer rows.Close()

	g := &recordGrouper{fn: fn}
	for rows.Next() {
		var head models.EnrollmentRecord
		var vec pgvector.Vector
		if err := rows.Scan(&head.IdentityID, &head.Profile.DisplayName, &head.Profile.Category,
			&head.Profile.Department, &head.CreatedAt, &head.UpdatedAt, &vec); err != nil {
			return failure("scan enrollment row", err)
		}
		if err := g.add(head, descriptor.Vector(vec.Slice())); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return failure("scan enrollments", err)
	}
	return g.flush()
}

func (s *PostgresStore) List(ctx context.Context) ([]models.EnrollmentRecord, error) {
	return collect(ctx, s)
}

func (s *PostgresStore) Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT identity_id, display_name, category, department FROM enrollments
		 WHERE identity_id = ANY($1)`, ids)
	if err != nil {
		return nil, failure("load profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var p models.Profile
		if err := rows.Scan(&id, &p.DisplayName, &p.Category, &p.Department); err != nil {
			return nil, failure("scan profile", err)
		}
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, failure("load profiles", err)
	}
	return out, nil
}

// --- Attendance events ---

type pgHistory struct {
	tx         pgx.Tx
	identityID string
}

const eventColumns = `id, identity_id, timestamp, match_distance, image_ref, created_at`

func scanPGEvent(row pgx.Row) (*models.AttendanceEvent, error) {
	var ev models.AttendanceEvent
	if err := row.Scan(&ev.ID, &ev.IdentityID, &ev.Timestamp, &ev.MatchDistance, &ev.ImageRef, &ev.CreatedAt); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (h *pgHistory) Last(ctx context.Context) (*models.AttendanceEvent, error) {
	ev, err := scanPGEvent(h.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE identity_id = $1 ORDER BY timestamp DESC LIMIT 1`, h.identityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, failure("last event", err)
	}
	return ev, nil
}

func (h *pgHistory) Append(ctx context.Context, ev *models.AttendanceEvent) error {
	if ev.IdentityID != h.identityID {
		return descriptor.Invalid("identityId", "event for %q appended to history of %q", ev.IdentityID, h.identityID)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := h.tx.Exec(ctx,
		`INSERT INTO attendance_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.IdentityID, ev.Timestamp, ev.MatchDistance, ev.ImageRef, ev.CreatedAt)
	if err != nil {
		return failure("insert event", err)
	}
	return nil
}

// WithIdentity holds a transaction-scoped advisory lock on the identity, so the
// check-then-append of concurrent API replicas is serialized too.
func (s *PostgresStore) WithIdentity(ctx context.Context, identityID string, fn func(h History) error) error {
	var fnErr error
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, lockLedger, identityID); err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		fnErr = fn(&pgHistory{tx: tx, identityID: identityID})
		return fnErr
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	default:
		return failure("attendance transaction", err)
	}
}

func (s *PostgresStore) ListEvents(ctx context.Context, q models.EventQuery) ([]models.AttendanceEvent, int, error) {
	q.Normalize()

	baseWhere := "WHERE TRUE"
	args := []interface{}{}
	argIdx := 1

	if q.IdentityID != "" {
		baseWhere += fmt.Sprintf(" AND identity_id = $%d", argIdx)
		args = append(args, q.IdentityID)
		argIdx++
	}
	if q.From != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *q.From)
		argIdx++
	}
	if q.To != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *q.To)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_events "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, failure("count events", err)
	}

	query := fmt.Sprintf(
		`SELECT `+eventColumns+` FROM attendance_events %s ORDER BY timestamp DESC, id LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, failure("query events", err)
	}
	defer rows.Close()

	events := []models.AttendanceEvent{}
	for rows.Next() {
		ev, err := scanPGEvent(rows)
		if err != nil {
			return nil, 0, failure("scan event", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, failure("query events", err)
	}
	return events, total, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	ev, err := scanPGEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM attendance_events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, failure("get event", err)
	}
	return ev, nil
}
