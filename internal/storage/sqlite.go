package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

// SQLiteStore is the single-kiosk backend: one database file next to the binary.
// Descriptors are kept in pgvector's text form so both SQL backends share a codec.
type SQLiteStore struct {
	db  *sql.DB
	dim int
	now func() time.Time
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func NewSQLiteStore(path string, dim int) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection makes every transaction exclusive within the process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, dim: dim, now: time.Now}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range statements(sqliteSchema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Enrollments ---

func (s *SQLiteStore) Put(ctx context.Context, identityID string, profile models.Profile, d descriptor.Vector) (*models.EnrollmentRecord, error) {
	if err := validateWrite(identityID, profile, []descriptor.Vector{d}, s.dim); err != nil {
		return nil, err
	}

	var rec *models.EnrollmentRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC().UnixNano()
		if err := sqliteUpsertEnrollment(ctx, tx, identityID, profile, now); err != nil {
			return err
		}

		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM descriptors WHERE identity_id = ?`, identityID,
		).Scan(&next); err != nil {
			return fmt.Errorf("next sample seq: %w", err)
		}
		if err := sqliteInsertDescriptor(ctx, tx, identityID, next, d, now); err != nil {
			return err
		}

		var err error
		rec, err = sqliteGetEnrollment(ctx, tx, identityID)
		return err
	})
	if err != nil {
		return nil, failure("put enrollment", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Replace(ctx context.Context, identityID string, profile models.Profile, ds []descriptor.Vector) (*models.EnrollmentRecord, error) {
	if err := validateWrite(identityID, profile, ds, s.dim); err != nil {
		return nil, err
	}

	var rec *models.EnrollmentRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC().UnixNano()
		if err := sqliteUpsertEnrollment(ctx, tx, identityID, profile, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM descriptors WHERE identity_id = ?`, identityID); err != nil {
			return fmt.Errorf("clear samples: %w", err)
		}
		for i, d := range ds {
			if err := sqliteInsertDescriptor(ctx, tx, identityID, i, d, now); err != nil {
				return err
			}
		}

		var err error
		rec, err = sqliteGetEnrollment(ctx, tx, identityID)
		return err
	})
	if err != nil {
		return nil, failure("replace enrollment", err)
	}
	return rec, nil
}

func sqliteUpsertEnrollment(ctx context.Context, q querier, identityID string, p models.Profile, now int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO enrollments (identity_id, display_name, category, department, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (identity_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   category = excluded.category,
		   department = excluded.department,
		   updated_at = excluded.updated_at`,
		identityID, p.DisplayName, p.Category, p.Department, now, now)
	if err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

func sqliteInsertDescriptor(ctx context.Context, q querier, identityID string, seq int, d descriptor.Vector, now int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO descriptors (identity_id, seq, embedding, created_at) VALUES (?, ?, ?, ?)`,
		identityID, seq, pgvector.NewVector(d), now)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func sqliteGetEnrollment(ctx context.Context, q querier, identityID string) (*models.EnrollmentRecord, error) {
	rec := &models.EnrollmentRecord{IdentityID: identityID}
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT display_name, category, department, created_at, updated_at FROM enrollments WHERE identity_id = ?`,
		identityID,
	).Scan(&rec.Profile.DisplayName, &rec.Profile.Category, &rec.Profile.Department, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()

	rows, err := q.QueryContext(ctx,
		`SELECT embedding FROM descriptors WHERE identity_id = ? ORDER BY seq`, identityID)
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

func (s *SQLiteStore) Get(ctx context.Context, identityID string) (*models.EnrollmentRecord, error) {
	rec, err := sqliteGetEnrollment(ctx, s.db, identityID)
	if err != nil {
		return nil, failure("get enrollment", err)
	}
	return rec, nil
}

const sqliteScanQuery = `SELECT e.identity_id, e.display_name, e.category, e.department, e.created_at, e.updated_at, d.embedding
	FROM enrollments e
	JOIN descriptors d ON d.identity_id = e.identity_id`

func (s *SQLiteStore) Scan(ctx context.Context, fn func(rec *models.EnrollmentRecord) error) error {
	return s.scan(ctx, fn, sqliteScanQuery+` ORDER BY e.identity_id, d.seq`)
}

func (s *SQLiteStore) ScanSince(ctx context.Context, since time.Time, fn func(rec *models.EnrollmentRecord) error) error {
	if since.IsZero() {
		return s.Scan(ctx, fn)
	}
	return s.scan(ctx, fn, sqliteScanQuery+` WHERE e.updated_at >= ? ORDER BY e.identity_id, d.seq`, since.UnixNano())
}

func (s *SQLiteStore) scan(ctx context.Context, fn func(rec *models.EnrollmentRecord) error, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return failure("scan enrollments", err)
	}
	defer rows.Close()

	g := &recordGrouper{fn: fn}
	for rows.Next() {
		var head models.EnrollmentRecord
		var created, updated int64
		var vec pgvector.Vector
		if err := rows.Scan(&head.IdentityID, &head.Profile.DisplayName, &head.Profile.Category,
			&head.Profile.Department, &created, &updated, &vec); err != nil {
			return failure("scan enrollment row", err)
		}
		head.CreatedAt = time.Unix(0, created).UTC()
		head.UpdatedAt = time.Unix(0, updated).UTC()
		if err := g.add(head, descriptor.Vector(vec.Slice())); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return failure("scan enrollments", err)
	}
	return g.flush()
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.EnrollmentRecord, error) {
	return collect(ctx, s)
}

func (s *SQLiteStore) Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity_id, display_name, category, department FROM enrollments
		 WHERE identity_id IN (`+placeholders+`)`, args...)
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

type sqliteHistory struct {
	tx         *sql.Tx
	identityID string
}

func (h *sqliteHistory) Last(ctx context.Context) (*models.AttendanceEvent, error) {
	row := h.tx.QueryRowContext(ctx,
		`SELECT id, identity_id, timestamp, match_distance, image_ref, created_at
		 FROM attendance_events WHERE identity_id = ? ORDER BY timestamp DESC LIMIT 1`, h.identityID)
	ev, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, failure("last event", err)
	}
	return ev, nil
}

func (h *sqliteHistory) Append(ctx context.Context, ev *models.AttendanceEvent) error {
	if ev.IdentityID != h.identityID {
		return descriptor.Invalid("identityId", "event for %q appended to history of %q", ev.IdentityID, h.identityID)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := h.tx.ExecContext(ctx,
		`INSERT INTO attendance_events (id, identity_id, timestamp, match_distance, image_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.IdentityID, ev.Timestamp.UnixNano(), ev.MatchDistance, ev.ImageRef, ev.CreatedAt.UnixNano())
	if err != nil {
		return failure("insert event", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(row rowScanner) (*models.AttendanceEvent, error) {
	var ev models.AttendanceEvent
	var id string
	var ts, created int64
	if err := row.Scan(&id, &ev.IdentityID, &ts, &ev.MatchDistance, &ev.ImageRef, &created); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", id, err)
	}
	ev.ID = parsed
	ev.Timestamp = time.Unix(0, ts).UTC()
	ev.CreatedAt = time.Unix(0, created).UTC()
	return &ev, nil
}

func (s *SQLiteStore) WithIdentity(ctx context.Context, identityID string, fn func(h History) error) error {
	var fnErr error
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		fnErr = fn(&sqliteHistory{tx: tx, identityID: identityID})
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

func (s *SQLiteStore) ListEvents(ctx context.Context, q models.EventQuery) ([]models.AttendanceEvent, int, error) {
	q.Normalize()

	var where []string
	var args []any
	if q.IdentityID != "" {
		where = append(where, "identity_id = ?")
		args = append(args, q.IdentityID)
	}
	if q.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, q.From.UnixNano())
	}
	if q.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, q.To.UnixNano())
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance_events "+clause, args...).Scan(&total); err != nil {
		return nil, 0, failure("count events", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity_id, timestamp, match_distance, image_ref, created_at
		 FROM attendance_events `+clause+` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, failure("query events", err)
	}
	defer rows.Close()

	events := []models.AttendanceEvent{}
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
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

func (s *SQLiteStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity_id, timestamp, match_distance, image_ref, created_at
		 FROM attendance_events WHERE id = ?`, id.String())
	ev, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, failure("get event", err)
	}
	return ev, nil
}
