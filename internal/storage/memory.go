package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
)

// MemoryStore keeps everything in process memory. It is used by tests and by
// the "memory" driver for demos; nothing survives a restart.
type MemoryStore struct {
	dim int
	now func() time.Time

	mu      sync.RWMutex
	records map[string]*models.EnrollmentRecord
	events  map[string][]models.AttendanceEvent
	byID    map[uuid.UUID]models.AttendanceEvent

	enrollLocks keyedMutex
	ledgerLocks keyedMutex
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:     dim,
		now:     time.Now,
		records: make(map[string]*models.EnrollmentRecord),
		events:  make(map[string][]models.AttendanceEvent),
		byID:    make(map[uuid.UUID]models.AttendanceEvent),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

// --- Enrollments ---

func (s *MemoryStore) Put(ctx context.Context, identityID string, profile models.Profile, d descriptor.Vector) (*models.EnrollmentRecord, error) {
	if err := validateWrite(identityID, profile, []descriptor.Vector{d}, s.dim); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.enrollLocks.Lock(identityID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[identityID]
	if !ok {
		rec = &models.EnrollmentRecord{IdentityID: identityID, CreatedAt: now}
		s.records[identityID] = rec
	}
	rec.Profile = profile
	rec.Descriptors = append(rec.Descriptors, d.Clone())
	rec.UpdatedAt = now

	return rec.Clone(), nil
}

func (s *MemoryStore) Replace(ctx context.Context, identityID string, profile models.Profile, ds []descriptor.Vector) (*models.EnrollmentRecord, error) {
	if err := validateWrite(identityID, profile, ds, s.dim); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.enrollLocks.Lock(identityID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[identityID]
	if !ok {
		rec = &models.EnrollmentRecord{IdentityID: identityID, CreatedAt: now}
		s.records[identityID] = rec
	}
	rec.Profile = profile
	rec.Descriptors = make([]descriptor.Vector, len(ds))
	for i, d := range ds {
		rec.Descriptors[i] = d.Clone()
	}
	rec.UpdatedAt = now

	return rec.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, identityID string) (*models.EnrollmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[identityID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Scan(ctx context.Context, fn func(rec *models.EnrollmentRecord) error) error {
	return s.ScanSince(ctx, time.Time{}, fn)
}

func (s *MemoryStore) ScanSince(ctx context.Context, since time.Time, fn func(rec *models.EnrollmentRecord) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id, rec := range s.records {
		if rec.UpdatedAt.Before(since) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := make([]*models.EnrollmentRecord, len(ids))
	for i, id := range ids {
		snapshot[i] = s.records[id].Clone()
	}
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.EnrollmentRecord, error) {
	return collect(ctx, s)
}

func (s *MemoryStore) Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out[id] = rec.Profile
		}
	}
	return out, nil
}

// --- Attendance events ---

type memHistory struct {
	s          *MemoryStore
	identityID string
	pending    []models.AttendanceEvent
}

func (h *memHistory) Last(ctx context.Context) (*models.AttendanceEvent, error) {
	if n := len(h.pending); n > 0 {
		ev := h.pending[n-1]
		return &ev, nil
	}

	h.s.mu.RLock()
	defer h.s.mu.RUnlock()

	evs := h.s.events[h.identityID]
	if len(evs) == 0 {
		return nil, nil
	}
	last := evs[0]
	for _, ev := range evs[1:] {
		if ev.Timestamp.After(last.Timestamp) {
			last = ev
		}
	}
	return &last, nil
}

func (h *memHistory) Append(ctx context.Context, ev *models.AttendanceEvent) error {
	if ev.IdentityID != h.identityID {
		return descriptor.Invalid("identityId", "event for %q appended to history of %q", ev.IdentityID, h.identityID)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = h.s.now()
	}
	h.pending = append(h.pending, *ev)
	return nil
}

func (s *MemoryStore) WithIdentity(ctx context.Context, identityID string, fn func(h History) error) error {
	unlock := s.ledgerLocks.Lock(identityID)
	defer unlock()

	h := &memHistory{s: s, identityID: identityID}
	if err := fn(h); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range h.pending {
		s.events[identityID] = append(s.events[identityID], ev)
		s.byID[ev.ID] = ev
	}
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, q models.EventQuery) ([]models.AttendanceEvent, int, error) {
	q.Normalize()

	s.mu.RLock()
	var matched []models.AttendanceEvent
	for _, ev := range s.byID {
		if q.Matches(&ev) {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	if q.Offset >= total {
		return []models.AttendanceEvent{}, total, nil
	}
	end := min(q.Offset+q.Limit, total)
	return matched[q.Offset:end], total, nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}
