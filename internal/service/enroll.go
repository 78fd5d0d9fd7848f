package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
)

type EnrollRequest struct {
	IdentityID string
	Profile    models.Profile
	Descriptor descriptor.Vector
}

// ReenrollRequest replaces every stored sample of an identity.
type ReenrollRequest struct {
	IdentityID  string
	Profile     models.Profile
	Descriptors []descriptor.Vector
}

type EnrollmentService struct {
	store storage.EnrollmentStore
	dim   int
	index *matcher.Index
}

// NewEnrollmentService writes through store. index may be nil when matching
// runs as a full scan.
func NewEnrollmentService(store storage.EnrollmentStore, dim int, index *matcher.Index) *EnrollmentService {
	return &EnrollmentService{store: store, dim: dim, index: index}
}

// Enroll adds one sample to an identity, creating it on first use.
// Repeated enrollment strengthens the reference set instead of replacing it.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.EnrollmentRecord, error) {
	id, profile, err := s.validate(req.IdentityID, req.Profile, []descriptor.Vector{req.Descriptor})
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Put(ctx, id, profile, req.Descriptor)
	if err != nil {
		return nil, err
	}

	kind := "append"
	if rec.SampleCount() == 1 {
		kind = "create"
	}
	observability.Enrollments.WithLabelValues(kind).Inc()
	slog.Info("enrolled", "identity_id", id, "kind", kind, "samples", rec.SampleCount())

	s.refreshIndex(ctx)
	return rec, nil
}

// Reenroll is the explicit replacement action.
func (s *EnrollmentService) Reenroll(ctx context.Context, req ReenrollRequest) (*models.EnrollmentRecord, error) {
	id, profile, err := s.validate(req.IdentityID, req.Profile, req.Descriptors)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Replace(ctx, id, profile, req.Descriptors)
	if err != nil {
		return nil, err
	}

	observability.Enrollments.WithLabelValues("replace").Inc()
	slog.Info("re-enrolled", "identity_id", id, "samples", rec.SampleCount())

	s.refreshIndex(ctx)
	return rec, nil
}

func (s *EnrollmentService) Get(ctx context.Context, identityID string) (*models.EnrollmentRecord, error) {
	return s.store.Get(ctx, strings.TrimSpace(identityID))
}

func (s *EnrollmentService) List(ctx context.Context) ([]models.EnrollmentRecord, error) {
	return s.store.List(ctx)
}

// Profiles resolves many identities at once; unknown ids are absent from the map.
func (s *EnrollmentService) Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	return s.store.Profiles(ctx, ids)
}

func (s *EnrollmentService) validate(identityID string, p models.Profile, ds []descriptor.Vector) (string, models.Profile, error) {
	id := strings.TrimSpace(identityID)
	if id == "" {
		return "", p, descriptor.Invalid("identityId", "must not be empty")
	}
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.Category = strings.TrimSpace(p.Category)
	p.Department = strings.TrimSpace(p.Department)
	if p.DisplayName == "" {
		return "", p, descriptor.Invalid("displayName", "must not be empty")
	}
	if len(ds) == 0 {
		return "", p, descriptor.Invalid("descriptor", "missing (no face detected?)")
	}
	for _, d := range ds {
		if err := d.Validate(s.dim); err != nil {
			return "", p, err
		}
	}
	return id, p, nil
}

// refreshIndex runs after a committed write. A failed rebuild leaves the
// previous snapshot in place until the next enrollment or periodic refresh.
func (s *EnrollmentService) refreshIndex(ctx context.Context) {
	if s.index == nil {
		return
	}
	if err := s.index.Rebuild(context.WithoutCancel(ctx), s.store); err != nil {
		slog.Warn("refresh matching index", "error", err)
	}
}
