package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/ledger"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/pkg/dto"
)

// State is the terminal state of one identification request.
type State int

const (
	StateRecorded State = iota
	StateDebounced
	StateMatchRejected
	StateAmbiguousRejected
	StateEmptyStoreRejected
)

func (s State) String() string {
	switch s {
	case StateRecorded:
		return "recorded"
	case StateDebounced:
		return "debounced"
	case StateMatchRejected:
		return "match_rejected"
	case StateAmbiguousRejected:
		return "ambiguous_rejected"
	case StateEmptyStoreRejected:
		return "empty_store_rejected"
	default:
		return "unknown"
	}
}

const publishTimeout = 5 * time.Second

type IdentifyRequest struct {
	Descriptor descriptor.Vector
	// Image is an optional data URL snapshot or opaque reference kept for audit.
	Image string
}

// Identification is the full outcome of a request. Callers only see Found();
// the rest is kept for audit and tests.
type Identification struct {
	State              State
	IdentityID         string
	Profile            models.Profile
	Distance           float64
	Candidates         []string
	Event              *models.AttendanceEvent
	LastEventTimestamp time.Time
}

// Found reports whether the request resolved to an identity, recorded or not.
func (i *Identification) Found() bool {
	return i.State == StateRecorded || i.State == StateDebounced
}

// Snapshots stores decoded snapshot images. Implemented by SnapshotStore.
type Snapshots interface {
	Upload(ctx context.Context, identityID string, snap *Snapshot) (string, error)
	Discard(ctx context.Context, key string) error
}

// Publisher fans recorded attendance events out to live listeners.
type Publisher interface {
	PublishAttendance(ctx context.Context, ev dto.AttendanceEventResponse) error
}

type IdentificationService struct {
	matcher   *matcher.Matcher
	ledger    *ledger.Ledger
	threshold float64

	// Optional collaborators; nil disables them.
	Snapshots Snapshots
	Publisher Publisher

	Now func() time.Time
}

func NewIdentificationService(m *matcher.Matcher, l *ledger.Ledger, threshold float64) *IdentificationService {
	return &IdentificationService{
		matcher:   m,
		ledger:    l,
		threshold: threshold,
		Now:       time.Now,
	}
}

// Identify matches req.Descriptor against the enrolled identities and, on an
// accepted match, records attendance. Rejections are states, not errors; errors
// are validation failures or storage failures, and a storage failure leaves no
// attendance event behind.
func (s *IdentificationService) Identify(ctx context.Context, req IdentifyRequest) (*Identification, error) {
	if err := req.Descriptor.Validate(s.matcher.Dimension()); err != nil {
		return nil, err
	}
	snap, isData, err := ParseDataURL(req.Image)
	if err != nil {
		return nil, err
	}

	now := s.Now()

	res, err := s.matcher.Identify(ctx, req.Descriptor, s.threshold)
	if err != nil {
		observability.Identifications.WithLabelValues("error").Inc()
		return nil, err
	}

	out := &Identification{Distance: res.Distance}
	switch res.Outcome {
	case matcher.OutcomeEmptyStore:
		out.State = StateEmptyStoreRejected
	case matcher.OutcomeNoMatch:
		out.State = StateMatchRejected
	case matcher.OutcomeAmbiguous:
		out.State = StateAmbiguousRejected
		out.Candidates = res.Candidates
	case matcher.OutcomeMatched:
		out.IdentityID = res.IdentityID
		out.Profile = res.Profile
		if err := s.record(ctx, out, req.Image, snap, isData, now); err != nil {
			observability.Identifications.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	observability.Identifications.WithLabelValues(out.State.String()).Inc()
	if res.Outcome != matcher.OutcomeEmptyStore && !math.IsInf(res.Distance, 0) {
		observability.MatchDistance.WithLabelValues(res.Outcome.String()).Observe(res.Distance)
	}
	s.log(out, res)

	return out, nil
}

func (s *IdentificationService) record(ctx context.Context, out *Identification, image string, snap *Snapshot, isData bool, now time.Time) error {
	imageRef := image
	uploaded := false
	if isData && s.Snapshots != nil {
		key, err := s.Snapshots.Upload(ctx, out.IdentityID, snap)
		if err != nil {
			slog.Warn("snapshot upload failed, recording without image",
				"identity_id", out.IdentityID, "error", err)
			imageRef = ""
		} else {
			imageRef = key
			uploaded = true
		}
	}

	rec, err := s.ledger.Record(ctx, out.IdentityID, out.Distance, imageRef, now)
	if err != nil {
		if uploaded {
			s.discard(ctx, imageRef)
		}
		return err
	}

	if rec.Debounced() {
		out.State = StateDebounced
		out.LastEventTimestamp = rec.LastEventTimestamp
		if uploaded {
			s.discard(ctx, imageRef)
		}
		return nil
	}

	out.State = StateRecorded
	out.Event = rec.Event
	s.publish(ctx, *rec.Event, out.Profile.DisplayName)
	return nil
}

func (s *IdentificationService) discard(ctx context.Context, key string) {
	if err := s.Snapshots.Discard(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("discard snapshot", "key", key, "error", err)
	}
}

// publish runs after the event is committed; a failure only costs the live feed.
func (s *IdentificationService) publish(ctx context.Context, ev models.AttendanceEvent, name string) {
	if s.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.Publisher.PublishAttendance(pubCtx, EventView(ev, name)); err != nil {
		slog.Error("publish attendance event", "event_id", ev.ID, "identity_id", ev.IdentityID, "error", err)
	}
}

func (s *IdentificationService) log(out *Identification, res matcher.Result) {
	attrs := []any{
		"state", out.State.String(),
		"records", res.Records,
		"samples", res.Samples,
	}
	if out.IdentityID != "" {
		attrs = append(attrs, "identity_id", out.IdentityID)
	}
	if res.Outcome != matcher.OutcomeEmptyStore && !math.IsInf(res.Distance, 0) {
		attrs = append(attrs, "distance", res.Distance)
	}
	if len(out.Candidates) > 0 {
		attrs = append(attrs, "candidates", out.Candidates)
	}
	if out.State == StateDebounced {
		attrs = append(attrs, "last_event", out.LastEventTimestamp)
	}
	slog.Info("identification", attrs...)
}

// EventView is the wire form of an attendance event, shared by the HTTP API,
// the websocket feed and the NATS payload. An inline data-URL snapshot is
// replaced by the path that serves it, keeping every payload small.
func EventView(ev models.AttendanceEvent, name string) dto.AttendanceEventResponse {
	imageRef := ev.ImageRef
	if IsInlineImage(imageRef) {
		imageRef = ImagePath(ev.ID)
	}
	return dto.AttendanceEventResponse{
		ID:          ev.ID,
		IdentityID:  ev.IdentityID,
		DisplayName: name,
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
		Distance:    ev.MatchDistance,
		ImageRef:    imageRef,
		CreatedAt:   ev.CreatedAt.UTC().Format(time.RFC3339),
	}
}
