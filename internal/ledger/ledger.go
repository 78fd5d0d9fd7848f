package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
)

// DefaultCooldown is the minimum spacing between two events of one identity.
const DefaultCooldown = 60 * time.Second

// Result is the outcome of Record. Exactly one of Event and LastEventTimestamp is set.
type Result struct {
	// Event is the newly written entry when the call was not debounced.
	Event *models.AttendanceEvent
	// LastEventTimestamp is the timestamp of the event that suppressed this call.
	LastEventTimestamp time.Time
}

// Debounced reports whether the call was suppressed by the cooldown.
func (r Result) Debounced() bool { return r.Event == nil }

// Ledger is the append-only attendance log with per-identity debounce.
type Ledger struct {
	log      storage.EventLog
	cooldown time.Duration
}

func New(log storage.EventLog, cooldown time.Duration) *Ledger {
	return &Ledger{log: log, cooldown: cooldown}
}

func (l *Ledger) Cooldown() time.Duration { return l.cooldown }

// Record appends an event for identityID at now unless that identity already has
// an event less than the cooldown before now. The check and the append run under
// the identity's critical section, so concurrent calls for one identity produce
// at most one event per cooldown window.
func (l *Ledger) Record(ctx context.Context, identityID string, distance float64, imageRef string, now time.Time) (Result, error) {
	if strings.TrimSpace(identityID) == "" {
		return Result{}, descriptor.Invalid("identityId", "must not be empty")
	}
	if now.IsZero() {
		return Result{}, descriptor.Invalid("timestamp", "must be set")
	}

	var res Result
	err := l.log.WithIdentity(ctx, identityID, func(h storage.History) error {
		last, err := h.Last(ctx)
		if err != nil {
			return err
		}
		// A last event at or after now (clock skew) also falls inside the window.
		if last != nil && now.Sub(last.Timestamp) < l.cooldown {
			res = Result{LastEventTimestamp: last.Timestamp}
			return nil
		}

		ev := &models.AttendanceEvent{
			ID:            uuid.New(),
			IdentityID:    identityID,
			Timestamp:     now,
			MatchDistance: distance,
			ImageRef:      imageRef,
		}
		if err := h.Append(ctx, ev); err != nil {
			return err
		}
		res = Result{Event: ev}
		return nil
	})
	if err != nil {
		observability.LedgerWrites.WithLabelValues("error").Inc()
		return Result{}, err
	}

	if res.Debounced() {
		observability.LedgerWrites.WithLabelValues("debounced").Inc()
	} else {
		observability.LedgerWrites.WithLabelValues("recorded").Inc()
	}
	return res, nil
}

// List returns events matching q, newest first, with the unpaged total.
func (l *Ledger) List(ctx context.Context, q models.EventQuery) ([]models.AttendanceEvent, int, error) {
	return l.log.ListEvents(ctx, q)
}

// Get returns (nil, nil) when no event has that id.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	return l.log.GetEvent(ctx, id)
}
