package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceEvent is an immutable ledger entry for an accepted identification.
type AttendanceEvent struct {
	ID            uuid.UUID `json:"id" db:"id"`
	IdentityID    string    `json:"identity_id" db:"identity_id"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	MatchDistance float64   `json:"match_distance" db:"match_distance"`
	ImageRef      string    `json:"image_ref,omitempty" db:"image_ref"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// EventQuery filters a ledger listing. Zero values mean "no filter".
type EventQuery struct {
	IdentityID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Normalize clamps paging to sane bounds.
func (q *EventQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// Matches reports whether ev passes the query filters (paging excluded).
func (q EventQuery) Matches(ev *AttendanceEvent) bool {
	if q.IdentityID != "" && ev.IdentityID != q.IdentityID {
		return false
	}
	if q.From != nil && ev.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && ev.Timestamp.After(*q.To) {
		return false
	}
	return true
}
