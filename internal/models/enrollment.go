package models

import (
	"time"

	"github.com/your-org/attendance/internal/descriptor"
)

// Profile is the opaque metadata attached to an enrolled identity.
type Profile struct {
	DisplayName string `json:"display_name" db:"display_name"`
	Category    string `json:"category" db:"category"`
	Department  string `json:"department" db:"department"`
}

// EnrollmentRecord is one identity with every reference sample captured for it.
type EnrollmentRecord struct {
	IdentityID  string              `json:"identity_id" db:"identity_id"`
	Profile     Profile             `json:"profile"`
	Descriptors []descriptor.Vector `json:"-" db:"descriptor"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" db:"updated_at"`
}

// SampleCount returns how many reference descriptors are enrolled.
func (r *EnrollmentRecord) SampleCount() int {
	return len(r.Descriptors)
}

// Clone returns a deep copy, so callers can't mutate store-owned samples.
func (r *EnrollmentRecord) Clone() *EnrollmentRecord {
	out := *r
	out.Descriptors = make([]descriptor.Vector, len(r.Descriptors))
	for i, d := range r.Descriptors {
		out.Descriptors[i] = d.Clone()
	}
	return &out
}
