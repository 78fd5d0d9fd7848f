package descriptor

import (
	"fmt"
	"math"
)

// DefaultDimension is the descriptor length produced by the face-api.js
// recognition net used by the kiosk page.
const DefaultDimension = 128

// Vector is a face descriptor produced by the external recognizer.
type Vector []float32

// ValidationError reports malformed or missing input. It is always recoverable
// and surfaced to the caller as a 4xx response.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError for the given field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks that v is a usable descriptor of exactly dim components.
func (v Vector) Validate(dim int) error {
	if len(v) == 0 {
		return Invalid("descriptor", "missing (no face detected?)")
	}
	if len(v) != dim {
		return Invalid("descriptor", "expected %d components, got %d", dim, len(v))
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Invalid("descriptor", "component %d is not a finite number", i)
		}
	}
	return nil
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Distance returns the Euclidean distance between a and b.
// Both vectors must have the same length; extra components of the longer one are ignored.
func Distance(a, b Vector) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// FromFloat64 converts a JSON-decoded number slice into a Vector.
func FromFloat64(xs []float64) Vector {
	if xs == nil {
		return nil
	}
	v := make(Vector, len(xs))
	for i, x := range xs {
		v[i] = float32(x)
	}
	return v
}
