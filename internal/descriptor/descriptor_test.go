package descriptor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 0},
		{"unit axis", Vector{0, 0, 0}, Vector{1, 0, 0}, 1},
		{"three four five", Vector{0, 0}, Vector{3, 4}, 5},
		{"symmetric", Vector{3, 4}, Vector{0, 0}, 5},
		{"empty", Vector{}, Vector{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		v       Vector
		dim     int
		wantErr bool
	}{
		{"ok", Vector{0.1, 0.2, 0.3}, 3, false},
		{"nil means no face", nil, 3, true},
		{"too short", Vector{0.1, 0.2}, 3, true},
		{"too long", Vector{0.1, 0.2, 0.3, 0.4}, 3, true},
		{"nan", Vector{0.1, float32(math.NaN()), 0.3}, 3, true},
		{"inf", Vector{0.1, float32(math.Inf(1)), 0.3}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate(tt.dim)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "expected ValidationError, got %T", err)
			assert.Equal(t, "descriptor", ve.Field)
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	v := Vector{1, 2, 3}
	c := v.Clone()
	c[0] = 42
	assert.Equal(t, float32(1), v[0])
	assert.Nil(t, Vector(nil).Clone())
}

func TestFromFloat64(t *testing.T) {
	assert.Equal(t, Vector{0.5, -1}, FromFloat64([]float64{0.5, -1}))
	assert.Nil(t, FromFloat64(nil))
}
