package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/descriptor"
)

// scripted returns the given results in order, one per attempt.
func scripted(results ...descriptor.Vector) (Extractor, *int) {
	calls := 0
	return func(ctx context.Context) (descriptor.Vector, error) {
		i := calls
		calls++
		if i < len(results) {
			return results[i], nil
		}
		return nil, nil
	}, &calls
}

func testPolicy(attempts int, waits *[]time.Duration) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		},
	}
}

func TestCaptureFirstAttempt(t *testing.T) {
	var waits []time.Duration
	extract, calls := scripted(descriptor.Vector{1, 2})

	d, n, err := testPolicy(3, &waits).Capture(context.Background(), extract)
	require.NoError(t, err)
	assert.Equal(t, descriptor.Vector{1, 2}, d)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, waits)
}

func TestCaptureSucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	extract, _ := scripted(nil, nil, descriptor.Vector{0.5})

	d, n, err := testPolicy(5, &waits).Capture(context.Background(), extract)
	require.NoError(t, err)
	assert.Equal(t, descriptor.Vector{0.5}, d)
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, waits)
}

func TestCaptureGivesUpAfterMaxAttempts(t *testing.T) {
	var waits []time.Duration
	extract, calls := scripted()

	_, n, err := testPolicy(6, &waits).Capture(context.Background(), extract)
	require.ErrorIs(t, err, ErrNoFace)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, *calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
	}, waits, "backoff doubles up to the max interval")
}

func TestCaptureExtractorErrorAborts(t *testing.T) {
	var waits []time.Duration
	boom := errors.New("camera unplugged")
	calls := 0
	extract := func(ctx context.Context) (descriptor.Vector, error) {
		calls++
		return nil, boom
	}

	_, _, err := testPolicy(5, &waits).Capture(context.Background(), extract)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestCaptureHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts:     10,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	extract, calls := scripted()

	_, _, err := p.Capture(ctx, extract)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *calls)
}

func TestParseDescriptor(t *testing.T) {
	cases := []struct {
		in      string
		want    descriptor.Vector
		wantErr bool
	}{
		{"", nil, false},
		{"  \n", nil, false},
		{"null", nil, false},
		{"[]", descriptor.Vector{}, false},
		{"[0.25, -1, 3]\n", descriptor.Vector{0.25, -1, 3}, false},
		{"not json", nil, true},
	}
	for _, tc := range cases {
		got, err := ParseDescriptor([]byte(tc.in))
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, len(tc.want), len(got), tc.in)
		if len(tc.want) > 0 {
			assert.Equal(t, tc.want, got)
		}
	}
}
