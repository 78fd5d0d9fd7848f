package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/your-org/attendance/internal/descriptor"
)

// ErrNoFace is returned when every attempt finished without a detected face.
var ErrNoFace = errors.New("no face detected")

// Extractor runs one detection attempt. It returns (nil, nil) when the frame
// had no face; an error aborts the capture without further attempts.
type Extractor func(ctx context.Context) (descriptor.Vector, error)

// Policy is a bounded retry with exponential backoff between attempts.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Sleep waits between attempts; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Sleep:           sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capture calls extract until it yields a descriptor or MaxAttempts is reached.
// It returns the descriptor and the number of attempts made.
func (p Policy) Capture(ctx context.Context, extract Extractor) (descriptor.Vector, int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	wait := p.Sleep
	if wait == nil {
		wait = sleep
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		d, err := extract(ctx)
		if err != nil {
			return nil, attempt, fmt.Errorf("capture attempt %d: %w", attempt, err)
		}
		if len(d) > 0 {
			return d, attempt, nil
		}
		if attempt >= maxAttempts {
			return nil, attempt, fmt.Errorf("%w after %d attempts", ErrNoFace, attempt)
		}

		next := exp.NextBackOff()
		slog.Debug("no face in frame, retrying", "attempt", attempt, "wait", next)
		if err := wait(ctx, next); err != nil {
			return nil, attempt, err
		}
	}
}

// CommandExtractor runs an external recognizer that prints the descriptor as
// a JSON number array on stdout. Empty output, "null" or "[]" means no face.
func CommandExtractor(name string, args ...string) Extractor {
	return func(ctx context.Context) (descriptor.Vector, error) {
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("run recognizer %s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return ParseDescriptor(stdout.Bytes())
	}
}

// ParseDescriptor decodes a JSON number array; blank input or null is no face.
func ParseDescriptor(data []byte) (descriptor.Vector, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var xs []float64
	if err := json.Unmarshal(data, &xs); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	return descriptor.FromFloat64(xs), nil
}
