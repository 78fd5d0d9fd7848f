package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/capture"
	"github.com/your-org/attendance/internal/descriptor"
)

// obtainDescriptor reads --descriptor or runs --recognizer under the capture retry policy.
func obtainDescriptor(ctx context.Context, cmd *cobra.Command) ([]float64, error) {
	file := mustGetString(cmd, "descriptor")
	recognizer := mustGetString(cmd, "recognizer")

	var d descriptor.Vector
	switch {
	case file != "" && recognizer != "":
		return nil, errors.New("use either --descriptor or --recognizer, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read descriptor: %w", err)
		}
		if d, err = capture.ParseDescriptor(data); err != nil {
			return nil, err
		}
		if len(d) == 0 {
			return nil, capture.ErrNoFace
		}
	case recognizer != "":
		fields := strings.Fields(recognizer)
		if len(fields) == 0 {
			return nil, errors.New("--recognizer is blank")
		}
		policy := capture.DefaultPolicy()
		policy.MaxAttempts = mustGetInt(cmd, "attempts")

		var attempts int
		var err error
		d, attempts, err = policy.Capture(ctx, capture.CommandExtractor(fields[0], fields[1:]...))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "face captured after %d attempt(s)\n", attempts)
	default:
		return nil, errors.New("one of --descriptor or --recognizer is required")
	}

	out := make([]float64, len(d))
	for i, x := range d {
		out[i] = float64(x)
	}
	return out, nil
}
