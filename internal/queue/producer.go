package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attendance/pkg/dto"
)

const (
	AttendanceStreamName  = "ATTENDANCE"
	AttendanceSubjectBase = "attendance"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the ATTENDANCE stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        AttendanceStreamName,
		Subjects:    []string{AttendanceSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
		Description: "Recorded attendance events",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Subject is the per-identity subject an attendance event is published on.
func Subject(identityID string) string {
	return fmt.Sprintf("%s.%s", AttendanceSubjectBase, sanitizeToken(identityID))
}

// sanitizeToken maps characters NATS treats as subject syntax to '_'.
func sanitizeToken(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

// PublishAttendance publishes a recorded event. The event id doubles as the
// JetStream message id, so a retried publish is deduplicated by the stream.
func (p *Producer) PublishAttendance(ctx context.Context, ev dto.AttendanceEventResponse) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal attendance event: %w", err)
	}

	_, err = p.js.Publish(ctx, Subject(ev.IdentityID), payload, jetstream.WithMsgID(ev.ID.String()))
	if err != nil {
		return fmt.Errorf("publish attendance event: %w", err)
	}
	return nil
}

// StreamDepth returns the number of messages retained in the ATTENDANCE stream.
func (p *Producer) StreamDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, AttendanceStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
