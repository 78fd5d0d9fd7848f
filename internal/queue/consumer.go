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

// AttendanceHandler receives one decoded attendance event.
type AttendanceHandler func(ctx context.Context, ev dto.AttendanceEventResponse) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// DecodeAttendance parses a message published by Producer.PublishAttendance.
func DecodeAttendance(data []byte) (dto.AttendanceEventResponse, error) {
	var ev dto.AttendanceEventResponse
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode attendance event: %w", err)
	}
	return ev, nil
}

// ConsumeAttendance starts consuming attendance events (for the API to
// broadcast via WebSocket). Only events published after start are delivered.
func (c *Consumer) ConsumeAttendance(ctx context.Context, consumerName string, handler AttendanceHandler) error {
	stream, err := c.js.Stream(ctx, AttendanceStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AttendanceStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AttendanceSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch attendance events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				ev, err := DecodeAttendance(msg.Data())
				if err != nil {
					// a malformed payload never becomes valid on redelivery
					slog.Error("drop attendance message", "subject", msg.Subject(), "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process attendance event error", "event_id", ev.ID, "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("attendance consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
