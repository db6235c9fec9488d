package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attendance/internal/models"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

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

// ConsumeRecognitions delivers new recognition events to handler.
func (c *Consumer) ConsumeRecognitions(ctx context.Context, consumerName string, handler func(context.Context, models.RecognitionEvent) error) error {
	return c.consume(ctx, RecognitionsStreamName, RecognitionsSubjectBase, consumerName, decoding(handler))
}

// ConsumeAttendance delivers new attendance notices to handler.
func (c *Consumer) ConsumeAttendance(ctx context.Context, consumerName string, handler func(context.Context, models.AttendanceNotice) error) error {
	return c.consume(ctx, AttendanceStreamName, AttendanceSubjectBase, consumerName, decoding(handler))
}

// decoding adapts a typed handler. Undecodable messages are acked and dropped
// so they are not redelivered.
func decoding[T any](handler func(context.Context, T) error) MessageHandler {
	return func(ctx context.Context, msg jetstream.Msg) error {
		var v T
		if err := json.Unmarshal(msg.Data(), &v); err != nil {
			slog.Warn("drop undecodable message", "subject", msg.Subject(), "error", err)
			return nil
		}
		return handler(ctx, v)
	}
}

func (c *Consumer) consume(ctx context.Context, streamName, subjectBase, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", streamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: subjectBase + ".>",
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
				slog.Warn("fetch messages", "stream", streamName, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process message", "stream", streamName, "subject", msg.Subject(), "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("consumer started", "stream", streamName, "consumer", consumerName)
	return nil
}

// SubscribeRegistryChanges calls fn for every registry change notification
// until ctx is cancelled.
func (c *Consumer) SubscribeRegistryChanges(ctx context.Context, fn func()) error {
	sub, err := c.nc.Subscribe(RegistrySubject, func(*nats.Msg) { fn() })
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", RegistrySubject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
