package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attendance/internal/models"
)

const (
	RecognitionsStreamName  = "RECOGNITIONS"
	RecognitionsSubjectBase = "recognitions"
	AttendanceStreamName    = "ATTENDANCE"
	AttendanceSubjectBase   = "attendance"

	// RegistrySubject is a plain NATS subject; a missed change is repaired by
	// the recognizer's periodic reload.
	RegistrySubject = "registry.changed"
)

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

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        RecognitionsStreamName,
			Subjects:    []string{RecognitionsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "Per-face recognition results from camera loops",
		},
		{
			Name:        AttendanceStreamName,
			Subjects:    []string{AttendanceSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Accepted check-in and check-out transitions",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

// PublishRecognition publishes one face decision under recognitions.<camera>.
func (p *Producer) PublishRecognition(ctx context.Context, ev models.RecognitionEvent) error {
	return p.publish(ctx, RecognitionsSubjectBase, ev.CameraID, ev)
}

// PublishAttendance publishes an accepted transition under attendance.<identity>.
func (p *Producer) PublishAttendance(ctx context.Context, n models.AttendanceNotice) error {
	return p.publish(ctx, AttendanceSubjectBase, n.IdentityID, n)
}

func (p *Producer) publish(ctx context.Context, base, key string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", base, err)
	}
	if _, err := p.js.Publish(ctx, Subject(base, key), payload); err != nil {
		return fmt.Errorf("publish %s: %w", base, err)
	}
	return nil
}

// NotifyRegistryChanged tells every recognizer to reload its gallery.
func (p *Producer) NotifyRegistryChanged(context.Context) error {
	if err := p.nc.Publish(RegistrySubject, nil); err != nil {
		return fmt.Errorf("publish registry change: %w", err)
	}
	return nil
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

// Subject joins base and a key made safe for a single subject token.
func Subject(base, key string) string {
	token := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, key)
	if token == "" {
		token = "_"
	}
	return base + "." + token
}
