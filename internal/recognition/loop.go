package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/your-org/attendance/internal/observability"
)

// FrameSource opens a camera.
type FrameSource interface {
	Open(ctx context.Context) (FrameStream, error)
}

// FrameStream yields frames until it fails or is closed.
type FrameStream interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Frame is one processed frame.
type Frame struct {
	CameraID     string
	Timestamp    time.Time
	Image        image.Image
	Recognitions []Recognition
}

// Handler receives every successfully processed frame.
type Handler func(ctx context.Context, frame Frame)

// Processor is the per-frame work of a Loop.
type Processor interface {
	Process(ctx context.Context, img image.Image) ([]Recognition, error)
}

// Loop reads one camera until its context is cancelled.
type Loop struct {
	CameraID    string
	Source      FrameSource
	Processor   Processor
	Handler     Handler
	MaxRestarts int
	Backoff     time.Duration
	Now         func() time.Time
}

// Run opens the source and processes frames until ctx is cancelled, which is
// not an error. Failing to open the source, initially or on reopen, is
// fatal. A read failure closes the stream and reopens it after Backoff, at
// most MaxRestarts times in a row. A frame that fails processing is logged
// and skipped.
func (l *Loop) Run(ctx context.Context) error {
	now := l.Now
	if now == nil {
		now = time.Now
	}

	stream, err := l.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { closeStream(stream) }()

	slog.Info("frame loop started", "camera_id", l.CameraID)
	restarts := 0

	for {
		if ctx.Err() != nil {
			slog.Info("frame loop stopped", "camera_id", l.CameraID)
			return nil
		}

		img, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if restarts >= l.MaxRestarts {
				return fmt.Errorf("read frame after %d restarts: %w", restarts, err)
			}
			restarts++
			slog.Warn("frame read failed, reopening source",
				"camera_id", l.CameraID, "attempt", restarts, "error", err)

			closeStream(stream)
			stream = nil
			if !sleep(ctx, l.Backoff) {
				return nil
			}
			stream, err = l.Source.Open(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("reopen source: %w", err)
			}
			continue
		}
		restarts = 0

		recs, err := l.Processor.Process(ctx, img)
		if err != nil {
			observability.FrameErrors.WithLabelValues(l.CameraID).Inc()
			slog.Warn("frame skipped", "camera_id", l.CameraID, "error", err)
			continue
		}
		observability.FramesProcessed.WithLabelValues(l.CameraID).Inc()

		if l.Handler != nil {
			l.Handler(ctx, Frame{
				CameraID:     l.CameraID,
				Timestamp:    now(),
				Image:        img,
				Recognitions: recs,
			})
		}
	}
}

func closeStream(s FrameStream) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		slog.Debug("close frame stream", "error", err)
	}
}

// sleep waits d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
