package recognition

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/models"
)

// Publisher carries frame results to other processes.
type Publisher interface {
	PublishRecognition(ctx context.Context, ev models.RecognitionEvent) error
	PublishAttendance(ctx context.Context, n models.AttendanceNotice) error
}

// Observer turns a match into an attendance transition.
type Observer interface {
	Observe(ctx context.Context, match models.MatchResult, at time.Time) (*models.AttendanceEvent, *attendance.Outcome, error)
}

// Sink is the loop Handler of the recognizer: every face is published, then
// offered to the attendance observer. Failures are logged and never stop
// the loop.
type Sink struct {
	Publisher Publisher // optional
	Observer  Observer  // optional
}

func (s *Sink) Handle(ctx context.Context, frame Frame) {
	for _, r := range frame.Recognitions {
		ev := models.RecognitionEvent{
			ID:          uuid.New(),
			CameraID:    frame.CameraID,
			Timestamp:   frame.Timestamp,
			BBox:        r.BBox(),
			IdentityID:  r.Match.IdentityID,
			DisplayName: r.Match.DisplayName,
			Distance:    r.Match.Distance,
			Confident:   r.Match.IsConfident,
		}
		if s.Publisher != nil {
			if err := s.Publisher.PublishRecognition(ctx, ev); err != nil {
				slog.Warn("publish recognition", "camera_id", frame.CameraID, "error", err)
			}
		}

		if s.Observer == nil {
			continue
		}
		att, out, err := s.Observer.Observe(ctx, r.Match, frame.Timestamp)
		if err != nil {
			slog.Warn("mark attendance", "camera_id", frame.CameraID, "identity_id", r.Match.IdentityID, "error", err)
			continue
		}
		if out == nil || !out.Recorded {
			continue
		}

		slog.Info("attendance recorded",
			"camera_id", frame.CameraID,
			"identity_id", att.IdentityID,
			"type", att.Type,
		)
		if s.Publisher != nil {
			n := models.AttendanceNotice{IdentityID: att.IdentityID, Type: att.Type, At: att.At, Source: frame.CameraID}
			if err := s.Publisher.PublishAttendance(ctx, n); err != nil {
				slog.Warn("publish attendance notice", "identity_id", att.IdentityID, "error", err)
			}
		}
	}
}
