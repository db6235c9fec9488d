package models

import (
	"time"

	"github.com/google/uuid"
)

// RecognitionEvent is published for every face seen by a camera loop.
type RecognitionEvent struct {
	ID          uuid.UUID `json:"id"`
	CameraID    string    `json:"camera_id"`
	Timestamp   time.Time `json:"timestamp"`
	BBox        [4]int    `json:"bbox"` // x1, y1, x2, y2 in original frame pixels
	IdentityID  string    `json:"identity_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Distance    float64   `json:"distance"`
	Confident   bool      `json:"confident"`
}

// SourceAPI marks attendance recorded through the HTTP API rather than a camera.
const SourceAPI = "api"

// AttendanceNotice is published after the ledger accepts a transition.
type AttendanceNotice struct {
	IdentityID string    `json:"identity_id"`
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
	Source     string    `json:"source"` // SourceAPI or a camera id
}
