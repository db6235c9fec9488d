package dto

import "time"

type RecognizedFace struct {
	BBox        [4]int  `json:"bbox"` // x1, y1, x2, y2
	IdentityID  string  `json:"identity_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Label       string  `json:"label"`
	Distance    float64 `json:"distance"`
	Confident   bool    `json:"confident"`
}

type RecognizeResponse struct {
	Faces []RecognizedFace `json:"faces"`
	Total int              `json:"total"`
}

// WS event kinds.
const (
	WSKindRecognition = "recognition"
	WSKindAttendance  = "attendance"
)

// WSEvent is pushed to WebSocket clients. Exactly one of Recognition and
// Attendance is set, matching Kind.
type WSEvent struct {
	Kind        string          `json:"kind"`
	CameraID    string          `json:"camera_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Recognition *RecognizedFace `json:"recognition,omitempty"`
	Attendance  *WSAttendance   `json:"attendance,omitempty"`
}

type WSAttendance struct {
	IdentityID string `json:"identity_id"`
	Type       string `json:"type"`
	Source     string `json:"source"`
}
