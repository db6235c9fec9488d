package models

import (
	"image"
	"time"
)

// Identity is one enrolled person. Identities are never mutated; re-enrollment
// is removal followed by a fresh enrollment.
type Identity struct {
	IdentityID    string    `json:"identity_id" db:"identity_id"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	ContactEmail  string    `json:"contact_email" db:"contact_email"`
	Department    string    `json:"department" db:"department"`
	FeatureVector []float32 `json:"-" db:"feature_vector"`
	EnrolledAt    time.Time `json:"enrolled_at" db:"enrolled_at"`
}

// Face is one face found by the encoder: where it is and its feature vector.
type Face struct {
	Region image.Rectangle
	Vector []float32
}

// MatchResult is the matcher's decision for one probe vector.
// An empty IdentityID means Unknown.
type MatchResult struct {
	IdentityID  string  `json:"identity_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Distance    float64 `json:"distance"`
	IsConfident bool    `json:"is_confident"`
}

// Known reports whether the result names an identity.
func (m MatchResult) Known() bool {
	return m.IdentityID != ""
}

// Label is what an overlay shows for the result.
func (m MatchResult) Label() string {
	if !m.Known() {
		return "Unknown"
	}
	return m.DisplayName
}
