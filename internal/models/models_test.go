package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)

	// 22:30 UTC on the 1st is already the 2nd at UTC+3.
	at := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), DateOf(at, loc))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), DateOf(at, time.UTC))
}

func TestMatchResultLabel(t *testing.T) {
	assert.Equal(t, "Unknown", MatchResult{}.Label())
	assert.Equal(t, "Ada", MatchResult{IdentityID: "E1", DisplayName: "Ada"}.Label())
}
