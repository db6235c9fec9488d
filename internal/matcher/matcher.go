// Package matcher turns a probe vector into an identity decision.
package matcher

import (
	"fmt"
	"math"

	"github.com/your-org/attendance/internal/index"
	"github.com/your-org/attendance/internal/models"
)

// DefaultTolerance is the largest accepted distance, in encoder units.
const DefaultTolerance = 0.6

// Gallery is the nearest-neighbour source the matcher consults.
type Gallery interface {
	Nearest(probe []float32, k int) ([]index.Neighbor, error)
}

// Matcher accepts the single nearest gallery member when it lies within
// tolerance. Other members inside tolerance are not consulted, so two
// look-alikes resolve to whichever is nearer (or enrolled first on a tie).
type Matcher struct {
	gallery   Gallery
	tolerance float64
}

// New returns a matcher. A negative or NaN tolerance selects
// DefaultTolerance; 0 accepts exact matches only.
func New(gallery Gallery, tolerance float64) *Matcher {
	if !(tolerance >= 0) {
		tolerance = DefaultTolerance
	}
	return &Matcher{gallery: gallery, tolerance: tolerance}
}

// Tolerance returns the acceptance threshold.
func (m *Matcher) Tolerance() float64 {
	return m.tolerance
}

// Identify returns the decision for probe. An empty gallery or a nearest
// neighbour outside tolerance yields an Unknown result, not an error.
func (m *Matcher) Identify(probe []float32) (models.MatchResult, error) {
	nearest, err := m.gallery.Nearest(probe, 1)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("query gallery: %w", err)
	}
	if len(nearest) == 0 {
		return models.MatchResult{}, nil
	}

	best := nearest[0]
	if math.IsNaN(best.Distance) || math.IsInf(best.Distance, 0) {
		// Not encodable as JSON, so report a bare Unknown.
		return models.MatchResult{}, nil
	}
	if best.Distance > m.tolerance {
		return models.MatchResult{Distance: best.Distance}, nil
	}

	return models.MatchResult{
		IdentityID:  best.IdentityID,
		DisplayName: best.DisplayName,
		Distance:    best.Distance,
		IsConfident: true,
	}, nil
}
