// Package index holds the in-memory gallery of enrolled feature vectors.
//
// The gallery is an immutable snapshot behind an atomic pointer. Rebuild
// builds a fresh snapshot and swaps it in under a writer lock; Nearest reads
// whichever snapshot is current without locking, so a reader never observes a
// half-built gallery.
package index

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/your-org/attendance/internal/apperr"
	"github.com/your-org/attendance/internal/models"
)

var (
	ErrDimensionMismatch = apperr.New(apperr.ErrValidation, "dimension_mismatch", "feature vector has the wrong dimension")
	ErrInvalidGallery    = apperr.New(apperr.ErrValidation, "invalid_gallery", "gallery contains an invalid identity")
)

// Neighbor is one query result.
type Neighbor struct {
	IdentityID  string
	DisplayName string
	Distance    float64
}

type entry struct {
	id     string
	name   string
	vector []float32
}

type snapshot struct {
	dim     int
	entries []entry
}

// Index is a flat, exact nearest-neighbour index. Safe for concurrent use.
type Index struct {
	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[snapshot]
}

// New returns an empty index for vectors of length dim. A dim of 0 means the
// dimension is taken from the first non-empty Rebuild.
func New(dim int) *Index {
	idx := &Index{}
	idx.snap.Store(&snapshot{dim: dim})
	return idx
}

// Rebuild replaces the whole gallery. Identities keep their given order,
// which is the tie-break order for Nearest. On error the previous gallery
// stays in place.
func (x *Index) Rebuild(identities []models.Identity) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.snap.Load().dim
	next := &snapshot{dim: dim, entries: make([]entry, 0, len(identities))}
	seen := make(map[string]struct{}, len(identities))

	for _, ident := range identities {
		if ident.IdentityID == "" {
			return fmt.Errorf("%w: empty identity id", ErrInvalidGallery)
		}
		if _, dup := seen[ident.IdentityID]; dup {
			return fmt.Errorf("%w: duplicate identity %q", ErrInvalidGallery, ident.IdentityID)
		}
		if len(ident.FeatureVector) == 0 {
			return fmt.Errorf("%w: identity %q has no feature vector", ErrInvalidGallery, ident.IdentityID)
		}
		if next.dim == 0 {
			next.dim = len(ident.FeatureVector)
		}
		if len(ident.FeatureVector) != next.dim {
			return fmt.Errorf("%w: identity %q has %d values, want %d",
				ErrDimensionMismatch, ident.IdentityID, len(ident.FeatureVector), next.dim)
		}
		if !Finite(ident.FeatureVector) {
			return fmt.Errorf("%w: identity %q has a non-finite feature value", ErrInvalidGallery, ident.IdentityID)
		}
		seen[ident.IdentityID] = struct{}{}
		next.entries = append(next.entries, newEntry(ident))
	}

	x.snap.Store(next)
	return nil
}

// Add appends one identity to the current gallery.
func (x *Index) Add(ident models.Identity) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	switch {
	case ident.IdentityID == "":
		return fmt.Errorf("%w: empty identity id", ErrInvalidGallery)
	case len(ident.FeatureVector) == 0:
		return fmt.Errorf("%w: identity %q has no feature vector", ErrInvalidGallery, ident.IdentityID)
	case cur.dim != 0 && len(ident.FeatureVector) != cur.dim:
		return fmt.Errorf("%w: identity %q has %d values, want %d",
			ErrDimensionMismatch, ident.IdentityID, len(ident.FeatureVector), cur.dim)
	case !Finite(ident.FeatureVector):
		return fmt.Errorf("%w: identity %q has a non-finite feature value", ErrInvalidGallery, ident.IdentityID)
	}
	for _, e := range cur.entries {
		if e.id == ident.IdentityID {
			return fmt.Errorf("%w: duplicate identity %q", ErrInvalidGallery, ident.IdentityID)
		}
	}

	next := &snapshot{dim: cur.dim, entries: make([]entry, 0, len(cur.entries)+1)}
	if next.dim == 0 {
		next.dim = len(ident.FeatureVector)
	}
	next.entries = append(append(next.entries, cur.entries...), newEntry(ident))
	x.snap.Store(next)
	return nil
}

// Remove drops id from the current gallery and reports whether it was present.
func (x *Index) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	i := slices.IndexFunc(cur.entries, func(e entry) bool { return e.id == id })
	if i < 0 {
		return false
	}
	next := &snapshot{dim: cur.dim, entries: slices.Delete(slices.Clone(cur.entries), i, i+1)}
	x.snap.Store(next)
	return true
}

func newEntry(ident models.Identity) entry {
	vec := make([]float32, len(ident.FeatureVector))
	copy(vec, ident.FeatureVector)
	return entry{id: ident.IdentityID, name: ident.DisplayName, vector: vec}
}

// Finite reports whether every value of v is a real number.
func Finite(v []float32) bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}

// Nearest returns up to k neighbours of probe by ascending Euclidean
// distance. Equal distances keep gallery order.
func (x *Index) Nearest(probe []float32, k int) ([]Neighbor, error) {
	s := x.snap.Load()

	if s.dim != 0 && len(probe) != s.dim {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(probe), s.dim)
	}
	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}

	if k == 1 {
		best := 0
		bestDist := euclidean(probe, s.entries[0].vector)
		for i := 1; i < len(s.entries); i++ {
			if d := euclidean(probe, s.entries[i].vector); d < bestDist {
				best, bestDist = i, d
			}
		}
		e := s.entries[best]
		return []Neighbor{{IdentityID: e.id, DisplayName: e.name, Distance: bestDist}}, nil
	}

	all := make([]Neighbor, len(s.entries))
	for i, e := range s.entries {
		all[i] = Neighbor{IdentityID: e.id, DisplayName: e.name, Distance: euclidean(probe, e.vector)}
	}
	slices.SortStableFunc(all, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if k < len(all) {
		all = all[:k]
	}
	return all, nil
}

// Len returns the gallery size.
func (x *Index) Len() int {
	return len(x.snap.Load().entries)
}

// Dimension returns the fixed vector length, 0 if not yet known.
func (x *Index) Dimension() int {
	return x.snap.Load().dim
}

// Contains reports whether id is in the current gallery.
func (x *Index) Contains(id string) bool {
	for _, e := range x.snap.Load().entries {
		if e.id == id {
			return true
		}
	}
	return false
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
