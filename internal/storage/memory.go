package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/models"
)

// MemoryStore keeps identities and attendance in process memory. It honours
// the same key constraints as PostgresStore.
type MemoryStore struct {
	mu         sync.RWMutex
	identities []models.Identity
	attendance map[string]models.AttendanceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attendance: make(map[string]models.AttendanceRecord)}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) ListIdentities(_ context.Context) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Identity, len(s.identities))
	for i, id := range s.identities {
		out[i] = cloneIdentity(id)
	}
	return out, nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, identityID string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.identities {
		if id.IdentityID == identityID {
			c := cloneIdentity(id)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CountIdentities(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities), nil
}

func (s *MemoryStore) InsertIdentity(_ context.Context, id models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if existing.IdentityID == id.IdentityID {
			return fmt.Errorf("insert identity %s: %w", id.IdentityID, ErrDuplicateKey)
		}
	}
	if id.EnrolledAt.IsZero() {
		id.EnrolledAt = time.Now()
	}
	s.identities = append(s.identities, cloneIdentity(id))
	return nil
}

func (s *MemoryStore) DeleteIdentity(_ context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.identities, func(id models.Identity) bool {
		return id.IdentityID == identityID
	})
	if idx < 0 {
		return 0, nil
	}
	s.identities = slices.Delete(s.identities, idx, idx+1)
	s.deleteAttendanceLocked(identityID)
	return 1, nil
}

func (s *MemoryStore) FindAttendance(_ context.Context, identityID string, day time.Time) (*models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.attendance[attendanceKey(identityID, day)]
	if !ok {
		return nil, nil
	}
	c := cloneRecord(r)
	return &c, nil
}

func (s *MemoryStore) InsertAttendance(_ context.Context, rec models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasIdentityLocked(rec.IdentityID) {
		return fmt.Errorf("insert attendance %s: %w", rec.IdentityID, ErrMissingReference)
	}
	key := attendanceKey(rec.IdentityID, rec.Day)
	if _, ok := s.attendance[key]; ok {
		return fmt.Errorf("insert attendance %s: %w", rec.IdentityID, ErrDuplicateKey)
	}
	if rec.Status == "" {
		rec.Status = models.StatusPresent
	}
	rec.Day = models.DateOf(rec.Day, time.UTC)
	s.attendance[key] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) UpdateCheckout(_ context.Context, identityID string, day, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := attendanceKey(identityID, day)
	r, ok := s.attendance[key]
	if !ok || r.CheckOutTime != nil {
		return false, nil
	}
	if r.CheckInTime != nil && at.Before(*r.CheckInTime) {
		return false, fmt.Errorf("update checkout: check-out precedes check-in")
	}
	r.CheckOutTime = &at
	s.attendance[key] = r
	return true, nil
}

func (s *MemoryStore) ListAttendanceSince(_ context.Context, since time.Time) ([]models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := models.DateOf(since, time.UTC)
	var out []models.AttendanceRecord
	for _, r := range s.attendance {
		if !r.Day.Before(from) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.After(out[j].Day)
		}
		if out[i].CheckInTime != nil && out[j].CheckInTime != nil && !out[i].CheckInTime.Equal(*out[j].CheckInTime) {
			return out[i].CheckInTime.After(*out[j].CheckInTime)
		}
		return out[i].IdentityID < out[j].IdentityID
	})
	return out, nil
}

func (s *MemoryStore) DeleteAttendanceFor(_ context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAttendanceLocked(identityID), nil
}

func (s *MemoryStore) deleteAttendanceLocked(identityID string) int {
	n := 0
	for key, r := range s.attendance {
		if r.IdentityID == identityID {
			delete(s.attendance, key)
			n++
		}
	}
	return n
}

func (s *MemoryStore) hasIdentityLocked(identityID string) bool {
	return slices.ContainsFunc(s.identities, func(id models.Identity) bool {
		return id.IdentityID == identityID
	})
}

func attendanceKey(identityID string, day time.Time) string {
	return identityID + "|" + day.Format(time.DateOnly)
}

func cloneIdentity(id models.Identity) models.Identity {
	id.FeatureVector = slices.Clone(id.FeatureVector)
	return id
}

func cloneRecord(r models.AttendanceRecord) models.AttendanceRecord {
	if r.CheckInTime != nil {
		t := *r.CheckInTime
		r.CheckInTime = &t
	}
	if r.CheckOutTime != nil {
		t := *r.CheckOutTime
		r.CheckOutTime = &t
	}
	return r
}
