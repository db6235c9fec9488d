package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/models"
)

// Policy decides which attendance event, if any, a recognition produces.
type Policy func(match models.MatchResult, at time.Time) *models.AttendanceEvent

// PolicyOff never records attendance.
func PolicyOff(models.MatchResult, time.Time) *models.AttendanceEvent {
	return nil
}

// PolicyCheckIn checks in every confident match.
func PolicyCheckIn(match models.MatchResult, at time.Time) *models.AttendanceEvent {
	if !match.Known() {
		return nil
	}
	return &models.AttendanceEvent{IdentityID: match.IdentityID, Type: models.CheckIn, At: at}
}

// PolicyByName resolves the attendance.auto_mark setting.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "off":
		return PolicyOff, nil
	case "check_in":
		return PolicyCheckIn, nil
	default:
		return nil, fmt.Errorf("unknown auto-mark policy %q", name)
	}
}

// Recorder is the ledger operation a Marker drives.
type Recorder interface {
	Record(ctx context.Context, identityID string, event models.EventType, at time.Time) (Outcome, error)
}

// Marker feeds recognitions through a Policy into the ledger. An identity is
// submitted at most once per cooldown.
type Marker struct {
	ledger   Recorder
	policy   Policy
	cooldown time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewMarker(ledger Recorder, policy Policy, cooldown time.Duration) *Marker {
	if policy == nil {
		policy = PolicyOff
	}
	return &Marker{
		ledger:   ledger,
		policy:   policy,
		cooldown: cooldown,
		lastSeen: make(map[string]time.Time),
	}
}

// Observe applies the policy to one match. It returns nil when nothing was
// submitted to the ledger.
func (m *Marker) Observe(ctx context.Context, match models.MatchResult, at time.Time) (*models.AttendanceEvent, *Outcome, error) {
	ev := m.policy(match, at)
	if ev == nil {
		return nil, nil, nil
	}
	if !m.admit(ev.IdentityID, ev.At) {
		return nil, nil, nil
	}

	out, err := m.ledger.Record(ctx, ev.IdentityID, ev.Type, ev.At)
	if err != nil {
		m.forget(ev.IdentityID)
		return ev, nil, err
	}
	return ev, &out, nil
}

func (m *Marker) admit(identityID string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastSeen[identityID]; ok && at.Sub(last) < m.cooldown {
		return false
	}
	m.lastSeen[identityID] = at

	// Drop stale entries so the map tracks only recently seen faces.
	if len(m.lastSeen) > 1024 {
		for id, t := range m.lastSeen {
			if at.Sub(t) >= m.cooldown {
				delete(m.lastSeen, id)
			}
		}
	}
	return true
}

func (m *Marker) forget(identityID string) {
	m.mu.Lock()
	delete(m.lastSeen, identityID)
	m.mu.Unlock()
}
