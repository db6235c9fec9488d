// Package attendance records once-per-day check-in and check-out.
//
// Each (identity, day) pair moves NO_RECORD -> CHECKED_IN -> CHECKED_OUT.
// Transitions on one key are serialised by a keyed lock; different keys
// proceed independently.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/attendance/internal/apperr"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
)

var (
	ErrInvalidOrdering = apperr.New(apperr.ErrValidation, "invalid_ordering", "check-out time is before check-in time")
	ErrInvalidEvent    = apperr.New(apperr.ErrValidation, "invalid_event", "event type must be check_in or check_out")
	ErrMissingIdentity = apperr.New(apperr.ErrValidation, "missing_identity", "identity id is required")
	ErrUnknownIdentity = apperr.New(apperr.ErrNotFound, "unknown_identity", "identity is not enrolled")
)

// State of one (identity, day) key.
type State string

const (
	StateNoRecord   State = "NO_RECORD"
	StateCheckedIn  State = "CHECKED_IN"
	StateCheckedOut State = "CHECKED_OUT"
)

// Reason explains a rejected transition.
type Reason string

const (
	ReasonAlreadyRecorded Reason = "already_recorded"
	ReasonNotCheckedIn    Reason = "not_checked_in"
)

const (
	msgCheckedIn       = "Check-in recorded successfully"
	msgCheckedOut      = "Check-out recorded successfully"
	msgAlreadyRecorded = "Attendance already recorded for today"
	msgMustCheckIn     = "Must check-in first"
)

// Outcome is the result of one Record call. A rejected transition is a
// normal outcome with Recorded false, not an error.
type Outcome struct {
	Recorded bool                    `json:"success"`
	Reason   Reason                  `json:"reason,omitempty"`
	Message  string                  `json:"message"`
	State    State                   `json:"state"`
	Record   *models.AttendanceRecord `json:"record,omitempty"`
}

// Store is the persistent attendance contract.
type Store interface {
	FindAttendance(ctx context.Context, identityID string, day time.Time) (*models.AttendanceRecord, error)
	InsertAttendance(ctx context.Context, rec models.AttendanceRecord) error
	UpdateCheckout(ctx context.Context, identityID string, day, at time.Time) (bool, error)
	ListAttendanceSince(ctx context.Context, since time.Time) ([]models.AttendanceRecord, error)
	DeleteAttendanceFor(ctx context.Context, identityID string) (int, error)
}

// Roster answers questions about enrolled identities.
type Roster interface {
	GetIdentity(ctx context.Context, identityID string) (*models.Identity, error)
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	CountIdentities(ctx context.Context) (int, error)
}

// Ledger is the attendance state machine.
type Ledger struct {
	store  Store
	roster Roster
	loc    *time.Location
	window int
	locks  *keyedMutex
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocation sets the zone in which calendar days are computed.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithSummaryWindow sets the trailing window, in days, of the average.
func WithSummaryWindow(days int) Option {
	return func(l *Ledger) {
		if days > 0 {
			l.window = days
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// DefaultSummaryWindow is the trailing window of the daily average.
const DefaultSummaryWindow = 7

func NewLedger(store Store, roster Roster, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		roster: roster,
		loc:    time.Local,
		window: DefaultSummaryWindow,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Location returns the zone used for calendar days.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

// Today returns the current calendar day.
func (l *Ledger) Today() time.Time {
	return models.DateOf(l.now(), l.loc)
}

// Record applies one event to the key (identityID, day of at).
func (l *Ledger) Record(ctx context.Context, identityID string, event models.EventType, at time.Time) (Outcome, error) {
	if identityID == "" {
		return Outcome{}, ErrMissingIdentity
	}
	if !event.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}

	ident, err := l.roster.GetIdentity(ctx, identityID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get identity: %w", err)
	}
	if ident == nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, identityID)
	}

	day := models.DateOf(at, l.loc)
	unlock := l.locks.Lock(lockKey(identityID, day))
	defer unlock()

	rec, err := l.store.FindAttendance(ctx, identityID, day)
	if err != nil {
		return Outcome{}, fmt.Errorf("find attendance: %w", err)
	}

	var out Outcome
	switch {
	case rec == nil:
		out, err = l.fromNoRecord(ctx, identityID, day, event, at)
	case rec.CheckOutTime != nil:
		out = rejected(ReasonAlreadyRecorded, msgAlreadyRecorded, StateCheckedOut, rec)
	default:
		out, err = l.fromCheckedIn(ctx, rec, event, at)
	}
	if err != nil {
		return Outcome{}, err
	}

	result := "recorded"
	if !out.Recorded {
		result = string(out.Reason)
	}
	observability.AttendanceEvents.WithLabelValues(string(event), result).Inc()
	slog.Debug("attendance event", "identity_id", identityID, "type", event, "day", day.Format(time.DateOnly), "result", result)

	return out, nil
}

func (l *Ledger) fromNoRecord(ctx context.Context, identityID string, day time.Time, event models.EventType, at time.Time) (Outcome, error) {
	if event == models.CheckOut {
		return rejected(ReasonNotCheckedIn, msgMustCheckIn, StateNoRecord, nil), nil
	}

	checkIn := at
	rec := models.AttendanceRecord{
		IdentityID:  identityID,
		Day:         day,
		CheckInTime: &checkIn,
		Status:      models.StatusPresent,
	}
	if err := l.store.InsertAttendance(ctx, rec); err != nil {
		// Another process won the insert.
		if errors.Is(err, storage.ErrDuplicateKey) {
			return rejected(ReasonAlreadyRecorded, msgAlreadyRecorded, StateCheckedIn, nil), nil
		}
		// Removed after the roster check.
		if errors.Is(err, storage.ErrMissingReference) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, identityID)
		}
		return Outcome{}, fmt.Errorf("insert attendance: %w", err)
	}

	return Outcome{Recorded: true, Message: msgCheckedIn, State: StateCheckedIn, Record: &rec}, nil
}

func (l *Ledger) fromCheckedIn(ctx context.Context, rec *models.AttendanceRecord, event models.EventType, at time.Time) (Outcome, error) {
	if event == models.CheckIn {
		return rejected(ReasonAlreadyRecorded, msgAlreadyRecorded, StateCheckedIn, rec), nil
	}
	if rec.CheckInTime != nil && at.Before(*rec.CheckInTime) {
		return Outcome{}, fmt.Errorf("%w: check-in %s, check-out %s",
			ErrInvalidOrdering, rec.CheckInTime.Format(time.RFC3339), at.Format(time.RFC3339))
	}

	updated, err := l.store.UpdateCheckout(ctx, rec.IdentityID, rec.Day, at)
	if err != nil {
		return Outcome{}, fmt.Errorf("update checkout: %w", err)
	}
	if !updated {
		return rejected(ReasonAlreadyRecorded, msgAlreadyRecorded, StateCheckedOut, rec), nil
	}

	out := *rec
	checkOut := at
	out.CheckOutTime = &checkOut
	return Outcome{Recorded: true, Message: msgCheckedOut, State: StateCheckedOut, Record: &out}, nil
}

// StateOf returns the state of identityID on the calendar day of at.
func (l *Ledger) StateOf(ctx context.Context, identityID string, at time.Time) (State, error) {
	rec, err := l.store.FindAttendance(ctx, identityID, models.DateOf(at, l.loc))
	if err != nil {
		return "", fmt.Errorf("find attendance: %w", err)
	}
	switch {
	case rec == nil:
		return StateNoRecord, nil
	case rec.CheckOutTime != nil:
		return StateCheckedOut, nil
	default:
		return StateCheckedIn, nil
	}
}

func rejected(reason Reason, msg string, state State, rec *models.AttendanceRecord) Outcome {
	return Outcome{Reason: reason, Message: msg, State: state, Record: rec}
}

func lockKey(identityID string, day time.Time) string {
	return identityID + "|" + day.Format(time.DateOnly)
}
