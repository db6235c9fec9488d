package models

import "time"

type EventType string

const (
	CheckIn  EventType = "check_in"
	CheckOut EventType = "check_out"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == CheckIn || t == CheckOut
}

const StatusPresent = "present"

// AttendanceRecord is one identity's attendance for one calendar day.
// Day is the UTC midnight of the local calendar date.
type AttendanceRecord struct {
	IdentityID   string     `json:"identity_id" db:"identity_id"`
	Day          time.Time  `json:"date" db:"day"`
	CheckInTime  *time.Time `json:"check_in_time,omitempty" db:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty" db:"check_out_time"`
	Status       string     `json:"status" db:"status"`
}

// AttendanceEvent asks the ledger for one transition.
type AttendanceEvent struct {
	IdentityID string    `json:"identity_id"`
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
}

// DateOf returns the calendar date of t in loc as UTC midnight, the form in
// which days are keyed and stored.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
