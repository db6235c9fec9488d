package attendance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/your-org/attendance/internal/models"
)

// Summary is the dashboard view of one day.
type Summary struct {
	Date                   time.Time `json:"date"`
	PresentCount           int       `json:"present_count"`
	TotalEnrolled          int       `json:"total_enrolled"`
	AbsentCount            int       `json:"absent_count"`
	AverageDailyAttendance float64   `json:"average_daily_attendance"`
	WindowDays             int       `json:"window_days"`
}

// SummaryFor counts attendance on the calendar day of date and averages the
// daily present count over the trailing window ending at that day. Days with
// no records count as zero.
func (l *Ledger) SummaryFor(ctx context.Context, date time.Time) (Summary, error) {
	day := models.DateOf(date, l.loc)
	start := day.AddDate(0, 0, -(l.window - 1))

	recs, err := l.store.ListAttendanceSince(ctx, start)
	if err != nil {
		return Summary{}, fmt.Errorf("list attendance: %w", err)
	}
	total, err := l.roster.CountIdentities(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count identities: %w", err)
	}

	perDay := make(map[string]int, l.window)
	for _, r := range recs {
		perDay[r.Day.Format(time.DateOnly)]++
	}

	counts := make([]int, 0, l.window)
	for d := start; !d.After(day); d = d.AddDate(0, 0, 1) {
		counts = append(counts, perDay[d.Format(time.DateOnly)])
	}

	present := perDay[day.Format(time.DateOnly)]
	return Summary{
		Date:                   day,
		PresentCount:           present,
		TotalEnrolled:          total,
		AbsentCount:            max(total-present, 0),
		AverageDailyAttendance: dailyAverage(counts),
		WindowDays:             l.window,
	}, nil
}

// dailyAverage is the mean of counts rounded to one decimal.
func dailyAverage(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}
	sum := 0
	for _, c := range counts {
		sum += c
	}
	return math.Round(float64(sum)/float64(len(counts))*10) / 10
}

// RecordView is an attendance record joined with the identity's profile.
type RecordView struct {
	models.AttendanceRecord
	DisplayName string `json:"display_name"`
	Department  string `json:"department"`
	Duration    string `json:"duration,omitempty"`
}

// DefaultRecordsDays is the listing window when none is given.
const DefaultRecordsDays = 30

// Records lists attendance from the last days calendar days, newest first.
func (l *Ledger) Records(ctx context.Context, days int) ([]RecordView, error) {
	if days <= 0 {
		days = DefaultRecordsDays
	}
	since := l.Today().AddDate(0, 0, -days)

	recs, err := l.store.ListAttendanceSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	idents, err := l.roster.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	byID := make(map[string]models.Identity, len(idents))
	for _, id := range idents {
		byID[id.IdentityID] = id
	}

	out := make([]RecordView, 0, len(recs))
	for _, r := range recs {
		v := RecordView{AttendanceRecord: r}
		if id, ok := byID[r.IdentityID]; ok {
			v.DisplayName = id.DisplayName
			v.Department = id.Department
		}
		if r.CheckInTime != nil && r.CheckOutTime != nil {
			v.Duration = FormatDuration(r.CheckOutTime.Sub(*r.CheckInTime))
		}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.After(out[j].Day)
		}
		return timeOrZero(out[i].CheckInTime).After(timeOrZero(out[j].CheckInTime))
	})
	return out, nil
}

// FormatDuration renders d as "8h 15m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
