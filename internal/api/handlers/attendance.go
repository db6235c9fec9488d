package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

// MaxRecordsDays bounds the days query of the attendance listing.
const MaxRecordsDays = 366

// Ledger is the attendance state the endpoints read and write.
type Ledger interface {
	Record(ctx context.Context, identityID string, event models.EventType, at time.Time) (attendance.Outcome, error)
	Records(ctx context.Context, days int) ([]attendance.RecordView, error)
	SummaryFor(ctx context.Context, date time.Time) (attendance.Summary, error)
	Location() *time.Location
}

// NoticePublisher announces accepted transitions.
type NoticePublisher interface {
	PublishAttendance(ctx context.Context, n models.AttendanceNotice) error
}

type AttendanceHandler struct {
	ledger  Ledger
	notices NoticePublisher
	now     func() time.Time
}

// NewAttendanceHandler returns the attendance endpoints. notices may be nil.
func NewAttendanceHandler(ledger Ledger, notices NoticePublisher) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger, notices: notices, now: time.Now}
}

// Mark records a check-in or check-out at the current time. A rejected
// transition is answered with 200 and success false.
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req dto.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "identity_id is required")
		return
	}
	event := models.EventType(req.Type)
	if event == "" {
		event = models.CheckIn
	}

	at := h.now()
	out, err := h.ledger.Record(c.Request.Context(), req.IdentityID, event, at)
	if err != nil {
		writeError(c, err)
		return
	}

	if out.Recorded && h.notices != nil {
		n := models.AttendanceNotice{IdentityID: req.IdentityID, Type: event, At: at, Source: models.SourceAPI}
		if err := h.notices.PublishAttendance(c.Request.Context(), n); err != nil {
			slog.Warn("publish attendance notice", "identity_id", req.IdentityID, "error", err)
		}
	}

	resp := dto.MarkAttendanceResponse{
		Success: out.Recorded,
		Reason:  string(out.Reason),
		Message: out.Message,
		State:   string(out.State),
	}
	if out.Record != nil {
		item := h.item(attendance.RecordView{AttendanceRecord: *out.Record})
		resp.Record = &item
	}
	c.JSON(http.StatusOK, resp)
}

// List returns attendance for the last days (default 30) calendar days.
func (h *AttendanceHandler) List(c *gin.Context) {
	days := attendance.DefaultRecordsDays
	if s := c.Query("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > MaxRecordsDays {
			badRequest(c, "invalid_days", "days must be a whole number between 1 and 366")
			return
		}
		days = n
	}

	views, err := h.ledger.Records(c.Request.Context(), days)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]dto.AttendanceItem, 0, len(views))
	for _, v := range views {
		items = append(items, h.item(v))
	}
	c.JSON(http.StatusOK, dto.AttendanceListResponse{Records: items, Total: len(items), Days: days})
}

// Summary returns the dashboard figures for ?date=YYYY-MM-DD, today when
// absent.
func (h *AttendanceHandler) Summary(c *gin.Context) {
	date := h.now()
	if s := c.Query("date"); s != "" {
		d, err := time.ParseInLocation(time.DateOnly, s, h.ledger.Location())
		if err != nil {
			badRequest(c, "invalid_date", "date must be formatted YYYY-MM-DD")
			return
		}
		date = d
	}

	sum, err := h.ledger.SummaryFor(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SummaryResponse{
		Date:                   sum.Date.Format(time.DateOnly),
		PresentCount:           sum.PresentCount,
		TotalEnrolled:          sum.TotalEnrolled,
		AbsentCount:            sum.AbsentCount,
		AverageDailyAttendance: sum.AverageDailyAttendance,
		WindowDays:             sum.WindowDays,
	})
}

func (h *AttendanceHandler) item(v attendance.RecordView) dto.AttendanceItem {
	return dto.AttendanceItem{
		IdentityID:   v.IdentityID,
		DisplayName:  v.DisplayName,
		Department:   v.Department,
		Date:         v.Day.Format(time.DateOnly),
		CheckInTime:  h.clock(v.CheckInTime),
		CheckOutTime: h.clock(v.CheckOutTime),
		Duration:     v.Duration,
		Status:       v.Status,
	}
}

func (h *AttendanceHandler) clock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(h.ledger.Location()).Format(time.RFC3339)
}
