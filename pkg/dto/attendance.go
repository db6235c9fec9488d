package dto

type MarkAttendanceRequest struct {
	IdentityID string `json:"identity_id" binding:"required"`
	Type       string `json:"type"` // check_in when empty
}

// MarkAttendanceResponse reports a ledger transition. Success is false when
// the transition was rejected; Reason then says why.
type MarkAttendanceResponse struct {
	Success bool            `json:"success"`
	Reason  string          `json:"reason,omitempty"`
	Message string          `json:"message"`
	State   string          `json:"state"`
	Record  *AttendanceItem `json:"record,omitempty"`
}

type AttendanceItem struct {
	IdentityID   string `json:"identity_id"`
	DisplayName  string `json:"display_name,omitempty"`
	Department   string `json:"department,omitempty"`
	Date         string `json:"date"`
	CheckInTime  string `json:"check_in_time,omitempty"`
	CheckOutTime string `json:"check_out_time,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Status       string `json:"status"`
}

type AttendanceListResponse struct {
	Records []AttendanceItem `json:"records"`
	Total   int              `json:"total"`
	Days    int              `json:"days"`
}

type SummaryResponse struct {
	Date                   string  `json:"date"`
	PresentCount           int     `json:"present_count"`
	TotalEnrolled          int     `json:"total_enrolled"`
	AbsentCount            int     `json:"absent_count"`
	AverageDailyAttendance float64 `json:"average_daily_attendance"`
	WindowDays             int     `json:"window_days"`
}
