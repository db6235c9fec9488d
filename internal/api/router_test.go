package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/apperr"
	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/enrollment"
	"github.com/your-org/attendance/internal/index"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/pkg/dto"
)

var errEncoderDown = apperr.New(apperr.ErrExternal, "encoder_unavailable", "Face encoder is not available")

type stubEncoder struct {
	mu    sync.Mutex
	faces []models.Face
	err   error
}

func (e *stubEncoder) set(err error, vecs ...[]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
	e.faces = e.faces[:0]
	for _, v := range vecs {
		e.faces = append(e.faces, models.Face{Region: image.Rect(10, 10, 50, 50), Vector: v})
	}
}

func (e *stubEncoder) DetectAndEncode(context.Context, image.Image) ([]models.Face, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Face(nil), e.faces...), e.err
}

type capturedNotices struct {
	mu  sync.Mutex
	all []models.AttendanceNotice
}

func (c *capturedNotices) PublishAttendance(_ context.Context, n models.AttendanceNotice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = append(c.all, n)
	return nil
}

func (c *capturedNotices) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.all)
}

type APISuite struct {
	suite.Suite
	store   *storage.MemoryStore
	encoder *stubEncoder
	notices *capturedNotices
	ready   error
	router  http.Handler
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	s.store = storage.NewMemoryStore()
	s.encoder = &stubEncoder{}
	s.notices = &capturedNotices{}
	s.ready = nil
	s.router = s.newRouter(0)
}

func (s *APISuite) newRouter(maxUpload int64) http.Handler {
	idx := index.New(2)
	svc := enrollment.NewService(s.store, s.encoder, idx, enrollment.WithDimension(2))
	ledger := attendance.NewLedger(s.store, s.store)
	pipeline := recognition.NewPipeline(s.encoder, matcher.New(idx, 0.6), 0)

	return NewRouter(RouterConfig{
		MaxUploadBytes: maxUpload,
		Enrollment:     svc,
		Ledger:         ledger,
		Notices:        s.notices,
		Recognizer:     pipeline,
		Checks: []handlers.Check{
			{Name: "store", Ping: s.store.Ping},
			{Name: "stub", Ping: func(context.Context) error { return s.ready }},
		},
	})
}

func (s *APISuite) photo() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	img.Set(5, 5, color.White)
	var buf bytes.Buffer
	s.Require().NoError(png.Encode(&buf, img))
	return buf.Bytes()
}

func (s *APISuite) multipartBody(fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		s.Require().NoError(w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("photo", filename)
		s.Require().NoError(err)
		_, err = fw.Write(data)
		s.Require().NoError(err)
	}
	s.Require().NoError(w.Close())
	return &buf, w.FormDataContentType()
}

func identityFields(id, name string) map[string]string {
	return map[string]string{
		"identity_id":   id,
		"display_name":  name,
		"contact_email": id + "@example.com",
		"department":    "Ops",
	}
}

func (s *APISuite) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *APISuite) enroll(fields map[string]string, filename string, vecs ...[]float32) *httptest.ResponseRecorder {
	s.encoder.set(nil, vecs...)
	body, ct := s.multipartBody(fields, filename, s.photo())
	req := httptest.NewRequest(http.MethodPost, "/v1/identities", body)
	req.Header.Set("Content-Type", ct)
	return s.do(req)
}

func (s *APISuite) mark(id, kind string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(map[string]string{"identity_id": id, "type": kind})
	req := httptest.NewRequest(http.MethodPost, "/v1/attendance", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func decode[T any](s *APISuite, rec *httptest.ResponseRecorder) T {
	var v T
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *APISuite) TestHealthz() {
	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusOK, rec.Code)
}

func (s *APISuite) TestReadyz() {
	rec := s.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	s.Equal(http.StatusOK, rec.Code)

	s.ready = errors.New("down")
	rec = s.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Contains(rec.Body.String(), "down")
}

func (s *APISuite) TestEnroll() {
	rec := s.enroll(identityFields("E1", "Ada"), "ada.png", []float32{1, 0})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[dto.IdentityResponse](s, rec)
	s.Equal("E1", got.IdentityID)
	s.Equal("Ada", got.DisplayName)
	s.Equal("E1@example.com", got.ContactEmail)
}

func (s *APISuite) TestEnrollErrors() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "ada.png", []float32{1, 0}).Code)

	missing := identityFields("E2", "Bob")
	delete(missing, "department")

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		vecs     [][]float32
		status   int
		code     string
	}{
		{"duplicate id", identityFields("E1", "Ada again"), "a.png", [][]float32{{0, 1}}, http.StatusConflict, "duplicate_identity"},
		{"missing field", missing, "b.png", [][]float32{{0, 1}}, http.StatusBadRequest, "missing_fields"},
		{"no photo", identityFields("E3", "Cy"), "", nil, http.StatusBadRequest, "no_photo"},
		{"wrong extension", identityFields("E4", "Di"), "d.gif", [][]float32{{0, 1}}, http.StatusBadRequest, "invalid_file_type"},
		{"no face", identityFields("E5", "Ed"), "e.png", nil, http.StatusBadRequest, "no_face_detected"},
		{"two faces", identityFields("E6", "Fa"), "f.png", [][]float32{{0, 1}, {1, 1}}, http.StatusBadRequest, "multiple_faces_detected"},
		{"wrong dimension", identityFields("E7", "Gu"), "g.png", [][]float32{{1, 0, 0}}, http.StatusUnprocessableEntity, "encoding_failure"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := s.enroll(tt.fields, tt.filename, tt.vecs...)
			s.Equal(tt.status, rec.Code, rec.Body.String())
			s.Equal(tt.code, decode[dto.ErrorResponse](s, rec).Code)
		})
	}
}

func (s *APISuite) TestEnrollEncoderUnavailable() {
	s.encoder.set(errEncoderDown)
	body, ct := s.multipartBody(identityFields("E1", "Ada"), "ada.png", s.photo())
	req := httptest.NewRequest(http.MethodPost, "/v1/identities", body)
	req.Header.Set("Content-Type", ct)

	rec := s.do(req)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Equal("encoding_failure", decode[dto.ErrorResponse](s, rec).Code)
}

func (s *APISuite) TestEnrollNotMultipart() {
	req := httptest.NewRequest(http.MethodPost, "/v1/identities", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APISuite) TestEnrollTooLarge() {
	s.router = s.newRouter(1024)
	body, ct := s.multipartBody(identityFields("E1", "Ada"), "ada.png", make([]byte, 8<<10))
	req := httptest.NewRequest(http.MethodPost, "/v1/identities", body)
	req.Header.Set("Content-Type", ct)

	rec := s.do(req)
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

func (s *APISuite) TestListIdentitiesByName() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "zed"), "z.png", []float32{1, 0}).Code)
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E2", "Amy"), "a.png", []float32{0, 1}).Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/identities", nil))
	s.Require().Equal(http.StatusOK, rec.Code)

	got := decode[dto.IdentityListResponse](s, rec)
	s.Require().Equal(2, got.Total)
	s.Equal("Amy", got.Identities[0].DisplayName)
	s.Equal("zed", got.Identities[1].DisplayName)
}

func (s *APISuite) TestDeleteIdentity() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "a.png", []float32{1, 0}).Code)
	s.Require().Equal(http.StatusOK, s.mark("E1", "check_in").Code)

	rec := s.do(httptest.NewRequest(http.MethodDelete, "/v1/identities/E1", nil))
	s.Require().Equal(http.StatusOK, rec.Code)
	s.True(decode[dto.MessageResponse](s, rec).Success)

	list := decode[dto.AttendanceListResponse](s, s.do(httptest.NewRequest(http.MethodGet, "/v1/attendance", nil)))
	s.Zero(list.Total)

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/v1/identities/E1", nil))
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("identity_not_found", decode[dto.ErrorResponse](s, rec).Code)
}

func (s *APISuite) TestMarkAttendanceDay() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "a.png", []float32{1, 0}).Code)

	got := decode[dto.MarkAttendanceResponse](s, s.mark("E1", ""))
	s.True(got.Success)
	s.Equal("CHECKED_IN", got.State)
	s.Require().NotNil(got.Record)
	s.NotEmpty(got.Record.CheckInTime)

	got = decode[dto.MarkAttendanceResponse](s, s.mark("E1", "check_in"))
	s.False(got.Success)
	s.Equal("already_recorded", got.Reason)

	got = decode[dto.MarkAttendanceResponse](s, s.mark("E1", "check_out"))
	s.True(got.Success)
	s.Equal("CHECKED_OUT", got.State)

	got = decode[dto.MarkAttendanceResponse](s, s.mark("E1", "check_out"))
	s.False(got.Success)
	s.Equal("already_recorded", got.Reason)

	s.Equal(2, s.notices.len())
}

func (s *APISuite) TestMarkAttendanceRejections() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "a.png", []float32{1, 0}).Code)

	got := decode[dto.MarkAttendanceResponse](s, s.mark("E1", "check_out"))
	s.False(got.Success)
	s.Equal("not_checked_in", got.Reason)
	s.Equal("Must check-in first", got.Message)
	s.Zero(s.notices.len())
}

func (s *APISuite) TestMarkAttendanceErrors() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "a.png", []float32{1, 0}).Code)

	tests := []struct {
		name   string
		id     string
		kind   string
		status int
	}{
		{"unknown identity", "NOPE", "check_in", http.StatusNotFound},
		{"bad type", "E1", "lunch", http.StatusBadRequest},
		{"missing identity", "", "check_in", http.StatusBadRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.status, s.mark(tt.id, tt.kind).Code)
		})
	}
}

func (s *APISuite) TestListAttendance() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "a.png", []float32{1, 0}).Code)
	s.Require().Equal(http.StatusOK, s.mark("E1", "check_in").Code)
	s.Require().Equal(http.StatusOK, s.mark("E1", "check_out").Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/attendance?days=7", nil))
	s.Require().Equal(http.StatusOK, rec.Code)

	got := decode[dto.AttendanceListResponse](s, rec)
	s.Equal(7, got.Days)
	s.Require().Equal(1, got.Total)
	s.Equal("Ada", got.Records[0].DisplayName)
	s.Equal("Ops", got.Records[0].Department)
	s.Equal("0h 0m", got.Records[0].Duration)

	for _, q := range []string{"0", "-1", "abc", "367"} {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/attendance?days="+q, nil))
		s.Equal(http.StatusBadRequest, rec.Code, q)
	}
}

func (s *APISuite) TestSummary() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "a.png", []float32{1, 0}).Code)
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E2", "Bob"), "b.png", []float32{0, 1}).Code)
	s.Require().Equal(http.StatusOK, s.mark("E1", "check_in").Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/attendance/summary", nil))
	s.Require().Equal(http.StatusOK, rec.Code)

	got := decode[dto.SummaryResponse](s, rec)
	s.Equal(1, got.PresentCount)
	s.Equal(2, got.TotalEnrolled)
	s.Equal(1, got.AbsentCount)
	s.Equal(attendance.DefaultSummaryWindow, got.WindowDays)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/v1/attendance/summary?date=2020-01-02", nil))
	s.Require().Equal(http.StatusOK, rec.Code)
	got = decode[dto.SummaryResponse](s, rec)
	s.Equal("2020-01-02", got.Date)
	s.Zero(got.PresentCount)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/v1/attendance/summary?date=02/01/2020", nil))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APISuite) TestRecognize() {
	s.Require().Equal(http.StatusCreated, s.enroll(identityFields("E1", "Ada"), "a.png", []float32{1, 0}).Code)

	s.encoder.set(nil, []float32{1, 0}, []float32{-1, 0})
	body, ct := s.multipartBody(nil, "frame.png", s.photo())
	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", body)
	req.Header.Set("Content-Type", ct)

	rec := s.do(req)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	got := decode[dto.RecognizeResponse](s, rec)
	s.Require().Equal(2, got.Total)
	s.Equal("Ada", got.Faces[0].Label)
	s.True(got.Faces[0].Confident)
	s.Equal([4]int{10, 10, 50, 50}, got.Faces[0].BBox)
	s.Equal("Unknown", got.Faces[1].Label)
	s.Empty(got.Faces[1].IdentityID)
}

func (s *APISuite) TestRecognizeErrors() {
	rec := s.do(httptest.NewRequest(http.MethodPost, "/v1/recognize", nil))
	s.Equal(http.StatusBadRequest, rec.Code)

	body, ct := s.multipartBody(nil, "frame.png", []byte("not an image"))
	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", body)
	req.Header.Set("Content-Type", ct)
	rec = s.do(req)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("decode_error", decode[dto.ErrorResponse](s, rec).Code)

	s.encoder.set(errEncoderDown)
	body, ct = s.multipartBody(nil, "frame.png", s.photo())
	req = httptest.NewRequest(http.MethodPost, "/v1/recognize", body)
	req.Header.Set("Content-Type", ct)
	rec = s.do(req)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Equal("encoder_unavailable", decode[dto.ErrorResponse](s, rec).Code)
}
