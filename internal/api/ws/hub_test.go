package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubBroadcastsRecognition(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastRecognition(models.RecognitionEvent{
		CameraID:    "lobby",
		Timestamp:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		BBox:        [4]int{1, 2, 3, 4},
		IdentityID:  "E1",
		DisplayName: "Ada",
		Distance:    0.3,
		Confident:   true,
	})

	ev := readEvent(t, conn)
	assert.Equal(t, dto.WSKindRecognition, ev.Kind)
	assert.Equal(t, "lobby", ev.CameraID)
	require.NotNil(t, ev.Recognition)
	assert.Equal(t, "Ada", ev.Recognition.Label)
	assert.Equal(t, [4]int{1, 2, 3, 4}, ev.Recognition.BBox)
	assert.Nil(t, ev.Attendance)
}

func TestHubUnknownFaceLabel(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastRecognition(models.RecognitionEvent{CameraID: "lobby", Distance: 0.9})

	ev := readEvent(t, conn)
	require.NotNil(t, ev.Recognition)
	assert.Equal(t, "Unknown", ev.Recognition.Label)
	assert.Empty(t, ev.Recognition.IdentityID)
}

func TestHubCameraFilter(t *testing.T) {
	hub, url := startHub(t)
	lobby := dial(t, url+"?camera_id=lobby")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastRecognition(models.RecognitionEvent{CameraID: "dock", IdentityID: "E2"})
	hub.BroadcastRecognition(models.RecognitionEvent{CameraID: "lobby", IdentityID: "E1"})

	ev := readEvent(t, lobby)
	require.NotNil(t, ev.Recognition)
	assert.Equal(t, "E1", ev.Recognition.IdentityID)
}

func TestHubPublishAttendance(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishAttendance(context.Background(), models.AttendanceNotice{
		IdentityID: "E1",
		Type:       models.CheckIn,
		Source:     "api",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, dto.WSKindAttendance, ev.Kind)
	require.NotNil(t, ev.Attendance)
	assert.Equal(t, "check_in", ev.Attendance.Type)
	assert.Equal(t, "api", ev.Attendance.Source)
}

func TestHubCameraFilterPassesAPIAttendance(t *testing.T) {
	hub, url := startHub(t)
	lobby := dial(t, url+"?camera_id=lobby")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastAttendance(models.AttendanceNotice{IdentityID: "E2", Type: models.CheckIn, Source: "dock"})
	hub.BroadcastAttendance(models.AttendanceNotice{IdentityID: "E1", Type: models.CheckIn, Source: models.SourceAPI})
	hub.BroadcastAttendance(models.AttendanceNotice{IdentityID: "E3", Type: models.CheckOut, Source: "lobby"})

	first := readEvent(t, lobby)
	require.NotNil(t, first.Attendance)
	assert.Equal(t, "E1", first.Attendance.IdentityID)
	assert.Empty(t, first.CameraID)
	assert.Equal(t, models.SourceAPI, first.Attendance.Source)

	second := readEvent(t, lobby)
	require.NotNil(t, second.Attendance)
	assert.Equal(t, "E3", second.Attendance.IdentityID)
	assert.Equal(t, "lobby", second.CameraID)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"empty list allows all", nil, "http://evil.test", true},
		{"wildcard", []string{"*"}, "http://evil.test", true},
		{"listed", []string{"http://app.test"}, "http://app.test", true},
		{"unlisted", []string{"http://app.test"}, "http://evil.test", false},
		{"no origin header", []string{"http://app.test"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.origins)(req))
		})
	}
}
