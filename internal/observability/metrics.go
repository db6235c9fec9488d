package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"camera_id"})

	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "frame_errors_total",
		Help:      "Frames skipped because processing failed",
	}, []string{"camera_id"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	})

	FacesRecognized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "faces_recognized_total",
		Help:      "Faces matched to an enrolled identity",
	})

	FacesUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "faces_unknown_total",
		Help:      "Faces with no identity within tolerance",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "att",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "att",
		Name:      "gallery_size",
		Help:      "Number of identities in the in-memory index",
	})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by result",
	}, []string{"result"})

	AttendanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "attendance_events_total",
		Help:      "Attendance events by type and outcome",
	}, []string{"type", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "att",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "att",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
