package api

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
)

type RouterConfig struct {
	AllowedOrigins []string
	MaxUploadBytes int64

	Enrollment handlers.Enroller
	// Stage keeps enrollment uploads in memory when nil.
	Stage      handlers.StageFunc
	Ledger     handlers.Ledger
	Notices    handlers.NoticePublisher
	Recognizer handlers.Recognizer
	Hub        *ws.Hub
	Checks     []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	identityH := handlers.NewIdentityHandler(cfg.Enrollment, cfg.MaxUploadBytes)
	identityH.Stage = cfg.Stage
	v1.POST("/identities", identityH.Create)
	v1.GET("/identities", identityH.List)
	v1.DELETE("/identities/:id", identityH.Delete)

	recognizeH := handlers.NewRecognizeHandler(cfg.Recognizer, cfg.MaxUploadBytes)
	v1.POST("/recognize", recognizeH.Recognize)

	attendanceH := handlers.NewAttendanceHandler(cfg.Ledger, cfg.Notices)
	v1.POST("/attendance", attendanceH.Mark)
	v1.GET("/attendance", attendanceH.List)
	v1.GET("/attendance/summary", attendanceH.Summary)

	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}
