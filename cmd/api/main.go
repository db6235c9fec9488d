package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/attendance/internal/api"
	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/enrollment"
	"github.com/your-org/attendance/internal/index"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file (empty for defaults and environment)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting attendance API", "port", cfg.Server.Port, "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	loc, err := cfg.Attendance.Location()
	if err != nil {
		slog.Error("resolve timezone", "error", err)
		os.Exit(1)
	}

	checks := []handlers.Check{{Name: "store", Ping: store.Ping}}

	hub := ws.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run(ctx)

	// Without a bus the hub receives attendance notices directly.
	var notices handlers.NoticePublisher = hub
	enrollOpts := []enrollment.Option{enrollment.WithDimension(cfg.Vision.EmbeddingDim)}

	var consumer *queue.Consumer
	if cfg.NATS.Enabled() {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}

		consumer, err = queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		notices = producer
		enrollOpts = append(enrollOpts, enrollment.WithNotifier(producer))
		checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }})
	}

	var stage handlers.StageFunc
	if cfg.MinIO.Enabled() {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		if n, err := minioStore.SweepUploads(ctx); err != nil {
			slog.Warn("sweep staged uploads", "error", err)
		} else if n > 0 {
			slog.Info("removed leftover staged uploads", "count", n)
		}

		stage = func(ctx context.Context, filename string, data []byte, contentType string) (enrollment.Upload, error) {
			obj, err := minioStore.Stage(ctx, filename, data, contentType)
			if err != nil {
				return nil, err
			}
			return obj, nil
		}
		checks = append(checks, handlers.Check{Name: "minio", Ping: minioStore.Ping})
	}

	encoder, closeEncoder := loadEncoder(cfg.Vision)
	defer closeEncoder()

	idx := index.New(cfg.Vision.EmbeddingDim)
	registry := enrollment.NewService(store, encoder, idx, enrollOpts...)
	if err := registry.Reload(ctx); err != nil {
		slog.Error("load gallery", "error", err)
		os.Exit(1)
	}
	slog.Info("gallery loaded", "identities", idx.Len())

	ledger := attendance.NewLedger(store, store,
		attendance.WithLocation(loc),
		attendance.WithSummaryWindow(cfg.Attendance.SummaryWindowDays),
	)
	pipeline := recognition.NewPipeline(encoder,
		matcher.New(idx, cfg.Recognition.Tolerance),
		cfg.Recognition.MaxFrameWidth,
	)

	if consumer != nil {
		startFeed(ctx, consumer, hub, registry)
	}

	router := api.NewRouter(api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Enrollment:     registry,
		Stage:          stage,
		Ledger:         ledger,
		Notices:        notices,
		Recognizer:     pipeline,
		Hub:            hub,
		Checks:         checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// loadEncoder initialises the ONNX encoder. When the runtime or models are
// missing the API still serves attendance, and enrollment and recognition
// fail with vision.ErrUnavailable.
func loadEncoder(cfg config.VisionConfig) (recognition.Encoder, func()) {
	if err := vision.InitRuntime(cfg.ORTLibrary); err != nil {
		slog.Warn("onnx runtime init failed, enrollment and recognition unavailable", "error", err)
		return vision.Unavailable{}, func() {}
	}
	enc, err := vision.NewEncoder(cfg)
	if err != nil {
		slog.Warn("face encoder init failed, enrollment and recognition unavailable", "error", err)
		vision.ShutdownRuntime()
		return vision.Unavailable{}, func() {}
	}
	slog.Info("face encoder ready", "dim", enc.Dim())
	return enc, func() {
		enc.Close()
		vision.ShutdownRuntime()
	}
}

// startFeed relays bus events to WebSocket clients and refreshes the
// gallery when another process changes the registry.
func startFeed(ctx context.Context, consumer *queue.Consumer, hub *ws.Hub, registry *enrollment.Service) {
	err := consumer.ConsumeRecognitions(ctx, "api-recognitions", func(_ context.Context, ev models.RecognitionEvent) error {
		hub.BroadcastRecognition(ev)
		return nil
	})
	if err != nil {
		slog.Warn("start recognition consumer", "error", err)
	}

	err = consumer.ConsumeAttendance(ctx, "api-attendance", func(_ context.Context, n models.AttendanceNotice) error {
		hub.BroadcastAttendance(n)
		return nil
	})
	if err != nil {
		slog.Warn("start attendance consumer", "error", err)
	}

	err = consumer.SubscribeRegistryChanges(ctx, func() {
		if err := registry.Refresh(ctx); err != nil {
			slog.Warn("refresh gallery", "error", err)
		}
	})
	if err != nil {
		slog.Warn("subscribe registry changes", "error", err)
	}
}
