package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/enrollment"
	"github.com/your-org/attendance/internal/index"
	"github.com/your-org/attendance/internal/ingest"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file (empty for defaults and environment)")
	metricsAddr := flag.String("metrics-addr", ":8082", "listen address for /metrics and /healthz")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, *metricsAddr); err != nil {
		slog.Error("recognizer stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("recognizer stopped")
}

func run(cfg *config.Config, metricsAddr string) error {
	rc := cfg.Recognition
	slog.Info("starting recognizer",
		"camera_id", rc.CameraID,
		"source", rc.Source,
		"fps", rc.FPS,
		"auto_mark", cfg.Attendance.AutoMark,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := vision.InitRuntime(cfg.Vision.ORTLibrary); err != nil {
		return err
	}
	defer vision.ShutdownRuntime()

	encoder, err := vision.NewEncoder(cfg.Vision)
	if err != nil {
		return fmt.Errorf("init encoder: %w", err)
	}
	defer encoder.Close()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	loc, err := cfg.Attendance.Location()
	if err != nil {
		return err
	}
	policy, err := attendance.PolicyByName(cfg.Attendance.AutoMark)
	if err != nil {
		return err
	}

	idx := index.New(cfg.Vision.EmbeddingDim)
	registry := enrollment.NewService(store, encoder, idx, enrollment.WithDimension(encoder.Dim()))
	if err := registry.Reload(ctx); err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	slog.Info("gallery loaded", "identities", idx.Len())

	ledger := attendance.NewLedger(store, store,
		attendance.WithLocation(loc),
		attendance.WithSummaryWindow(cfg.Attendance.SummaryWindowDays),
	)
	sink := &recognition.Sink{Observer: attendance.NewMarker(ledger, policy, cfg.Attendance.Cooldown)}

	if cfg.NATS.Enabled() {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		sink.Publisher = producer

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		defer consumer.Close()
		err = consumer.SubscribeRegistryChanges(ctx, func() {
			if err := registry.Refresh(ctx); err != nil {
				slog.Warn("refresh gallery", "error", err)
			} else {
				slog.Info("gallery refreshed", "identities", idx.Len())
			}
		})
		if err != nil {
			slog.Warn("subscribe registry changes", "error", err)
		}
	}

	loop := &recognition.Loop{
		CameraID: rc.CameraID,
		Source: &ingest.Camera{
			URL: rc.Source,
			FPS: rc.FPS,
		},
		Processor:   recognition.NewPipeline(encoder, matcher.New(idx, rc.Tolerance), rc.MaxFrameWidth),
		Handler:     sink.Handle,
		MaxRestarts: rc.MaxRestarts,
		Backoff:     rc.RestartBackoff,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		return refreshLoop(gctx, registry, rc.ReloadInterval)
	})

	g.Go(func() error {
		return serveMetrics(gctx, metricsAddr)
	})

	return g.Wait()
}

// refreshLoop reloads the gallery every interval, picking up registry
// changes that were not announced on the bus.
func refreshLoop(ctx context.Context, registry *enrollment.Service, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := registry.Refresh(ctx); err != nil {
				slog.Warn("periodic gallery refresh", "error", err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("recognizer metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
