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

	"github.com/your-org/attendance/internal/api"
	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/ledger"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/service"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting attendance API service",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"index", cfg.Matching.Index,
		"threshold", cfg.Matching.Threshold,
		"cooldown", cfg.Attendance.Cooldown.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Enrollment store and attendance ledger
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	checks := map[string]handlers.Check{cfg.Storage.Driver: store.Ping}

	// Matching
	var index *matcher.Index
	var matchOpts []matcher.Option
	if cfg.Matching.Index == "hnsw" {
		index = matcher.NewIndex(cfg.Matching.Dimension, cfg.Matching.IndexCandidates)
		if err := index.Rebuild(ctx, store); err != nil {
			slog.Error("build matching index", "error", err)
			os.Exit(1)
		}
		matchOpts = append(matchOpts, matcher.WithIndex(index))
		go refreshIndex(ctx, index, store, cfg.Matching.IndexRefresh)
	}
	m := matcher.New(store, cfg.Matching.Dimension, matchOpts...)

	l := ledger.New(store, cfg.Attendance.Cooldown)
	identify := service.NewIdentificationService(m, l, cfg.Matching.Threshold)
	enroll := service.NewEnrollmentService(store, cfg.Matching.Dimension, index)

	// Snapshot storage (optional)
	var images handlers.ImageSource
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		identify.Snapshots = service.NewSnapshotStore(minioStore)
		images = minioStore
		checks["minio"] = minioStore.Ping
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Event fan-out: through NATS when configured, straight to the hub otherwise
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		} else if depth, err := producer.StreamDepth(ctx); err == nil {
			slog.Info("attendance stream ready", "stream", queue.AttendanceStreamName, "messages", depth)
		}
		identify.Publisher = producer
		checks["nats"] = func(context.Context) error { return producer.Ping() }

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create attendance consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeAttendance(ctx, consumerName(), func(ctx context.Context, ev dto.AttendanceEventResponse) error {
			return hub.PublishAttendance(ctx, ev)
		})
		if err != nil {
			slog.Warn("start attendance consumer", "error", err)
		}
	} else {
		identify.Publisher = hub
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		LegacyEndpoint: cfg.Server.LegacyEndpoint,
		Identify:       identify,
		Enroll:         enroll,
		Ledger:         l,
		Images:         images,
		Hub:            hub,
		Checks:         checks,
	})

	// Start HTTP server
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

// refreshIndex folds writes from other replicas into the graph, which keeps
// the matcher's rescan of records changed since the build short.
func refreshIndex(ctx context.Context, index *matcher.Index, store storage.EnrollmentStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := index.Rebuild(ctx, store); err != nil {
				slog.Warn("periodic index rebuild", "error", err)
			}
		}
	}
}

// consumerName gives each replica its own durable consumer so every replica's
// websocket clients see every event.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "api-attendance"
	}
	return "api-attendance-" + sanitize(host)
}

func sanitize(s string) string {
	out := []byte(s)
	for i, b := range out {
		if !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}
