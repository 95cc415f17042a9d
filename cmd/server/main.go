package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/api"
	"github.com/jengzang/drone-imagery-dashboard/internal/backend"
	"github.com/jengzang/drone-imagery-dashboard/internal/config"
	"github.com/jengzang/drone-imagery-dashboard/internal/database"
	"github.com/jengzang/drone-imagery-dashboard/internal/events"
	"github.com/jengzang/drone-imagery-dashboard/internal/handler"
	"github.com/jengzang/drone-imagery-dashboard/internal/health"
	"github.com/jengzang/drone-imagery-dashboard/internal/logging"
	"github.com/jengzang/drone-imagery-dashboard/internal/repository"
	"github.com/jengzang/drone-imagery-dashboard/internal/service"
	"github.com/jengzang/drone-imagery-dashboard/internal/taskstatus"
	"github.com/jengzang/drone-imagery-dashboard/internal/tracker"
)

func main() {
	// 加载配置
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := database.Open(database.Config{Path: cfg.DBPath}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	store, closeStore := openStateStore(ctx, cfg, logger, repository.NewLocalStorageRepository(db))
	defer closeStore()

	synonyms := taskstatus.DefaultTable()
	if cfg.StatusSynonymsFile != "" {
		if synonyms, err = taskstatus.LoadTable(cfg.StatusSynonymsFile); err != nil {
			logger.WithError(err).Fatal("Failed to load status synonyms")
		}
		logger.WithField("file", cfg.StatusSynonymsFile).Info("Loaded status synonyms")
	}

	var nc *nats.Conn
	var publisher tracker.Publisher = events.NewLogPublisher(logger)
	if cfg.NATSURL != "" {
		if nc, err = events.Connect(cfg.NATSURL, logger); err != nil {
			logger.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer nc.Drain()
		publisher = events.NewNATSPublisher(nc, logger)
	}

	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout, logger)
	tr := tracker.New(client, store, logger, tracker.Options{
		Interval:  cfg.PollInterval,
		Synonyms:  synonyms,
		Publisher: publisher,
	})
	if err := tr.Init(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to restore task state")
	}

	if nc != nil {
		sub, err := events.NewUploadListener(tr, logger).Subscribe(nc)
		if err != nil {
			logger.WithError(err).Fatal("Failed to subscribe to upload results")
		}
		defer sub.Unsubscribe()
	}

	monitor := health.NewMonitor(client, logger)
	go monitor.Run(ctx, cfg.HealthInterval)
	go tr.Run(ctx)

	prescriptions := repository.NewPrescriptionRepository(db)
	router := api.SetupRouter(ctx, cfg, logger, api.Handlers{
		Backend:       handler.NewBackendHandler(monitor, client.BaseURL()),
		Uploads:       handler.NewUploadHandler(service.NewUploadService(client, monitor, tr, cfg.MaxUploadFiles, logger)),
		Tasks:         handler.NewTaskHandler(tr),
		Gallery:       handler.NewGalleryHandler(service.NewGalleryService(client, tr, logger)),
		FieldMaps:     handler.NewFieldMapHandler(service.NewFieldMapService(tr, client, prescriptions, logger)),
		Prescriptions: handler.NewPrescriptionHandler(service.NewPrescriptionService(prescriptions, logger)),
	})

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    cfg.Port,
			"backend": cfg.BackendURL,
			"state":   cfg.StateBackend,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		os.Exit(1)
	}
}

// openStateStore picks the key/value store holding tracker state
func openStateStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger, local *repository.LocalStorageRepository) (tracker.Storage, func()) {
	switch cfg.StateBackend {
	case "", "sqlite":
		return local, func() {}
	case "redis":
		rs, err := repository.NewRedisStorageRepository(ctx, cfg.RedisAddr)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		logger.WithField("addr", cfg.RedisAddr).Info("Tracker state stored in Redis")
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close Redis client")
			}
		}
	default:
		logger.WithField("state_backend", cfg.StateBackend).Fatal("Unknown STATE_BACKEND, expected sqlite or redis")
		return nil, nil
	}
}
