package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"babaphone/internal/core/services"
	registrybackup "babaphone/internal/infrastructure/backup"
	httphandlers "babaphone/internal/handlers/http"
	"babaphone/internal/infrastructure/monitoring"
	repositories "babaphone/internal/infrastructure/repositories"
	pushsignal "babaphone/internal/infrastructure/signal"
	"babaphone/pkg/backup"
	"babaphone/pkg/config"
	"babaphone/pkg/logger"
	"babaphone/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Version is set at build time
var Version = "dev"

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/babaphone/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = &tracing.TracerProvider{}
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	deviceRepo := repoFactory.CreateDeviceRepository()
	signalRepo := repoFactory.CreateSignalRepository()
	relayRepo := repoFactory.CreateRelayRepository()
	pairingRepo := repoFactory.CreatePairingRepository()

	instanceID := uuid.New().String()
	notifier, bus := repoFactory.CreateNotifier(instanceID)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusCollector(registry)

	registryService := services.NewRegistryService(deviceRepo, pairingRepo, cfg.Retention.DeviceTimeout, metrics, log)
	signalingService := services.NewSignalingService(deviceRepo, signalRepo, pairingRepo, notifier, metrics, log)
	relayService := services.NewRelayService(deviceRepo, relayRepo, notifier, metrics, log)
	tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.DeviceTokenTTL)

	janitor := services.NewJanitor(deviceRepo, signalRepo, relayRepo, services.Retention{
		DeviceTimeout: cfg.Retention.DeviceTimeout,
		SignalTTL:     cfg.Retention.SignalTTL,
		RelayTTL:      cfg.Retention.RelayTTL,
	}, metrics, log)
	lease := repoFactory.CreateCleanupLock()
	if lease != nil {
		janitor.WithLease(lease)
	}

	// Redis already outlives the process; snapshots are for the memory store.
	var snapshots *registrybackup.Scheduler
	if cfg.Backup.Enabled && !repoFactory.UsingRedis() {
		storage, err := backup.NewFileStorage(cfg.Backup.Dir)
		if err != nil {
			log.Fatalw("failed to open backup directory", "error", err)
		}
		snapshots = registrybackup.NewScheduler(backup.NewService(storage, Version), deviceRepo, registrybackup.Config{
			Interval:      cfg.Backup.Interval,
			Retention:     cfg.Backup.Retention,
			DeviceTimeout: cfg.Retention.DeviceTimeout,
		}, log)
		if _, err := snapshots.RestoreLatest(context.Background()); err != nil {
			log.Warnw("registry restore failed, starting empty", "error", err)
		}
	}

	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(deviceRepo, 2*time.Second)
	health.AddCheck("storage", repoFactory.HealthCheck, 2*time.Second)

	var push *pushsignal.PushServer
	if cfg.Push.Enabled {
		push = pushsignal.NewPushServer(registryService, signalingService, relayService, notifier, metrics, pushsignal.PushConfig{
			PingInterval:   cfg.Push.PingInterval,
			PongTimeout:    cfg.Push.PongTimeout,
			WriteTimeout:   cfg.Push.WriteTimeout,
			AllowedOrigins: cfg.Auth.AllowedOrigins,
		}, log)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:    cfg,
		Registry:  registryService,
		Signaling: signalingService,
		Relay:     relayService,
		Tokens:    tokenService,
		Push:      push,
		Health:    health,
		Metrics:   metrics,
		Gatherer:  registry,
		Logger:    zapLogger,
		StartedAt: startTime,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go janitor.Run(ctx, cfg.Retention.CleanupInterval)
	if snapshots != nil {
		go snapshots.Run(ctx)
	}
	if bus != nil {
		go func() {
			if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorw("event bus stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting BabaPhone relay server",
			"address", cfg.Server.Address,
			"instance_id", instanceID,
			"redis", repoFactory.UsingRedis(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down BabaPhone relay server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if push != nil {
		push.Close()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	if snapshots != nil {
		if _, err := snapshots.Snapshot(shutdownCtx); err != nil {
			log.Warnw("final registry snapshot failed", "error", err)
		}
	}

	if lease != nil && lease.Held() {
		if err := lease.Unlock(shutdownCtx); err != nil {
			log.Warnw("failed to release cleanup lease", "error", err)
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("tracing shutdown failed", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("BabaPhone relay server stopped")
}
