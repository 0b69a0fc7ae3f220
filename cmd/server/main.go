package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"smartduka/backend/internal/app"
	"smartduka/backend/internal/config"
	"smartduka/backend/internal/httpapi"
	"smartduka/backend/internal/logger"
	"smartduka/backend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.For("main").WithError(err).Fatal("load configuration")
	}
	if err := logger.Init(loggerConfig(cfg)); err != nil {
		logger.For("main").WithError(err).Fatal("init logger")
	}
	defer logger.Close()
	log := logger.For("main")

	if err := validateSecurityConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("open backends")
	}
	if err := backend.EnsureSuperAdmin(ctx, cfg.SeedSuperAdminEmail, cfg.SeedSuperAdminPassword); err != nil {
		log.WithError(err).Error("seed super admin")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), backend.Repo)
	api := httpapi.New(backend.Service, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	waitWorkers := worker.RunAll(workerCtx, worker.Standard(backend.Service, backend.Service, cfg.WorkerInterval)...)

	go func() {
		log.WithField("addr", cfg.Address()).Info("SmartDuka backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	stopWorkers()
	waitWorkers()

	if err := backend.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("close error")
	}
	log.Info("server stopped")
}

func loggerConfig(cfg config.Config) logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = cfg.LogLevel
	lc.Format = cfg.LogFormat
	lc.Output = cfg.LogOutput
	lc.Path = cfg.LogPath
	return lc
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SeedSuperAdminEmail != "" && len(cfg.SeedSuperAdminPassword) < 12 {
		return fmt.Errorf("SEED_SUPER_ADMIN_PASSWORD must be at least 12 characters")
	}
	if cfg.Mpesa.ConsumerKey != "" && !cfg.Mpesa.Enabled() {
		return fmt.Errorf("MPESA_CONSUMER_SECRET and MPESA_PASSKEY are required with MPESA_CONSUMER_KEY")
	}
	if cfg.Mpesa.Enabled() && cfg.Mpesa.CallbackURL == "" {
		return fmt.Errorf("MPESA_CALLBACK_URL is required when M-Pesa is enabled")
	}
	return nil
}
