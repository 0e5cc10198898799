package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/auth"
	"github.com/diewo77/go-achats/internal/db"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/server"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := openDB(ctx)
	if err != nil {
		return err
	}
	if cfg.App.Migrations || cfg.Database.Driver == "sqlite" {
		if err := db.Migrate(conn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations completed")
	}
	if err := seed(conn); err != nil {
		return err
	}

	if !cfg.App.Dev && (cfg.Auth.SessionSecret == "" || cfg.Auth.TokenSecret == "") {
		return errors.New("SESSION_SECRET and JWT_SECRET are required when DEV is off")
	}
	auth.Configure(auth.Options{
		SessionSecret: cfg.Auth.SessionSecret,
		TokenSecret:   cfg.Auth.TokenSecret,
		TokenTTL:      cfg.Auth.TokenTTL,
		SecureCookie:  cfg.Auth.SecureCookie,
	})

	bucket, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	ag := policy.NewAuthGate(conn, cfg.App.CacheTTL)
	go pruneProfiles(ctx, ag)
	svc := services.New(services.Deps{DB: conn, Authz: ag, Log: logger}, bucket)

	handler := server.New(server.Config{
		DB:           conn,
		AuthGate:     ag,
		Services:     svc,
		Log:          logger,
		Limiter:      auth.NewLoginLimiter(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst),
		MaxUploadMiB: cfg.Storage.MaxUploadMiB,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.Bool("dev", cfg.App.Dev),
			zap.String("storage", cfg.Storage.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// pruneProfiles drops expired cached profiles until ctx is done.
func pruneProfiles(ctx context.Context, ag *policy.AuthGate) {
	if cfg.App.CacheTTL <= 0 {
		return
	}
	t := time.NewTicker(cfg.App.CacheTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := ag.CacheResolver.Prune(); n > 0 {
				logger.Debug("pruned cached profiles", zap.Int("count", n))
			}
		}
	}
}

func openDB(ctx context.Context) (*gorm.DB, error) {
	conn, err := db.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return conn, nil
}

func seed(conn *gorm.DB) error {
	catalog, err := db.LoadCatalog(cfg.App.SeedFile)
	if err != nil {
		return err
	}
	if err := db.Seed(conn, catalog); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
