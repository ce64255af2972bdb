// Package main runs the walletchat API server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/R3E-Network/walletchat/internal/app"
	"github.com/R3E-Network/walletchat/internal/app/httpapi"
	"github.com/R3E-Network/walletchat/internal/config"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("WALLETCHAT_CONFIG"), "Path to YAML config file")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("walletchat").WithError(err).Fatal("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New("walletchat", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("WALLETCHAT_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start services")
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, log.Named("httpapi"))
	defer handler.Close()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).
			WithField("backend", cfg.Backend.Kind).
			Info("walletchat listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop application")
	}
	log.Info("walletchat stopped")
}
