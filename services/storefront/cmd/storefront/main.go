package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ready2publish/internal/metrics"
	"ready2publish/internal/util"
	"ready2publish/services/storefront/internal/app"
	"ready2publish/services/storefront/internal/config"
	"ready2publish/services/storefront/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("STOREFRONT_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cartTTL, err := config.ParseDuration("cartTTL", cfg.CartTTL)
	if err != nil {
		log.Fatalf("failed to parse cart TTL: %v", err)
	}
	idleTTL, err := config.ParseDuration("sessionIdleTTL", cfg.SessionIdleTTL)
	if err != nil {
		log.Fatalf("failed to parse session idle TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "storefront")
	if cfg.DevMode {
		logger.Warn("dev mode: in-memory auth and store, do not expose")
	}

	appCore, err := app.New(app.Config{
		Logger:           logger,
		DevMode:          cfg.DevMode,
		AuthURL:          cfg.AuthURL,
		AuthAnonKey:      cfg.AuthAnonKey,
		EmailRedirectURL: cfg.EmailRedirectURL,
		DevJWTSecret:     cfg.DevJWTSecret,
		FunctionsURL:     cfg.FunctionsURL,
		PublicBaseURL:    cfg.PublicBaseURL,
		DatabaseURL:      cfg.DatabaseURL,
		RedisAddr:        cfg.RedisAddr,
		RedisPassword:    cfg.RedisPassword,
		CartTTL:          cartTTL,
		SessionIdleTTL:   idleTTL,
		MaxDevices:       cfg.MaxDevices,
		Currency:         cfg.Currency,
		FAQPath:          cfg.FAQPath,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		AMQPURL:          cfg.AMQPURL,
		EventExchange:    cfg.EventExchange,
		ContactQueue:     cfg.ContactQueue,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		Metrics:                   metrics.New("storefront"),
		DeviceCookieName:          cfg.DeviceCookieName,
		DeviceCookieSecure:        cfg.DeviceCookieSecure,
		DeviceCookieTTL:           cartTTL,
		CORSOrigins:               cfg.CORSOrigins,
		TrustedProxyCIDRs:         cfg.TrustedProxyCIDRs,
		SigninRateLimitPerMinute:  cfg.SigninRateLimitPerMin,
		SignupRateLimitPerMinute:  cfg.SignupRateLimitPerMin,
		ContactRateLimitPerMinute: cfg.ContactRateLimitPerMin,
		MaxUploadBytes:            cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go appCore.Sessions().Run(ctx, time.Minute)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	logger.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
