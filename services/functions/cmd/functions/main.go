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
	"ready2publish/internal/usertoken"
	"ready2publish/internal/util"
	"ready2publish/pkg/storage"
	"ready2publish/services/functions/internal/app"
	"ready2publish/services/functions/internal/config"
	"ready2publish/services/functions/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("FUNCTIONS_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "functions")
	if cfg.DevMode {
		logger.Warn("dev mode: in-memory store and uploads, do not expose")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenVerifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		Secret:     cfg.JWTSecret,
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     leeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	appCore, err := app.New(ctx, app.Config{
		Logger:        logger,
		DevMode:       cfg.DevMode,
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		Minio: storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		},
		PublicBaseURL:  cfg.PublicBaseURL,
		AMQPURL:        cfg.AMQPURL,
		OrderExchange:  cfg.OrderExchange,
		OrderQueue:     cfg.OrderQueue,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Currency:       cfg.Currency,
		CommissionRate: *cfg.CommissionRate,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:                appCore,
		Tokens:             tokenVerifier,
		Metrics:            metrics.New("functions"),
		CORSOrigins:        cfg.CORSOrigins,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMin,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
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

	logger.Info("functions server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
