package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/physiocare/treatment-session-service/internal/api"
	"github.com/physiocare/treatment-session-service/internal/config"
	"github.com/physiocare/treatment-session-service/internal/db"
	"github.com/physiocare/treatment-session-service/internal/otp"
	redisclient "github.com/physiocare/treatment-session-service/internal/redis"
	"github.com/physiocare/treatment-session-service/internal/session"
	"github.com/physiocare/treatment-session-service/internal/sms"
	"github.com/physiocare/treatment-session-service/internal/storage"
)

const version = "0.1.0"

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.Connect(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	var smsGateway sms.Gateway
	if cfg.SmsGatewayURL != "" {
		smsGateway = sms.NewHTTPGateway(cfg.SmsGatewayURL, cfg.SmsAPIKey, cfg.SmsTimeout)
	} else {
		log.Warn().Msg("SMS_GATEWAY_URL not set, codes will be logged instead of sent")
		smsGateway = sms.NewLogGateway(log)
	}

	objectStore, err := storage.NewDiskStore(cfg.VideoStorageDir, cfg.VideoBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("video storage init error")
	}

	repo := session.NewPgRepository(pgPool)
	otpStore := otp.NewRedisStore(rdb)
	svc := session.NewService(repo, otpStore, smsGateway, objectStore, session.RealClock(), log, cfg)

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		PgPool:    pgPool,
		Redis:     rdb,
		JWTSecret: cfg.JWTSecret,
		Env:       cfg.Env,
		Version:   version,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("api-server stopped")
}
