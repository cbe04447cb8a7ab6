package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/physiocare/treatment-session-service/internal/otp"
	"github.com/physiocare/treatment-session-service/internal/session"
)

type RouterConfig struct {
	Service   *session.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	Env       string
	Version   string
	Logger    zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Session endpoints, all behind actor authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/sessions", createSessionHandler(cfg.Service))
		r.Get("/sessions", listSessionsHandler(cfg.Service))
		r.Get("/sessions/{id}", getSessionHandler(cfg.Service))

		r.Post("/sessions/{id}/start/otp", issueOtpHandler(cfg.Service, otp.PurposeStart))
		r.Post("/sessions/{id}/start", confirmStartHandler(cfg.Service))
		r.Post("/sessions/{id}/end/otp", issueOtpHandler(cfg.Service, otp.PurposeEnd))
		r.Post("/sessions/{id}/end", confirmEndHandler(cfg.Service))
		r.Post("/sessions/{id}/cancel", cancelSessionHandler(cfg.Service))

		r.Post("/sessions/{id}/video", attachVideoHandler(cfg.Service))
		r.Patch("/sessions/{id}/video", updateVideoMetaHandler(cfg.Service))
		r.Delete("/sessions/{id}/video", removeVideoHandler(cfg.Service))
	})

	return r
}
