package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	pgPool  *pgxpool.Pool
	redis   *redis.Client
	env     string
	version string
}

func NewHealthHandler(pgPool *pgxpool.Pool, redis *redis.Client, env, version string) *HealthHandler {
	return &HealthHandler{
		pgPool:  pgPool,
		redis:   redis,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Status       string                      `json:"status"`
	Version      string                      `json:"version,omitempty"`
	Env          string                      `json:"env,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness pings both backing stores. Postgres down means no session reads
// or writes at all, so the service reports error. Redis down only blocks the
// OTP challenge store: session reads still work, so that is degraded.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	deps := map[string]DependencyStatus{
		"postgres": checkDependency(r.Context(), func(ctx context.Context) error {
			return h.pgPool.Ping(ctx)
		}),
		"redis": checkDependency(r.Context(), func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}),
	}

	status := "ok"
	httpStatus := http.StatusOK
	switch {
	case deps["postgres"].Status != "ok":
		status = "error"
		httpStatus = http.StatusServiceUnavailable
	case deps["redis"].Status != "ok":
		status = "degraded"
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

func checkDependency(ctx context.Context, ping func(context.Context) error) DependencyStatus {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	start := time.Now()
	err := ping(pingCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return DependencyStatus{Status: "down", LatencyMs: latency, Error: err.Error()}
	}
	return DependencyStatus{Status: "ok", LatencyMs: latency}
}
