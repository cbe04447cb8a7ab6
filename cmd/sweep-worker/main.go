package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/physiocare/treatment-session-service/internal/config"
	"github.com/physiocare/treatment-session-service/internal/db"
	"github.com/physiocare/treatment-session-service/internal/otp"
	"github.com/physiocare/treatment-session-service/internal/session"
	"github.com/physiocare/treatment-session-service/internal/sms"
	"github.com/physiocare/treatment-session-service/internal/storage"
)

// The lazy read-path sweep already keeps API consumers consistent; this
// worker exists for external consumers (reporting, payment reconciliation)
// that read the database directly and need missed sessions flipped on a
// bounded schedule.
func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "sweep-worker").Logger()
	log.Info().Msg("sweep-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("running sweep worker")

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

	repo := session.NewPgRepository(pgPool)

	// The sweep path touches neither OTP, SMS nor storage; inert
	// collaborators keep the constructor honest.
	svc := session.NewService(repo, otp.NewMemoryStore(nil), sms.NewLogGateway(log), storage.NewMemoryStore(), session.RealClock(), log, cfg)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *session.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.SweepDueSessions(runCtx); err != nil {
		log.Error().Err(err).Msg("sweep run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("sweep run complete")
}
