package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/physiocare/treatment-session-service/internal/db"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Str("service", "seed").Logger()

func main() {
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.ApplySchema(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("apply schema")
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, 50); err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPhysios(context.Background(), pool, 80); err != nil {
		log.Fatal().Err(err).Msg("seed physiotherapists")
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedSessions(context.Background(), pool, 2000); err != nil {
		log.Fatal().Err(err).Msg("seed sessions")
	}

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
		"Orthopedic Surgery",
		"Sports Medicine",
		"Neurosurgery",
		"Rheumatology",
		"Spinal Surgery",
		"General Surgery",
		"Rehabilitation Medicine",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("doctors seeded")
	return nil
}

func seedPhysios(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding physiotherapists")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		phone := gofakeit.Phone()

		_, err := tx.Exec(ctx, `
			INSERT INTO physiotherapists (id, name, phone, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, phone)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("physiotherapists seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			phone := gofakeit.Phone()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, phone, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, phone, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded batch")
	}

	log.Info().Msg("patients seeded")
	return nil
}

func seedSessions(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding scheduled sessions")

	loadIDs := func(table string) ([]uuid.UUID, error) {
		rows, err := pool.Query(ctx, `SELECT id FROM `+table)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}

	patients, err := loadIDs("patients")
	if err != nil {
		return err
	}
	doctors, err := loadIDs("doctors")
	if err != nil {
		return err
	}
	physios, err := loadIDs("physiotherapists")
	if err != nil {
		return err
	}
	if len(patients) == 0 || len(doctors) == 0 || len(physios) == 0 {
		return nil
	}

	surgeries := []string{
		"knee replacement",
		"hip replacement",
		"ACL reconstruction",
		"rotator cuff repair",
		"spinal fusion",
		"ankle fracture fixation",
	}

	adminID := uuid.New()

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			sessionDate := time.Now().Add(time.Duration(gofakeit.Number(1, 14*24)) * time.Hour)

			_, err := tx.Exec(ctx, `
				INSERT INTO sessions (
					id, patient_id, doctor_id, physio_id,
					surgery_type, amount_paid, total_sessions, completed_sessions,
					duration_minutes, notes, session_date, status,
					created_by, created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, '', $9, 'scheduled', $10, now(), now())
			`,
				uuid.New(),
				patients[gofakeit.Number(0, len(patients)-1)],
				doctors[gofakeit.Number(0, len(doctors)-1)],
				physios[gofakeit.Number(0, len(physios)-1)],
				surgeries[gofakeit.Number(0, len(surgeries)-1)],
				float64(gofakeit.Number(1500, 9000)),
				gofakeit.Number(5, 20),
				gofakeit.Number(30, 90),
				sessionDate,
				adminID,
			)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("sessions seeded batch")
	}

	log.Info().Msg("sessions seeded")
	return nil
}
