package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const sessionColumns = `
	id, patient_id, doctor_id, physio_id,
	surgery_type, amount_paid, total_sessions, completed_sessions,
	duration_minutes, notes, session_date, status,
	start_time, end_time, actual_duration_minutes,
	video_url, video_storage_key, video_uploaded_at, video_uploaded_by,
	video_title, video_description,
	created_by, created_at, updated_at`

// Helpers

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var (
		videoURL, videoKey, videoTitle, videoDesc *string
		videoUploadedAt                           *time.Time
		videoUploadedBy                           *uuid.UUID
	)

	err := row.Scan(
		&s.ID, &s.PatientID, &s.DoctorID, &s.PhysioID,
		&s.SurgeryType, &s.AmountPaid, &s.TotalSessions, &s.CompletedSessions,
		&s.DurationMinutes, &s.Notes, &s.SessionDate, &s.Status,
		&s.StartTime, &s.EndTime, &s.ActualDurationMinutes,
		&videoURL, &videoKey, &videoUploadedAt, &videoUploadedBy,
		&videoTitle, &videoDesc,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if videoURL != nil && videoKey != nil {
		v := VideoArtifact{
			URL:        *videoURL,
			StorageKey: *videoKey,
		}
		if videoUploadedAt != nil {
			v.UploadedAt = *videoUploadedAt
		}
		if videoUploadedBy != nil {
			v.UploadedBy = *videoUploadedBy
		}
		if videoTitle != nil {
			v.Title = *videoTitle
		}
		if videoDesc != nil {
			v.Description = *videoDesc
		}
		s.Video = &v
	}

	return &s, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetPhysioByID(ctx context.Context, id uuid.UUID) (*Physiotherapist, error) {
	var p Physiotherapist
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM physiotherapists
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPhysioNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateSession checks all three references and inserts the row in one
// transaction, so a reference deleted mid-check cannot leave a dangling
// session behind.
func (r *PgRepository) CreateSession(ctx context.Context, s *Session) (*Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback(ctx)

	var missing []RefKind

	checks := []struct {
		kind  RefKind
		table string
		id    uuid.UUID
	}{
		{RefPatient, "patients", s.PatientID},
		{RefDoctor, "doctors", s.DoctorID},
		{RefPhysio, "physiotherapists", s.PhysioID},
	}

	for _, c := range checks {
		var exists bool
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, c.table),
			c.id,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check %s reference: %w", c.kind, err)
		}
		if !exists {
			missing = append(missing, c.kind)
		}
	}

	if len(missing) > 0 {
		return nil, &MissingReferencesError{Missing: missing}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO sessions (
			id, patient_id, doctor_id, physio_id,
			surgery_type, amount_paid, total_sessions, completed_sessions,
			duration_minutes, notes, session_date, status,
			created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+sessionColumns+`
	`, s.ID, s.PatientID, s.DoctorID, s.PhysioID,
		s.SurgeryType, s.AmountPaid, s.TotalSessions,
		s.DurationMinutes, s.Notes, s.SessionDate, s.Status,
		s.CreatedBy)

	created, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}

	return created, nil
}

func (r *PgRepository) GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (r *PgRepository) ListSessions(ctx context.Context, f Filter) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []any{}
	idx := 1

	addFilter := func(clause string, value any) {
		query += fmt.Sprintf(" AND %s = $%d", clause, idx)
		args = append(args, value)
		idx++
	}

	if f.PatientID != nil {
		addFilter("patient_id", *f.PatientID)
	}
	if f.DoctorID != nil {
		addFilter("doctor_id", *f.DoctorID)
	}
	if f.PhysioID != nil {
		addFilter("physio_id", *f.PhysioID)
	}
	if f.Status != nil {
		addFilter("status", *f.Status)
	}

	query += fmt.Sprintf(" ORDER BY session_date DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus, patch StatusPatch) (*Session, error) {
	inc := 0
	if patch.IncrementCompleted {
		inc = 1
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET status = $2,
		    start_time = COALESCE($4, start_time),
		    end_time = COALESCE($5, end_time),
		    actual_duration_minutes = COALESCE($6, actual_duration_minutes),
		    notes = COALESCE($7, notes),
		    completed_sessions = completed_sessions + $8,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+sessionColumns+`
	`, id, to, from,
		patch.StartTime, patch.EndTime, patch.ActualDurationMinutes, patch.Notes, inc)

	updated, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, r.statusMiss(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

// statusMiss distinguishes a missing row from a lost compare-and-set race.
func (r *PgRepository) statusMiss(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrSessionNotFound
	}
	return ErrStatusConflict
}

func (r *PgRepository) SetVideo(ctx context.Context, id uuid.UUID, v *VideoArtifact) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET video_url = $2,
		    video_storage_key = $3,
		    video_uploaded_at = $4,
		    video_uploaded_by = $5,
		    video_title = $6,
		    video_description = $7,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'completed'
		RETURNING `+sessionColumns+`
	`, id, v.URL, v.StorageKey, v.UploadedAt, v.UploadedBy, v.Title, v.Description)

	updated, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			if missErr := r.statusMiss(ctx, id); errors.Is(missErr, ErrSessionNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, ErrSessionNotCompleted
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) UpdateVideoMeta(ctx context.Context, id uuid.UUID, title, description *string) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET video_title = COALESCE($2, video_title),
		    video_description = COALESCE($3, video_description),
		    updated_at = now()
		WHERE id = $1
		  AND video_url IS NOT NULL
		RETURNING `+sessionColumns+`
	`, id, title, description)

	updated, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			if missErr := r.statusMiss(ctx, id); errors.Is(missErr, ErrSessionNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) ClearVideo(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET video_url = NULL,
		    video_storage_key = NULL,
		    video_uploaded_at = NULL,
		    video_uploaded_by = NULL,
		    video_title = NULL,
		    video_description = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+sessionColumns+`
	`, id)
	return scanSession(row)
}

func (r *PgRepository) FindSweepCandidates(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'scheduled'
		  AND start_time IS NULL
		  AND session_date + make_interval(mins => duration_minutes) < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, session_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SessionID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
