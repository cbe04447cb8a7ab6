package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrPhysioNotFound  = errors.New("physiotherapist not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrStatusConflict is returned when a compare-and-set status update finds
	// the row no longer in the expected status: a concurrent transition won.
	ErrStatusConflict = errors.New("session status changed concurrently")
)

// RefKind identifies which external entity collection a session reference
// points into.
type RefKind string

const (
	RefPatient RefKind = "patient"
	RefDoctor  RefKind = "doctor"
	RefPhysio  RefKind = "physiotherapist"
)

// MissingReferencesError reports every session reference that failed the
// existence check, not just the first one.
type MissingReferencesError struct {
	Missing []RefKind
}

func (e *MissingReferencesError) Error() string {
	kinds := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		kinds[i] = string(k)
	}
	return "referenced entities not found: " + strings.Join(kinds, ", ")
}

// StatusPatch carries the fields a lifecycle transition sets alongside the
// status itself. Nil fields are left untouched.
type StatusPatch struct {
	StartTime             *time.Time
	EndTime               *time.Time
	ActualDurationMinutes *int
	Notes                 *string
	IncrementCompleted    bool
}

// Filter narrows ListSessions. Nil reference fields match everything.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	PhysioID  *uuid.UUID
	Status    *SessionStatus
	Limit     int
	Offset    int
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPhysioByID(ctx context.Context, id uuid.UUID) (*Physiotherapist, error)

	// CreateSession verifies all three entity references and inserts the row
	// in a single transaction. A missing reference aborts the insert and is
	// reported as *MissingReferencesError.
	CreateSession(ctx context.Context, s *Session) (*Session, error)

	GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, f Filter) ([]Session, error)

	// UpdateSessionStatus applies a lifecycle transition as a compare-and-set:
	// the row is updated only while its status is still `from`. When the row
	// exists but the status no longer matches, ErrStatusConflict is returned.
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus, patch StatusPatch) (*Session, error)

	// Video artifact column updates. SetVideo is gated on status=completed.
	SetVideo(ctx context.Context, id uuid.UUID, v *VideoArtifact) (*Session, error)
	UpdateVideoMeta(ctx context.Context, id uuid.UUID, title, description *string) (*Session, error)
	ClearVideo(ctx context.Context, id uuid.UUID) (*Session, error)

	// FindSweepCandidates returns sessions whose window elapsed without a
	// recorded start, for the periodic sweep worker.
	FindSweepCandidates(ctx context.Context, now time.Time) ([]Session, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
