package session

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	StatusScheduled  SessionStatus = "scheduled"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusMissed     SessionStatus = "missed"
	StatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no transition may leave this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed || s == StatusCancelled
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RolePhysio  Role = "physiotherapist"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// DefaultDurationMinutes is the planned session length when none is given.
const DefaultDurationMinutes = 60

type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Physiotherapist struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VideoArtifact is the recorded video attached to a completed session.
type VideoArtifact struct {
	URL         string
	StorageKey  string
	UploadedAt  time.Time
	UploadedBy  uuid.UUID
	Title       string
	Description string
}

type Session struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	PhysioID  uuid.UUID

	SurgeryType       string
	AmountPaid        float64
	TotalSessions     int
	CompletedSessions int
	DurationMinutes   int
	Notes             string

	SessionDate time.Time

	Status                SessionStatus
	StartTime             *time.Time
	EndTime               *time.Time
	ActualDurationMinutes *int

	Video *VideoArtifact

	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SessionID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// Clock abstracts wall-clock time so window and expiry logic is testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func RealClock() Clock { return realClock{} }
