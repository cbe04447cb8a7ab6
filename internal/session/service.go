package session

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/physiocare/treatment-session-service/internal/config"
	"github.com/physiocare/treatment-session-service/internal/otp"
	"github.com/physiocare/treatment-session-service/internal/sms"
	"github.com/physiocare/treatment-session-service/internal/storage"
)

const (
	EventSessionCreated   = "SESSION_CREATED"
	EventOtpIssued        = "SESSION_OTP_ISSUED"
	EventSessionStarted   = "SESSION_STARTED"
	EventSessionCompleted = "SESSION_COMPLETED"
	EventSessionMissed    = "SESSION_MISSED"
	EventSessionCancelled = "SESSION_CANCELLED"
	EventVideoAttached    = "SESSION_VIDEO_ATTACHED"
	EventVideoRemoved     = "SESSION_VIDEO_REMOVED"
)

var (
	ErrValidation      = errors.New("invalid input")
	ErrExternalService = errors.New("external service failure")
)

type Service struct {
	repo  Repository
	otp   otp.Store
	sms   sms.Gateway
	store storage.ObjectStorage
	clock Clock
	log   zerolog.Logger
	cfg   config.Config
}

func NewService(repo Repository, otpStore otp.Store, smsGateway sms.Gateway, objectStore storage.ObjectStorage, clock Clock, log zerolog.Logger, cfg config.Config) *Service {
	if clock == nil {
		clock = RealClock()
	}
	return &Service{
		repo:  repo,
		otp:   otpStore,
		sms:   smsGateway,
		store: objectStore,
		clock: clock,
		log:   log,
		cfg:   cfg,
	}
}

type CreateSessionInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	PhysioID        uuid.UUID
	SurgeryType     string
	AmountPaid      float64
	TotalSessions   int
	SessionDate     time.Time
	DurationMinutes int
	Notes           string
}

func (in *CreateSessionInput) validate() error {
	switch {
	case in.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	case in.DoctorID == uuid.Nil:
		return fmt.Errorf("%w: doctor_id is required", ErrValidation)
	case in.PhysioID == uuid.Nil:
		return fmt.Errorf("%w: physio_id is required", ErrValidation)
	case in.SurgeryType == "":
		return fmt.Errorf("%w: surgery_type is required", ErrValidation)
	case in.TotalSessions <= 0:
		return fmt.Errorf("%w: total_sessions must be positive", ErrValidation)
	case in.AmountPaid < 0:
		return fmt.Errorf("%w: amount_paid cannot be negative", ErrValidation)
	case in.DurationMinutes < 0:
		return fmt.Errorf("%w: duration_minutes cannot be negative", ErrValidation)
	}
	return nil
}

// CreateSession registers a scheduled session. All three entity references
// are verified and the row inserted inside one repository transaction.
func (s *Service) CreateSession(ctx context.Context, actor Actor, in CreateSessionInput) (*Session, error) {
	if err := Authorize(actor, nil, OpCreate); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	duration := in.DurationMinutes
	if duration == 0 {
		duration = s.cfg.DefaultSessionMinutes
	}
	if duration == 0 {
		duration = DefaultDurationMinutes
	}

	sessionDate := in.SessionDate
	if sessionDate.IsZero() {
		sessionDate = s.clock.Now()
	}

	sess := &Session{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		PhysioID:        in.PhysioID,
		SurgeryType:     in.SurgeryType,
		AmountPaid:      in.AmountPaid,
		TotalSessions:   in.TotalSessions,
		DurationMinutes: duration,
		Notes:           in.Notes,
		SessionDate:     sessionDate,
		Status:          StatusScheduled,
		CreatedBy:       actor.ID,
	}

	created, err := s.repo.CreateSession(ctx, sess)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventSessionCreated, map[string]any{
		"patient_id": created.PatientID.String(),
		"physio_id":  created.PhysioID.String(),
	})

	return created, nil
}

// IssueStartOtp sends a one-time code to the patient's phone, gating the
// scheduled → in_progress transition.
func (s *Service) IssueStartOtp(ctx context.Context, actor Actor, id uuid.UUID) error {
	return s.issueOtp(ctx, actor, id, otp.PurposeStart)
}

// IssueEndOtp sends a one-time code gating the in_progress → completed
// transition.
func (s *Service) IssueEndOtp(ctx context.Context, actor Actor, id uuid.UUID) error {
	return s.issueOtp(ctx, actor, id, otp.PurposeEnd)
}

func (s *Service) issueOtp(ctx context.Context, actor Actor, id uuid.UUID, purpose otp.Purpose) error {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}

	op := OpStart
	requiredStatus := StatusScheduled
	if purpose == otp.PurposeEnd {
		op = OpEnd
		requiredStatus = StatusInProgress
	}

	if err := Authorize(actor, sess, op); err != nil {
		return err
	}

	// State is checked before dispatch so a wrong-state request never burns
	// an SMS send.
	if sess.Status != requiredStatus {
		return invalidTransition(sess.Status, Action(purpose))
	}

	patient, err := s.repo.GetPatientByID(ctx, sess.PatientID)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate otp code: %w", err)
	}

	if err := s.otp.Put(ctx, id, purpose, code, s.cfg.OtpTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	message := fmt.Sprintf("Your code to %s treatment session is %s. It expires in %d minutes.",
		purpose, code, int(s.cfg.OtpTTL.Minutes()))

	smsCtx, cancel := context.WithTimeout(ctx, s.cfg.SmsTimeout)
	defer cancel()

	if err := s.sms.Send(smsCtx, patient.Phone, message); err != nil {
		// The code never reached the patient; leaving the challenge live
		// would open a guess-only verification window.
		if delErr := s.otp.Delete(ctx, id, purpose); delErr != nil {
			s.log.Error().Err(delErr).Stringer("session_id", id).Msg("rollback otp challenge failed")
		}
		return fmt.Errorf("%w: sms dispatch: %v", ErrExternalService, err)
	}

	s.logEvent(ctx, id, EventOtpIssued, map[string]any{
		"purpose": string(purpose),
	})

	return nil
}

// generateCode draws a 4-digit code uniformly from 1111–9999.
func generateCode() (string, error) {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(9999-1111+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+1111, 10), nil
}

// ConfirmStart verifies the start code and moves the session to in_progress.
// The status update is a compare-and-set, so a racing transition (another
// confirm, a sweep) leaves exactly one winner.
func (s *Service) ConfirmStart(ctx context.Context, actor Actor, id uuid.UUID, code string) (*Session, error) {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, sess, OpStart); err != nil {
		return nil, err
	}

	next, err := Transition(sess.Status, ActionStart)
	if err != nil {
		return nil, err
	}

	if err := s.otp.Consume(ctx, id, otp.PurposeStart, code); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, err := s.repo.UpdateSessionStatus(ctx, id, sess.Status, next, StatusPatch{
		StartTime: &now,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventSessionStarted, map[string]any{
		"start_time": now,
	})

	return updated, nil
}

// ConfirmEnd verifies the end code and completes the session, recording the
// elapsed duration and bumping the completed-sessions counter.
func (s *Service) ConfirmEnd(ctx context.Context, actor Actor, id uuid.UUID, code string, notes *string) (*Session, error) {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, sess, OpEnd); err != nil {
		return nil, err
	}

	next, err := Transition(sess.Status, ActionEnd)
	if err != nil {
		return nil, err
	}

	if err := s.otp.Consume(ctx, id, otp.PurposeEnd, code); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	actual := 0
	if sess.StartTime != nil {
		actual = int(now.Sub(*sess.StartTime).Minutes())
	}

	updated, err := s.repo.UpdateSessionStatus(ctx, id, sess.Status, next, StatusPatch{
		EndTime:               &now,
		ActualDurationMinutes: &actual,
		Notes:                 notes,
		IncrementCompleted:    true,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventSessionCompleted, map[string]any{
		"end_time":        now,
		"actual_duration": actual,
		"completed_count": updated.CompletedSessions,
	})

	return updated, nil
}

// CancelSession marks a not-yet-completed session cancelled. Admin only.
func (s *Service) CancelSession(ctx context.Context, actor Actor, id uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, sess, OpCancel); err != nil {
		return nil, err
	}

	next, err := Transition(sess.Status, ActionCancel)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateSessionStatus(ctx, id, sess.Status, next, StatusPatch{})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventSessionCancelled, map[string]any{})

	return updated, nil
}

// GetSession returns a single session, sweep-reconciled.
func (s *Service) GetSession(ctx context.Context, actor Actor, id uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, sess, OpRead); err != nil {
		return nil, err
	}

	reconciled := s.reconcile(ctx, []Session{*sess})
	return &reconciled[0], nil
}

// ListSessions returns sessions matching the filter. Non-admin actors are
// always scoped to their own sessions, and results are sweep-reconciled
// before they are returned so callers never observe a stale status.
func (s *Service) ListSessions(ctx context.Context, actor Actor, f Filter) ([]Session, error) {
	switch actor.Role {
	case RoleAdmin:
		// unrestricted
	case RolePatient:
		id := actor.ID
		f.PatientID = &id
	case RoleDoctor:
		id := actor.ID
		f.DoctorID = &id
	case RolePhysio:
		id := actor.ID
		f.PhysioID = &id
	default:
		return nil, ErrForbidden
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	sessions, err := s.repo.ListSessions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return s.reconcile(ctx, sessions), nil
}

// reconcile lazily flips sessions whose window elapsed without a start to
// missed. Idempotent: a second pass over the same sessions writes nothing.
// Each flip is a compare-and-set, so racing with a concurrent start is safe:
// the loser just re-reads the winner's state.
func (s *Service) reconcile(ctx context.Context, sessions []Session) []Session {
	now := s.clock.Now()

	for i := range sessions {
		sess := &sessions[i]
		if !SweepDue(sess, now) {
			continue
		}

		next, err := Transition(sess.Status, ActionSweep)
		if err != nil {
			continue
		}

		updated, err := s.repo.UpdateSessionStatus(ctx, sess.ID, sess.Status, next, StatusPatch{})
		switch {
		case err == nil:
			sessions[i] = *updated
			s.logEvent(ctx, sess.ID, EventSessionMissed, map[string]any{
				"reason": "window_elapsed",
			})
		case errors.Is(err, ErrStatusConflict):
			// A concurrent transition won; reflect whatever it decided.
			if current, gerr := s.repo.GetSessionByID(ctx, sess.ID); gerr == nil {
				sessions[i] = *current
			}
		default:
			s.log.Error().Err(err).Stringer("session_id", sess.ID).Msg("sweep status update failed")
		}
	}

	return sessions
}

// SweepDueSessions is the periodic variant of the lazy sweep, intended for
// the sweep worker. It queries candidates directly instead of piggybacking
// on a read path.
func (s *Service) SweepDueSessions(ctx context.Context) error {
	now := s.clock.Now()
	candidates, err := s.repo.FindSweepCandidates(ctx, now)
	if err != nil {
		return fmt.Errorf("find sweep candidates: %w", err)
	}

	for _, sess := range candidates {
		_, err := s.repo.UpdateSessionStatus(ctx, sess.ID, sess.Status, StatusMissed, StatusPatch{})
		if err != nil {
			if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrSessionNotFound) {
				continue
			}
			s.log.Error().Err(err).Stringer("session_id", sess.ID).Msg("sweep worker update failed")
			continue
		}
		s.logEvent(ctx, sess.ID, EventSessionMissed, map[string]any{
			"reason": "worker",
		})
	}

	return nil
}

func (s *Service) logEvent(ctx context.Context, sessionID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload failed")
		data = nil
	}

	sessID := sessionID

	ev := EventLog{
		EventType: eventType,
		SessionID: &sessID,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Stringer("session_id", sessionID).Msg("insert event log failed")
	}
}
