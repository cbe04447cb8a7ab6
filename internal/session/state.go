package session

import (
	"errors"
	"fmt"
	"time"
)

type Action string

const (
	ActionStart  Action = "start"
	ActionEnd    Action = "end"
	ActionSweep  Action = "sweep"
	ActionCancel Action = "cancel"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyStarted    = errors.New("session is already in progress")
	ErrAlreadyCompleted  = errors.New("session is already completed")
	ErrNotInProgress     = errors.New("session has not been started")
)

func invalidTransition(current SessionStatus, action Action) error {
	return fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, action, current)
}

// Transition is the pure state machine for the session lifecycle. It performs
// no I/O; callers persist the returned status with a compare-and-set against
// the current one.
func Transition(current SessionStatus, action Action) (SessionStatus, error) {
	switch action {
	case ActionStart:
		switch current {
		case StatusScheduled:
			return StatusInProgress, nil
		case StatusInProgress:
			return "", fmt.Errorf("%w: %w", ErrInvalidTransition, ErrAlreadyStarted)
		case StatusCompleted:
			return "", fmt.Errorf("%w: %w", ErrInvalidTransition, ErrAlreadyCompleted)
		default:
			return "", invalidTransition(current, action)
		}

	case ActionEnd:
		switch current {
		case StatusInProgress:
			return StatusCompleted, nil
		case StatusCompleted:
			return "", fmt.Errorf("%w: %w", ErrInvalidTransition, ErrAlreadyCompleted)
		default:
			return "", fmt.Errorf("%w: %w", ErrInvalidTransition, ErrNotInProgress)
		}

	case ActionSweep:
		switch current {
		case StatusScheduled:
			return StatusMissed, nil
		default:
			return "", invalidTransition(current, action)
		}

	case ActionCancel:
		switch current {
		case StatusScheduled, StatusInProgress:
			return StatusCancelled, nil
		case StatusCompleted:
			return "", fmt.Errorf("%w: %w", ErrInvalidTransition, ErrAlreadyCompleted)
		default:
			return "", invalidTransition(current, action)
		}

	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
}

// SweepDue reports whether the session's window has elapsed without it ever
// being started. A session with StartTime set is never swept, regardless of
// clock skew or status.
func SweepDue(s *Session, now time.Time) bool {
	if s.Status.Terminal() || s.StartTime != nil {
		return false
	}
	dur := s.DurationMinutes
	if dur <= 0 {
		dur = DefaultDurationMinutes
	}
	return now.After(s.SessionDate.Add(time.Duration(dur) * time.Minute))
}
