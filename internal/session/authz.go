package session

import "errors"

type Operation string

const (
	OpCreate Operation = "create"
	OpStart  Operation = "start"
	OpEnd    Operation = "end"
	OpCancel Operation = "cancel"
	OpVideo  Operation = "video"
	OpRead   Operation = "read"
)

var ErrForbidden = errors.New("operation not permitted")

// Authorize applies the role and ownership rules for a session operation.
// The session may be nil only for OpCreate. Start and end (including OTP
// issuance) are an ownership check against the session's physiotherapist,
// not a bare role check.
func Authorize(actor Actor, sess *Session, op Operation) error {
	switch op {
	case OpCreate, OpCancel:
		if actor.Role != RoleAdmin {
			return ErrForbidden
		}
		return nil

	case OpStart, OpEnd:
		if actor.Role == RolePhysio && sess != nil && actor.ID == sess.PhysioID {
			return nil
		}
		return ErrForbidden

	case OpVideo:
		if actor.Role == RoleAdmin {
			return nil
		}
		if actor.Role == RolePhysio && sess != nil && actor.ID == sess.PhysioID {
			return nil
		}
		return ErrForbidden

	case OpRead:
		if actor.Role == RoleAdmin {
			return nil
		}
		if sess == nil {
			return ErrForbidden
		}
		switch actor.Role {
		case RolePatient:
			if actor.ID == sess.PatientID {
				return nil
			}
		case RoleDoctor:
			if actor.ID == sess.DoctorID {
				return nil
			}
		case RolePhysio:
			if actor.ID == sess.PhysioID {
				return nil
			}
		}
		return ErrForbidden

	default:
		return ErrForbidden
	}
}
