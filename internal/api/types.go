package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/physiocare/treatment-session-service/internal/session"
)

type CreateSessionRequest struct {
	PatientID       string     `json:"patient_id"`
	DoctorID        string     `json:"doctor_id"`
	PhysioID        string     `json:"physio_id"`
	SurgeryType     string     `json:"surgery_type"`
	AmountPaid      float64    `json:"amount_paid"`
	TotalSessions   int        `json:"total_sessions"`
	SessionDate     *time.Time `json:"session_date,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

type ConfirmRequest struct {
	Code  string  `json:"code"`
	Notes *string `json:"notes,omitempty"`
}

type VideoMetaRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type VideoResponse struct {
	URL         string    `json:"url"`
	UploadedAt  time.Time `json:"uploaded_at"`
	UploadedBy  uuid.UUID `json:"uploaded_by"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
}

type SessionResponse struct {
	ID                    uuid.UUID      `json:"id"`
	PatientID             uuid.UUID      `json:"patient_id"`
	DoctorID              uuid.UUID      `json:"doctor_id"`
	PhysioID              uuid.UUID      `json:"physio_id"`
	SurgeryType           string         `json:"surgery_type"`
	AmountPaid            float64        `json:"amount_paid"`
	TotalSessions         int            `json:"total_sessions"`
	CompletedSessions     int            `json:"completed_sessions"`
	DurationMinutes       int            `json:"duration_minutes"`
	Notes                 string         `json:"notes,omitempty"`
	SessionDate           time.Time      `json:"session_date"`
	Status                string         `json:"status"`
	StartTime             *time.Time     `json:"start_time,omitempty"`
	EndTime               *time.Time     `json:"end_time,omitempty"`
	ActualDurationMinutes *int           `json:"actual_duration_minutes,omitempty"`
	Video                 *VideoResponse `json:"video,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	resp := SessionResponse{
		ID:                    s.ID,
		PatientID:             s.PatientID,
		DoctorID:              s.DoctorID,
		PhysioID:              s.PhysioID,
		SurgeryType:           s.SurgeryType,
		AmountPaid:            s.AmountPaid,
		TotalSessions:         s.TotalSessions,
		CompletedSessions:     s.CompletedSessions,
		DurationMinutes:       s.DurationMinutes,
		Notes:                 s.Notes,
		SessionDate:           s.SessionDate,
		Status:                string(s.Status),
		StartTime:             s.StartTime,
		EndTime:               s.EndTime,
		ActualDurationMinutes: s.ActualDurationMinutes,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
	if s.Video != nil {
		resp.Video = &VideoResponse{
			URL:         s.Video.URL,
			UploadedAt:  s.Video.UploadedAt,
			UploadedBy:  s.Video.UploadedBy,
			Title:       s.Video.Title,
			Description: s.Video.Description,
		}
	}
	return resp
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
