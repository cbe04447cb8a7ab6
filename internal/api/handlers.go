package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/physiocare/treatment-session-service/internal/otp"
	"github.com/physiocare/treatment-session-service/internal/session"
)

// maxVideoUploadBytes bounds multipart parsing for video attach.
const maxVideoUploadBytes = 512 << 20

func createSessionHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no authenticated actor")
			return
		}

		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		physioID, err := uuid.Parse(req.PhysioID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_physio_id", "physio_id must be a valid UUID")
			return
		}

		in := session.CreateSessionInput{
			PatientID:       patientID,
			DoctorID:        doctorID,
			PhysioID:        physioID,
			SurgeryType:     req.SurgeryType,
			AmountPaid:      req.AmountPaid,
			TotalSessions:   req.TotalSessions,
			DurationMinutes: req.DurationMinutes,
			Notes:           req.Notes,
		}
		if req.SessionDate != nil {
			in.SessionDate = *req.SessionDate
		}

		created, err := svc.CreateSession(r.Context(), actor, in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSessionResponse(created))
	}
}

func listSessionsHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no authenticated actor")
			return
		}

		var f session.Filter

		q := r.URL.Query()
		for param, target := range map[string]**uuid.UUID{
			"patient_id": &f.PatientID,
			"doctor_id":  &f.DoctorID,
			"physio_id":  &f.PhysioID,
		} {
			if v := q.Get(param); v != "" {
				id, err := uuid.Parse(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
					return
				}
				*target = &id
			}
		}

		if v := q.Get("status"); v != "" {
			status := session.SessionStatus(v)
			switch status {
			case session.StatusScheduled, session.StatusInProgress, session.StatusCompleted,
				session.StatusMissed, session.StatusCancelled:
				f.Status = &status
			default:
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status value")
				return
			}
		}

		f.Limit, _ = strconv.Atoi(q.Get("limit"))
		f.Offset, _ = strconv.Atoi(q.Get("offset"))

		sessions, err := svc.ListSessions(r.Context(), actor, f)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]SessionResponse, 0, len(sessions))
		for i := range sessions {
			resp = append(resp, toSessionResponse(&sessions[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		sess, err := svc.GetSession(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func issueOtpHandler(svc *session.Service, purpose otp.Purpose) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var err error
		if purpose == otp.PurposeStart {
			err = svc.IssueStartOtp(r.Context(), actor, id)
		} else {
			err = svc.IssueEndOtp(r.Context(), actor, id)
		}
		if err != nil {
			// Issuing against the wrong state is a client mistake, not a lost
			// race: report 400 rather than 409.
			if errors.Is(err, session.ErrInvalidTransition) {
				writeError(w, http.StatusBadRequest, "wrong_state", err.Error())
				return
			}
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	}
}

func confirmStartHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req ConfirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		sess, err := svc.ConfirmStart(r.Context(), actor, id, req.Code)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func confirmEndHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req ConfirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		sess, err := svc.ConfirmEnd(r.Context(), actor, id, req.Code, req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func cancelSessionHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		sess, err := svc.CancelSession(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func attachVideoHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		if err := r.ParseMultipartForm(maxVideoUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_multipart_body", "could not parse multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file", "video file field is required")
			return
		}
		defer file.Close()

		upload := session.VideoUpload{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Content:     file,
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
		}

		sess, err := svc.AttachVideo(r.Context(), actor, id, upload)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func updateVideoMetaHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req VideoMetaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		sess, err := svc.UpdateVideoMeta(r.Context(), actor, id, req.Title, req.Description)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func removeVideoHandler(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		if err := svc.RemoveVideo(r.Context(), actor, id); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func actorAndID(w http.ResponseWriter, r *http.Request) (session.Actor, uuid.UUID, bool) {
	actor, ok := GetActor(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_actor", "no authenticated actor")
		return session.Actor{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "id must be a valid UUID")
		return session.Actor{}, uuid.Nil, false
	}

	return actor, id, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	var missingRefs *session.MissingReferencesError

	switch {
	case errors.Is(err, session.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &missingRefs):
		writeError(w, http.StatusNotFound, "references_not_found", missingRefs.Error())
	case errors.Is(err, session.ErrPatientNotFound),
		errors.Is(err, session.ErrDoctorNotFound),
		errors.Is(err, session.ErrPhysioNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrVideoNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, otp.ErrMissing):
		writeError(w, http.StatusBadRequest, "otp_missing", err.Error())
	case errors.Is(err, otp.ErrExpired):
		writeError(w, http.StatusBadRequest, "otp_expired", err.Error())
	case errors.Is(err, otp.ErrMismatch):
		writeError(w, http.StatusBadRequest, "otp_mismatch", err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, session.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", err.Error())
	case errors.Is(err, session.ErrSessionNotCompleted):
		writeError(w, http.StatusConflict, "session_not_completed", err.Error())
	case errors.Is(err, session.ErrExternalService):
		writeError(w, http.StatusBadGateway, "external_service_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Details: details,
	})
}
