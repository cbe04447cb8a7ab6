package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/physiocare/treatment-session-service/internal/config"
	"github.com/physiocare/treatment-session-service/internal/otp"
	"github.com/physiocare/treatment-session-service/internal/session"
	"github.com/physiocare/treatment-session-service/internal/storage"
)

const testSecret = "test-secret"

// ---------------------------------------------------------------------------
// In-memory backend
// ---------------------------------------------------------------------------

type memRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]session.Patient
	doctors  map[uuid.UUID]session.Doctor
	physios  map[uuid.UUID]session.Physiotherapist
	sessions map[uuid.UUID]session.Session
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients: make(map[uuid.UUID]session.Patient),
		doctors:  make(map[uuid.UUID]session.Doctor),
		physios:  make(map[uuid.UUID]session.Physiotherapist),
		sessions: make(map[uuid.UUID]session.Session),
	}
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*session.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, session.ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*session.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, session.ErrDoctorNotFound
	}
	return &d, nil
}

func (r *memRepo) GetPhysioByID(_ context.Context, id uuid.UUID) (*session.Physiotherapist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.physios[id]
	if !ok {
		return nil, session.ErrPhysioNotFound
	}
	return &p, nil
}

func (r *memRepo) CreateSession(_ context.Context, s *session.Session) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []session.RefKind
	if _, ok := r.patients[s.PatientID]; !ok {
		missing = append(missing, session.RefPatient)
	}
	if _, ok := r.doctors[s.DoctorID]; !ok {
		missing = append(missing, session.RefDoctor)
	}
	if _, ok := r.physios[s.PhysioID]; !ok {
		missing = append(missing, session.RefPhysio)
	}
	if len(missing) > 0 {
		return nil, &session.MissingReferencesError{Missing: missing}
	}

	stored := *s
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.sessions[stored.ID] = stored
	out := stored
	return &out, nil
}

func (r *memRepo) GetSessionByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	out := s
	return &out, nil
}

func (r *memRepo) ListSessions(_ context.Context, f session.Filter) ([]session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []session.Session
	for _, s := range r.sessions {
		if f.PatientID != nil && s.PatientID != *f.PatientID {
			continue
		}
		if f.PhysioID != nil && s.PhysioID != *f.PhysioID {
			continue
		}
		if f.DoctorID != nil && s.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

func (r *memRepo) UpdateSessionStatus(_ context.Context, id uuid.UUID, from, to session.SessionStatus, patch session.StatusPatch) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if s.Status != from {
		return nil, session.ErrStatusConflict
	}

	s.Status = to
	if patch.StartTime != nil {
		s.StartTime = patch.StartTime
	}
	if patch.EndTime != nil {
		s.EndTime = patch.EndTime
	}
	if patch.ActualDurationMinutes != nil {
		s.ActualDurationMinutes = patch.ActualDurationMinutes
	}
	if patch.Notes != nil {
		s.Notes = *patch.Notes
	}
	if patch.IncrementCompleted {
		s.CompletedSessions++
	}
	s.UpdatedAt = time.Now()
	r.sessions[id] = s
	out := s
	return &out, nil
}

func (r *memRepo) SetVideo(_ context.Context, id uuid.UUID, v *session.VideoArtifact) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if s.Status != session.StatusCompleted {
		return nil, session.ErrSessionNotCompleted
	}
	artifact := *v
	s.Video = &artifact
	r.sessions[id] = s
	out := s
	return &out, nil
}

func (r *memRepo) UpdateVideoMeta(_ context.Context, id uuid.UUID, title, description *string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if s.Video == nil {
		return nil, session.ErrVideoNotFound
	}
	artifact := *s.Video
	if title != nil {
		artifact.Title = *title
	}
	if description != nil {
		artifact.Description = *description
	}
	s.Video = &artifact
	r.sessions[id] = s
	out := s
	return &out, nil
}

func (r *memRepo) ClearVideo(_ context.Context, id uuid.UUID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	s.Video = nil
	r.sessions[id] = s
	out := s
	return &out, nil
}

func (r *memRepo) FindSweepCandidates(_ context.Context, now time.Time) ([]session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []session.Session
	for _, s := range r.sessions {
		if s.Status != session.StatusScheduled || s.StartTime != nil {
			continue
		}
		if now.After(s.SessionDate.Add(time.Duration(s.DurationMinutes) * time.Minute)) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *memRepo) InsertEvent(context.Context, session.EventLog) error { return nil }

type captureSMS struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSMS) Send(_ context.Context, _, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, message)
	return nil
}

func (c *captureSMS) lastCode(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no sms sent")
	}
	code := regexp.MustCompile(`\d{4}`).FindString(c.sent[len(c.sent)-1])
	if code == "" {
		t.Fatalf("no code in sms %q", c.sent[len(c.sent)-1])
	}
	return code
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type apiTest struct {
	router http.Handler
	svc    *session.Service
	repo   *memRepo
	sms    *captureSMS

	patientID uuid.UUID
	doctorID  uuid.UUID
	physioID  uuid.UUID
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()

	at := &apiTest{
		repo: newMemRepo(),
		sms:  &captureSMS{},
	}

	at.patientID = uuid.New()
	at.doctorID = uuid.New()
	at.physioID = uuid.New()
	at.repo.patients[at.patientID] = session.Patient{ID: at.patientID, Name: "Asha Rao", Phone: "+919812345678"}
	at.repo.doctors[at.doctorID] = session.Doctor{ID: at.doctorID, Name: "Dr. Mehta"}
	at.repo.physios[at.physioID] = session.Physiotherapist{ID: at.physioID, Name: "Vikram Shah"}

	cfg := config.Config{
		OtpTTL:                10 * time.Minute,
		SmsTimeout:            time.Second,
		StorageTimeout:        time.Second,
		DefaultSessionMinutes: 60,
	}
	at.svc = session.NewService(
		at.repo,
		otp.NewMemoryStore(nil),
		at.sms,
		storage.NewMemoryStore(),
		session.RealClock(),
		zerolog.Nop(),
		cfg,
	)

	at.router = NewRouter(RouterConfig{
		Service:   at.svc,
		JWTSecret: testSecret,
		Env:       "test",
		Version:   "test",
		Logger:    zerolog.Nop(),
	})

	return at
}

func signToken(t *testing.T, id uuid.UUID, role session.Role) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id.String(),
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (at *apiTest) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	at.router.ServeHTTP(rec, req)
	return rec
}

func (at *apiTest) createSession(t *testing.T) *session.Session {
	t.Helper()
	admin := session.Actor{ID: uuid.New(), Role: session.RoleAdmin}
	sess, err := at.svc.CreateSession(context.Background(), admin, session.CreateSessionInput{
		PatientID:     at.patientID,
		DoctorID:      at.doctorID,
		PhysioID:      at.physioID,
		SurgeryType:   "knee replacement",
		AmountPaid:    4500,
		TotalSessions: 10,
		SessionDate:   time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func (at *apiTest) completeSession(t *testing.T, id uuid.UUID) {
	t.Helper()
	physio := session.Actor{ID: at.physioID, Role: session.RolePhysio}

	if err := at.svc.IssueStartOtp(context.Background(), physio, id); err != nil {
		t.Fatalf("issue start otp: %v", err)
	}
	if _, err := at.svc.ConfirmStart(context.Background(), physio, id, at.sms.lastCode(t)); err != nil {
		t.Fatalf("confirm start: %v", err)
	}
	if err := at.svc.IssueEndOtp(context.Background(), physio, id); err != nil {
		t.Fatalf("issue end otp: %v", err)
	}
	if _, err := at.svc.ConfirmEnd(context.Background(), physio, id, at.sms.lastCode(t), nil); err != nil {
		t.Fatalf("confirm end: %v", err)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreateSessionEndpoint(t *testing.T) {
	at := newAPITest(t)
	token := signToken(t, uuid.New(), session.RoleAdmin)

	rec := at.do(t, http.MethodPost, "/sessions", token, CreateSessionRequest{
		PatientID:     at.patientID.String(),
		DoctorID:      at.doctorID.String(),
		PhysioID:      at.physioID.String(),
		SurgeryType:   "knee replacement",
		AmountPaid:    4500,
		TotalSessions: 10,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(session.StatusScheduled) {
		t.Errorf("expected scheduled, got %s", resp.Status)
	}
	if resp.DurationMinutes != 60 {
		t.Errorf("expected default duration 60, got %d", resp.DurationMinutes)
	}
}

func TestCreateSessionEndpoint_ForbiddenForPatient(t *testing.T) {
	at := newAPITest(t)
	token := signToken(t, at.patientID, session.RolePatient)

	rec := at.do(t, http.MethodPost, "/sessions", token, CreateSessionRequest{
		PatientID:     at.patientID.String(),
		DoctorID:      at.doctorID.String(),
		PhysioID:      at.physioID.String(),
		SurgeryType:   "knee replacement",
		TotalSessions: 10,
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "forbidden" {
		t.Errorf("expected forbidden code, got %q", resp.Error)
	}
}

func TestCreateSessionEndpoint_MissingReferences(t *testing.T) {
	at := newAPITest(t)
	token := signToken(t, uuid.New(), session.RoleAdmin)

	rec := at.do(t, http.MethodPost, "/sessions", token, CreateSessionRequest{
		PatientID:     at.patientID.String(),
		DoctorID:      uuid.NewString(),
		PhysioID:      uuid.NewString(),
		SurgeryType:   "knee replacement",
		TotalSessions: 10,
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "references_not_found" {
		t.Errorf("expected references_not_found, got %q", resp.Error)
	}
}

func TestSessionEndpoints_RequireToken(t *testing.T) {
	at := newAPITest(t)

	rec := at.do(t, http.MethodGet, "/sessions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = at.do(t, http.MethodGet, "/sessions", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestStartFlowOverHTTP(t *testing.T) {
	at := newAPITest(t)
	sess := at.createSession(t)
	token := signToken(t, at.physioID, session.RolePhysio)

	rec := at.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/start/otp", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue otp: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = at.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/start", token,
		ConfirmRequest{Code: at.sms.lastCode(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(session.StatusInProgress) {
		t.Errorf("expected in_progress, got %s", resp.Status)
	}
	if resp.StartTime == nil {
		t.Error("expected start_time to be set")
	}
}

func TestConfirmStart_WrongCodeReturns400(t *testing.T) {
	at := newAPITest(t)
	sess := at.createSession(t)
	token := signToken(t, at.physioID, session.RolePhysio)

	rec := at.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/start/otp", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue otp: expected 200, got %d", rec.Code)
	}

	code := at.sms.lastCode(t)
	wrong := "1112"
	if wrong == code {
		wrong = "1113"
	}

	rec = at.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/start", token,
		ConfirmRequest{Code: wrong})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "otp_mismatch" {
		t.Errorf("expected otp_mismatch, got %q", resp.Error)
	}
}

func TestIssueOtp_WrongStateReturns400(t *testing.T) {
	at := newAPITest(t)
	sess := at.createSession(t)
	at.completeSession(t, sess.ID)

	token := signToken(t, at.physioID, session.RolePhysio)
	rec := at.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/start/otp", token, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "wrong_state" {
		t.Errorf("expected wrong_state, got %q", resp.Error)
	}
}

func TestGetSession_UnrelatedPatientForbidden(t *testing.T) {
	at := newAPITest(t)
	sess := at.createSession(t)

	token := signToken(t, uuid.New(), session.RolePatient)
	rec := at.do(t, http.MethodGet, "/sessions/"+sess.ID.String(), token, nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	at := newAPITest(t)
	token := signToken(t, uuid.New(), session.RoleAdmin)

	rec := at.do(t, http.MethodGet, "/sessions/"+uuid.NewString(), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAttachVideo_ScheduledReturns409(t *testing.T) {
	at := newAPITest(t)
	sess := at.createSession(t)
	token := signToken(t, at.physioID, session.RolePhysio)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "session.mp4")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("fake video bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID.String()+"/video", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	at.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Error != "session_not_completed" {
		t.Errorf("expected session_not_completed, got %q", resp.Error)
	}
}

func TestVideoLifecycleOverHTTP(t *testing.T) {
	at := newAPITest(t)
	sess := at.createSession(t)
	at.completeSession(t, sess.ID)
	token := signToken(t, at.physioID, session.RolePhysio)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "session.mp4")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("fake video bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.WriteField("title", "Week 1"); err != nil {
		t.Fatalf("write title field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID.String()+"/video", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	at.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("attach: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Video == nil || resp.Video.Title != "Week 1" {
		t.Fatalf("expected attached video with title, got %+v", resp.Video)
	}
	if !strings.HasPrefix(resp.Video.URL, "memory://") {
		t.Errorf("unexpected video url %q", resp.Video.URL)
	}

	title := "Week 1 gait training"
	rec2 := at.do(t, http.MethodPatch, "/sessions/"+sess.ID.String()+"/video", token,
		VideoMetaRequest{Title: &title})
	if rec2.Code != http.StatusOK {
		t.Fatalf("update meta: expected 200, got %d", rec2.Code)
	}

	rec3 := at.do(t, http.MethodDelete, "/sessions/"+sess.ID.String()+"/video", token, nil)
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", rec3.Code)
	}

	current, err := at.repo.GetSessionByID(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if current.Video != nil {
		t.Fatal("video should be cleared after removal")
	}
}

func TestListSessions_InvalidStatusFilter(t *testing.T) {
	at := newAPITest(t)
	token := signToken(t, uuid.New(), session.RoleAdmin)

	rec := at.do(t, http.MethodGet, "/sessions?status=bogus", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
