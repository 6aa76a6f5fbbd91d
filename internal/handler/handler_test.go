package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"verifyme/internal/auth"
	"verifyme/internal/qr"
	"verifyme/internal/registration"
	"verifyme/internal/scanner"
	"verifyme/internal/scansession"
	"verifyme/internal/sentinel"
	"verifyme/internal/student"
)

const (
	testKey    = "handler-test-key"
	testIssuer = "verifyme-test"
	studentID  = "AbCdEfGhIjKlMnOpQrSt"
)

var admin = auth.Identity{ID: "admin-1", Email: "registrar@uni.edu"}

func sampleRecord() student.Record {
	return student.Record{
		ID:           studentID,
		FullName:     "Ada Obi",
		MatricNumber: "CSC/2020/001",
		Faculty:      "Science",
		Department:   "Computer Science",
		Status:       student.StatusPending,
		CreatedAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

type fakeVerifier struct {
	records   map[string]student.Record
	lookups   []string
	actors    []auth.Identity
	filter    student.Filter
	setErr    error
	lastActor auth.Identity
}

func (f *fakeVerifier) Lookup(_ context.Context, actor auth.Identity, raw string) (student.Record, error) {
	f.lookups = append(f.lookups, raw)
	f.actors = append(f.actors, actor)
	if strings.TrimSpace(raw) == "" {
		return student.Record{}, sentinel.ErrEmptyInput
	}
	if !strings.Contains(raw, studentID) {
		return student.Record{}, sentinel.ErrInvalidFormat
	}
	return f.Record(context.Background(), studentID)
}

func (f *fakeVerifier) SetStatus(_ context.Context, actor auth.Identity, id string, status student.Status) (student.Record, error) {
	f.lastActor = actor
	if f.setErr != nil {
		return student.Record{}, f.setErr
	}
	rec, ok := f.records[id]
	if !ok {
		return student.Record{}, sentinel.ErrNotFound
	}
	rec.Status = status
	if status == student.StatusVerified {
		at, by := time.Now().UTC(), actor.Name()
		rec.VerifiedAt, rec.VerifiedBy = &at, &by
	} else {
		rec.VerifiedAt, rec.VerifiedBy = nil, nil
	}
	f.records[id] = rec
	return rec, nil
}

func (f *fakeVerifier) Record(_ context.Context, id string) (student.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return student.Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (f *fakeVerifier) List(_ context.Context, filter student.Filter) ([]student.Record, error) {
	f.filter = filter
	var out []student.Record
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeVerifier) ScanLogs(_ context.Context, id string, _ int) ([]student.AuditEntry, error) {
	return []student.AuditEntry{{ID: "e1", StudentID: id, AdminID: admin.ID, AdminEmail: admin.Email}}, nil
}

type fakeRegistrar struct {
	got registration.Input
	err error
}

func (f *fakeRegistrar) Register(_ context.Context, in registration.Input) (student.Record, error) {
	f.got = in
	if f.err != nil {
		return student.Record{}, f.err
	}
	rec := sampleRecord()
	rec.FullName = in.FullName
	return rec, nil
}

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, email, password string) (auth.TokenPair, auth.Identity, error) {
	if email != admin.Email || password != "secret" {
		return auth.TokenPair{}, auth.Identity{}, sentinel.ErrUnauthorized
	}
	return auth.TokenPair{AccessToken: "a", RefreshToken: "r"}, admin, nil
}

func (fakeAuth) Refresh(_ context.Context, token string) (auth.TokenPair, error) {
	if token != "r" {
		return auth.TokenPair{}, sentinel.ErrUnauthorized
	}
	return auth.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, nil
}

func (fakeAuth) Logout(context.Context, string) error { return nil }

type HandlerSuite struct {
	suite.Suite
	verifier  *fakeVerifier
	registrar *fakeRegistrar
	sessions  *scansession.Manager
	router    *gin.Engine
	token     string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.verifier = &fakeVerifier{records: map[string]student.Record{studentID: sampleRecord()}}
	s.registrar = &fakeRegistrar{}
	s.sessions = scansession.NewManager(s.verifier, qr.NewDecoder(), scansession.WithInterval(time.Millisecond))

	h := New(Deps{
		Verifier:  s.verifier,
		Registrar: s.registrar,
		Auth:      fakeAuth{},
		Sessions:  s.sessions,
		Decoder:   qr.NewDecoder(),
		Health: map[string]HealthCheck{
			"db": func(context.Context) bool { return true },
		},
	})
	h.now = func() time.Time { return time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC) }

	s.router = gin.New()
	h.Routes(s.router, auth.AdminAuth(testKey, testIssuer), func(c *gin.Context) { c.Next() })

	pair, err := auth.Issue(admin, testIssuer, testKey, time.Now(), time.Minute, time.Hour)
	s.Require().NoError(err)
	s.token = pair.AccessToken
}

func (s *HandlerSuite) TearDownTest() {
	s.sessions.Shutdown()
}

func (s *HandlerSuite) do(method, path string, body []byte, contentType string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) doJSON(method, path string, v any) *httptest.ResponseRecorder {
	body, err := json.Marshal(v)
	s.Require().NoError(err)
	return s.do(method, path, body, "application/json", true)
}

func (s *HandlerSuite) decodeProblem(w *httptest.ResponseRecorder) problem {
	var p struct {
		Kind        string `json:"error"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &p))
	return problem{Kind: p.Kind, Title: p.Title, Description: p.Description}
}

func (s *HandlerSuite) TestHealthz() {
	w := s.do(http.MethodGet, "/healthz", nil, "", false)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"status":"ok","db":true}`, w.Body.String())
}

func (s *HandlerSuite) TestFaculties() {
	w := s.do(http.MethodGet, "/v1/catalog/faculties", nil, "", false)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "Computer Engineering")
}

func (s *HandlerSuite) TestAdminRoutesRequireToken() {
	for _, path := range []string{"/v1/students", "/v1/students/" + studentID, "/v1/exports/students.csv"} {
		w := s.do(http.MethodGet, path, nil, "", false)
		s.Equal(http.StatusUnauthorized, w.Code, path)
	}
}

func (s *HandlerSuite) TestRegisterStudent() {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	s.Require().NoError(mw.WriteField("fullName", "Ada Obi"))
	s.Require().NoError(mw.WriteField("matricNumber", "CSC/2020/001"))
	s.Require().NoError(mw.WriteField("faculty", "science"))
	s.Require().NoError(mw.WriteField("department", "Computer Science"))
	part, err := mw.CreateFormFile("photo", "ada.png")
	s.Require().NoError(err)
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	s.Require().NoError(mw.Close())

	w := s.do(http.MethodPost, "/v1/students", body.Bytes(), mw.FormDataContentType(), false)
	s.Equal(http.StatusCreated, w.Code)
	s.Equal("Ada Obi", s.registrar.got.FullName)
	s.Equal("ada.png", s.registrar.got.PhotoName)
	s.Contains(w.Body.String(), `"qrUrl":"/v1/students/`+studentID+`/qr.png"`)
}

func (s *HandlerSuite) TestRegisterStudentErrors() {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	s.Require().NoError(mw.WriteField("fullName", "Ada Obi"))
	s.Require().NoError(mw.Close())

	w := s.do(http.MethodPost, "/v1/students", body.Bytes(), mw.FormDataContentType(), false)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("invalid_input", s.decodeProblem(w).Kind)

	s.registrar.err = sentinel.ErrConflict
	body.Reset()
	mw = multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("photo", "a.png")
	_, _ = part.Write([]byte("x"))
	s.Require().NoError(mw.Close())
	w = s.do(http.MethodPost, "/v1/students", body.Bytes(), mw.FormDataContentType(), false)
	s.Equal(http.StatusConflict, w.Code)
}

func (s *HandlerSuite) TestStudentQRAndCard() {
	w := s.do(http.MethodGet, "/v1/students/"+studentID+"/qr.png", nil, "", false)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("image/png", w.Header().Get("Content-Type"))
	text, err := qr.NewDecoder().DecodeBytes(w.Body.Bytes())
	s.Require().NoError(err)
	s.Equal(studentID, text)

	w = s.do(http.MethodGet, "/v1/students/"+studentID+"/card.png?download=1", nil, "", false)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Header().Get("Content-Disposition"), "id-card.png")

	w = s.do(http.MethodGet, "/v1/students/ZZZZZZZZZZZZZZZZZZZZ/qr.png", nil, "", false)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerSuite) TestListStudents() {
	w := s.do(http.MethodGet, "/v1/students?q=ada&status=Verified&limit=10&offset=5", nil, "", true)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(student.Filter{Query: "ada", Status: student.StatusVerified, Limit: 10, Offset: 5}, s.verifier.filter)

	w = s.do(http.MethodGet, "/v1/students?status=all&limit=100000", nil, "", true)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(defaultPageSize, s.verifier.filter.Limit)
	s.Empty(s.verifier.filter.Status)

	w = s.do(http.MethodGet, "/v1/students?status=Approved", nil, "", true)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("invalid_status", s.decodeProblem(w).Kind)
}

func (s *HandlerSuite) TestSetStatus() {
	w := s.doJSON(http.MethodPut, "/v1/students/"+studentID+"/status", gin.H{"status": "Verified"})
	s.Require().Equal(http.StatusOK, w.Code)

	var rec student.Record
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &rec))
	s.Equal(student.StatusVerified, rec.Status)
	s.Require().NotNil(rec.VerifiedBy)
	s.Equal("registrar@uni.edu", *rec.VerifiedBy)
	s.Equal(admin, s.verifier.lastActor)

	w = s.doJSON(http.MethodPut, "/v1/students/"+studentID+"/status", gin.H{"status": "Done"})
	s.Equal(http.StatusBadRequest, w.Code)

	s.verifier.setErr = sentinel.ErrUpdateFailed
	w = s.doJSON(http.MethodPut, "/v1/students/"+studentID+"/status", gin.H{"status": "Rejected"})
	s.Equal(http.StatusInternalServerError, w.Code)
	p := s.decodeProblem(w)
	s.Equal("update_failed", p.Kind)
	s.Equal("Update failed", p.Title)
}

func (s *HandlerSuite) TestExportCSV() {
	w := s.do(http.MethodGet, "/v1/exports/students.csv?status=Pending", nil, "", true)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(`attachment; filename="students_2024-05-02.csv"`, w.Header().Get("Content-Disposition"))
	s.Zero(s.verifier.filter.Limit)

	rows, err := csv.NewReader(w.Body).ReadAll()
	s.Require().NoError(err)
	s.Len(rows, 2)
	s.Equal("Ada Obi", rows[1][0])
}

func (s *HandlerSuite) TestLookup() {
	w := s.doJSON(http.MethodPost, "/v1/scans/lookup", gin.H{"text": "id=" + studentID})
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"fullName":"Ada Obi"`)
	s.Equal(admin, s.verifier.actors[0])

	tests := map[string]struct {
		text string
		code int
		kind string
	}{
		"empty":   {"  ", http.StatusBadRequest, "empty_input"},
		"invalid": {"hello", http.StatusUnprocessableEntity, "invalid_format"},
	}
	for name, tt := range tests {
		s.Run(name, func() {
			w := s.doJSON(http.MethodPost, "/v1/scans/lookup", gin.H{"text": tt.text})
			s.Equal(tt.code, w.Code)
			s.Equal(tt.kind, s.decodeProblem(w).Kind)
		})
	}
}

func (s *HandlerSuite) TestDecodeImage() {
	png, err := qr.EncodePNG(studentID, 256)
	s.Require().NoError(err)
	w := s.do(http.MethodPost, "/v1/scans/decode", png, "image/png", true)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"raw":"`+studentID+`"`)

	w = s.do(http.MethodPost, "/v1/scans/decode", nil, "image/png", true)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestSessionFlow() {
	w := s.doJSON(http.MethodPost, "/v1/scans/sessions", gin.H{"facingMode": "user"})
	s.Require().Equal(http.StatusCreated, w.Code)
	var opened sessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &opened))
	s.Equal("capturing", opened.State)
	s.Equal(scanner.FacingUser, opened.Constraints.Facing)

	png, err := qr.EncodePNG(studentID, 256)
	s.Require().NoError(err)
	w = s.do(http.MethodPost, "/v1/scans/sessions/"+opened.ID+"/frames", png, "image/png", true)
	s.Equal(http.StatusAccepted, w.Code)

	var got sessionResponse
	s.Require().Eventually(func() bool {
		w := s.do(http.MethodGet, "/v1/scans/sessions/"+opened.ID, nil, "", true)
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &got) != nil {
			return false
		}
		return got.Outcome != nil
	}, 3*time.Second, 10*time.Millisecond)
	s.Equal("decoded", got.State)
	s.Require().NotNil(got.Outcome.Student)
	s.Equal(studentID, got.Outcome.Student.ID)

	w = s.doJSON(http.MethodPost, "/v1/scans/sessions/"+opened.ID+"/manual", gin.H{"text": "nonsense"})
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"invalid_format"`)

	w = s.do(http.MethodDelete, "/v1/scans/sessions/"+opened.ID, nil, "", true)
	s.Equal(http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/v1/scans/sessions/"+opened.ID, nil, "", true)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerSuite) TestSessionCameraErrors() {
	tests := map[string]struct {
		code int
		kind string
	}{
		"NotAllowedError":   {http.StatusForbidden, "permission_denied"},
		"NotFoundError":     {http.StatusUnprocessableEntity, "no_device_found"},
		"NotSupportedError": {http.StatusServiceUnavailable, "camera_unavailable"},
	}
	for name, tt := range tests {
		s.Run(name, func() {
			w := s.doJSON(http.MethodPost, "/v1/scans/sessions", gin.H{"cameraError": name})
			s.Equal(tt.code, w.Code)
			s.Equal(tt.kind, s.decodeProblem(w).Kind)
		})
	}
}

func (s *HandlerSuite) TestLoginAndRefresh() {
	w := s.do(http.MethodPost, "/v1/admin/login", []byte(`{"email":"registrar@uni.edu","password":"secret"}`), "application/json", false)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"refreshToken":"r"`)

	w = s.do(http.MethodPost, "/v1/admin/login", []byte(`{"email":"registrar@uni.edu","password":"nope"}`), "application/json", false)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/admin/login", []byte(`{"email":"not-an-email","password":"x"}`), "application/json", false)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/v1/admin/refresh", []byte(`{"refreshToken":"r"}`), "application/json", false)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"accessToken":"a2"`)

	w = s.do(http.MethodPost, "/v1/admin/logout", []byte(`{"refreshToken":"r2"}`), "application/json", false)
	s.Equal(http.StatusNoContent, w.Code)
}

func TestProblemFor(t *testing.T) {
	p := problemFor(errors.Join(sentinel.ErrUpdateFailed, sentinel.ErrNotFound))
	assert.Equal(t, "not_found", p.Kind)
	assert.Equal(t, http.StatusNotFound, p.status)

	assert.Equal(t, "internal", problemFor(assert.AnError).Kind)
	assert.Equal(t, "no_code", problemFor(qr.ErrNoCode).Kind)

	seen := map[string]bool{}
	for _, m := range problems {
		require.False(t, seen[m.p.Kind], "duplicate kind %s", m.p.Kind)
		seen[m.p.Kind] = true
	}
}
