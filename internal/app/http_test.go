package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sitedesk/api/internal/store"
)

func newTestHandler(t *testing.T, fs *fakeStore) (http.Handler, *Service) {
	t.Helper()
	svc := newTestService(fs, nil)
	server := NewHTTPServer(svc, "http://localhost:3000")
	return server.Handler(), svc
}

func authedRequest(t *testing.T, svc *Service, method, target string, body *bytes.Buffer) *http.Request {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return payload
}

func sessionStore() *fakeStore {
	return &fakeStore{
		getUserByID: func(ctx context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Dana", Email: "dana@example.com", Role: "member"}, nil
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestReadyEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["status"] != "ready" {
		t.Errorf("status = %v, want ready", payload["status"])
	}
}

func TestPreflightRequest(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/projects", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:3000" {
		t.Errorf("CORS origin = %q", origin)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("X-Request-ID = %q, want the caller's id echoed", got)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeStore{})

	for _, target := range []string{"/api/projects", "/api/search?q=rebar", "/api/notifications/counts"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", target, rec.Code)
		}
	}
}

func TestSessionEndpointWithoutToken(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["authenticated"] != false {
		t.Errorf("payload = %v", payload)
	}
}

func TestSessionEndpointWithToken(t *testing.T) {
	handler, svc := newTestHandler(t, sessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodGet, "/api/session", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["authenticated"] != true || payload["userName"] != "Dana" {
		t.Errorf("payload = %v", payload)
	}
}

func TestRefreshEndpointRejectsBadToken(t *testing.T) {
	handler, _ := newTestHandler(t, sessionStore())

	body := bytes.NewBufferString(`{"refreshToken":"rft_bogus"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/refresh", body))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateProjectEndpoint(t *testing.T) {
	fs := sessionStore()
	var inserted store.Project
	fs.insertProject = func(ctx context.Context, p store.Project) error {
		inserted = p
		return nil
	}
	handler, svc := newTestHandler(t, fs)

	body := bytes.NewBufferString(`{"name":"Riverside Towers","code":"RT-01","address":"12 Quay St"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodPost, "/api/projects", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\n%s", rec.Code, rec.Body.String())
	}
	if inserted.Name != "Riverside Towers" {
		t.Errorf("inserted project = %+v", inserted)
	}
	payload := decodeResponse(t, rec)
	if payload["myRole"] != "admin" {
		t.Errorf("creator role = %v, want admin", payload["myRole"])
	}
}

func TestCreateProjectValidationError(t *testing.T) {
	handler, svc := newTestHandler(t, sessionStore())

	body := bytes.NewBufferString(`{"name":"  "}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodPost, "/api/projects", body))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("payload = %v", payload)
	}
}

func TestGetProjectAsNonMemberIs404(t *testing.T) {
	handler, svc := newTestHandler(t, sessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodGet, "/api/projects/prj_1", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for non-members", rec.Code)
	}
}

func TestCreateRFIParsesDueDate(t *testing.T) {
	fs := sessionStore()
	fs.getProjectRole = func(ctx context.Context, projectID, userID string) (string, error) {
		return "member", nil
	}
	fs.isProjectMember = func(ctx context.Context, projectID, userID string) (bool, error) {
		return true, nil
	}
	var inserted store.RFI
	fs.insertRFI = func(ctx context.Context, r store.RFI) (store.RFI, error) {
		inserted = r
		r.Number = 1
		return r, nil
	}
	handler, svc := newTestHandler(t, fs)

	body := bytes.NewBufferString(`{"subject":"Rebar spacing","question":"200mm?","assignedTo":"usr_2","dueDate":"2026-09-04"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodPost, "/api/projects/prj_1/rfis", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\n%s", rec.Code, rec.Body.String())
	}
	if inserted.DueDate == nil || inserted.DueDate.Format("2006-01-02") != "2026-09-04" {
		t.Errorf("due date = %v", inserted.DueDate)
	}
}

func TestCreateRFIRejectsBadDueDate(t *testing.T) {
	fs := sessionStore()
	handler, svc := newTestHandler(t, fs)

	body := bytes.NewBufferString(`{"subject":"Rebar spacing","dueDate":"04/09/2026"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodPost, "/api/projects/prj_1/rfis", body))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestDocumentUploadWithoutStorage(t *testing.T) {
	fs := sessionStore()
	fs.getProjectRole = func(ctx context.Context, projectID, userID string) (string, error) {
		return "member", nil
	}
	handler, svc := newTestHandler(t, fs)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "slab-l3.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}
	_ = writer.WriteField("title", "Slab drawings")
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	req := authedRequest(t, svc, http.MethodPost, "/api/projects/prj_1/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without object storage\n%s", rec.Code, rec.Body.String())
	}
	if payload := decodeResponse(t, rec); payload["code"] != "STORAGE_UNAVAILABLE" {
		t.Errorf("payload = %v", payload)
	}
}

func TestSearchRejectsBadLimit(t *testing.T) {
	handler, svc := newTestHandler(t, sessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodGet, "/api/search?q=rebar&limit=many", nil))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestNotificationsUnavailableWithoutRegistry(t *testing.T) {
	handler, svc := newTestHandler(t, sessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodGet, "/api/notifications/counts", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when notifications are not wired", rec.Code)
	}
}

func TestMethodNotAllowedOnTenderStatus(t *testing.T) {
	handler, svc := newTestHandler(t, sessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodGet, "/api/tenders/tnd_1/status", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	handler, svc := newTestHandler(t, sessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, svc, http.MethodGet, "/api/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	revoked := map[string]bool{}
	fs := sessionStore()
	fs.revokeAccessToken = func(ctx context.Context, jti string, expiresAt time.Time) error {
		revoked[jti] = true
		return nil
	}
	fs.isAccessTokenRevoked = func(ctx context.Context, jti string) (bool, error) {
		return revoked[jti], nil
	}
	handler, svc := newTestHandler(t, fs)

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	body := bytes.NewBufferString(`{"refreshToken":"` + session.RefreshToken + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/session/logout", body)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	authed := httptest.NewRequest(http.MethodGet, "/api/projects", strings.NewReader(""))
	authed.Header.Set("Authorization", "Bearer "+session.Token)
	handler.ServeHTTP(rec, authed)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want 401", rec.Code)
	}
}
