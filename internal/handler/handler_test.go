package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"siteattend/internal/attendance"
	"siteattend/internal/auth"
	"siteattend/internal/facedir"
	"siteattend/internal/handler"
	"siteattend/internal/mock"
	"siteattend/internal/workforce"
)

const (
	signingKey = "test-signing-key"
	issuer     = "siteattend-test"
)

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]string
	tokens  map[string]bool
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{devices: map[string]string{}, tokens: map[string]bool{}}
}

func (d *fakeDevices) UpsertDevice(ctx context.Context, deviceID, projectID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[deviceID] = projectID
	return nil
}

func (d *fakeDevices) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[token] = true
	return nil
}

func (d *fakeDevices) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := d.tokens[token]
	delete(d.tokens, token)
	return live, nil
}

type fixture struct {
	router  *gin.Engine
	ledger  *mock.MockLedger
	workers *mock.MockWorkforce
	faces   *mock.MockFaceDirectory
	devices *fakeDevices
	admin   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }
	f := &fixture{
		ledger:  mock.NewMockLedger(),
		workers: mock.NewMockWorkforce(),
		faces:   mock.NewMockFaceDirectory(),
		devices: newFakeDevices(),
	}
	f.workers.Ledger = f.ledger
	photos := &mock.MockPhotoStore{}

	att := attendance.NewService(f.ledger, f.workers, f.faces, photos, attendance.Policy{
		Location: time.UTC,
		Checkout: true,
		Clock:    clock,
	}, zap.NewNop())
	wf := workforce.NewService(f.workers, f.faces, zap.NewNop(), workforce.Options{
		Photos:  photos,
		Cleanup: &mock.MockCleanup{},
		Clock:   clock,
	})

	tokens := handler.Tokens{Issuer: issuer, SigningKey: signingKey, AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	h := handler.New(att, wf, f.devices, tokens, 0, zap.NewNop())
	h.AddHealthCheck("database", func(context.Context) bool { return true })

	f.router = gin.New()
	h.Mount(f.router, nil)

	pair, err := auth.Issue("ops", auth.RoleAdmin, "", issuer, signingKey, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	f.admin = pair.AccessToken

	f.workers.AddProject("P", "")
	f.workers.AddProject("Q", "")
	f.workers.AddWorker("W", "Ravi Kumar", "F")
	f.workers.AddAssignment("W", "P", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil)
	f.faces.Enroll(mock.Photo(1), "F", "W")
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, path, token string, photo []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("photo", "capture.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(photo)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// kiosk registers a device bound to projectID and returns its tokens.
func (f *fixture) kiosk(t *testing.T, projectID string) (access, refresh string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/devices/register", f.admin, map[string]string{
		"device_id": "tablet-" + projectID, "project_id": projectID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: got %d %s", rec.Code, rec.Body)
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	return out.AccessToken, out.RefreshToken
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) attendance.Result {
	t.Helper()
	var res attendance.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v (%s)", err, rec.Body)
	}
	return res
}

func TestVerify_RecordsThenAlreadyPresent(t *testing.T) {
	f := newFixture(t)
	token, _ := f.kiosk(t, "P")

	rec := f.upload(t, "/v1/projects/P/verifications", token, mock.Photo(1))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first: got %d %s", rec.Code, rec.Body)
	}
	first := decodeResult(t, rec)
	if first.Outcome != attendance.OutcomeRecorded || first.WorkerID != "W" {
		t.Errorf("first: got %+v", first)
	}

	rec = f.upload(t, "/v1/projects/P/verifications", token, mock.Photo(1))
	if rec.Code != http.StatusOK {
		t.Fatalf("second: got %d %s", rec.Code, rec.Body)
	}
	if got := decodeResult(t, rec).Outcome; got != attendance.OutcomeAlreadyPresent {
		t.Errorf("second outcome: got %s", got)
	}
	if n := len(f.ledger.All()); n != 1 {
		t.Errorf("records: got %d, want 1", n)
	}
}

func TestVerify_Base64Body(t *testing.T) {
	f := newFixture(t)
	token, _ := f.kiosk(t, "P")

	body := map[string]string{"photo": "data:image/png;base64," + base64.StdEncoding.EncodeToString(mock.Photo(1))}
	rec := f.do(t, http.MethodPost, "/v1/projects/P/verifications", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
}

func TestVerify_OutcomeStatuses(t *testing.T) {
	tests := []struct {
		name    string
		project string
		photo   []byte
		status  int
		outcome attendance.Outcome
	}{
		{"unknown face", "P", mock.Photo(2), http.StatusNotFound, attendance.OutcomeNoMatchingFace},
		{"not assigned", "Q", mock.Photo(1), http.StatusForbidden, attendance.OutcomeNotAssigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			token, _ := f.kiosk(t, tt.project)
			rec := f.upload(t, "/v1/projects/"+tt.project+"/verifications", token, tt.photo)
			if rec.Code != tt.status {
				t.Fatalf("status: got %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if got := decodeResult(t, rec).Outcome; got != tt.outcome {
				t.Errorf("outcome: got %s, want %s", got, tt.outcome)
			}
			if n := len(f.ledger.All()); n != 0 {
				t.Errorf("records: got %d, want 0", n)
			}
		})
	}
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		photo  []byte
		status int
	}{
		{"not an image", nil, []byte("hello"), http.StatusBadRequest},
		{"provider timeout", func(f *fixture) {
			f.faces.SearchError = &facedir.ProviderError{Op: "search", Timeout: true, Err: context.DeadlineExceeded}
		}, mock.Photo(1), http.StatusGatewayTimeout},
		{"provider down", func(f *fixture) {
			f.faces.SearchError = &facedir.ProviderError{Op: "search", Transient: true, Err: context.Canceled}
		}, mock.Photo(1), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			token, _ := f.kiosk(t, "P")
			rec := f.upload(t, "/v1/projects/P/verifications", token, tt.photo)
			if rec.Code != tt.status {
				t.Errorf("status: got %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t)
	kioskP, _ := f.kiosk(t, "P")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"no token", http.MethodPost, "/v1/projects/P/verifications", "", http.StatusUnauthorized},
		{"garbage token", http.MethodPost, "/v1/projects/P/verifications", "nope", http.StatusUnauthorized},
		{"kiosk on other project", http.MethodPost, "/v1/projects/Q/verifications", kioskP, http.StatusForbidden},
		{"kiosk on admin route", http.MethodGet, "/v1/workers/W", kioskP, http.StatusForbidden},
		{"admin on admin route", http.MethodGet, "/v1/workers/W", f.admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.token, nil)
			if rec.Code != tt.status {
				t.Errorf("status: got %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestRefreshDevice_RotatesOnce(t *testing.T) {
	f := newFixture(t)
	_, refresh := f.kiosk(t, "P")

	rec := f.do(t, http.MethodPost, "/v1/devices/refresh", "", map[string]string{"refresh_token": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: got %d %s", rec.Code, rec.Body)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	claims, err := auth.Parse(out.AccessToken, signingKey, issuer)
	if err != nil {
		t.Fatalf("parse new access token: %v", err)
	}
	if claims.ProjectID != "P" || claims.Role != auth.RoleKiosk {
		t.Errorf("claims: got %+v", claims)
	}

	rec = f.do(t, http.MethodPost, "/v1/devices/refresh", "", map[string]string{"refresh_token": refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("reuse: got %d, want 401", rec.Code)
	}
}

func TestRegisterDevice_UnknownProject(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/devices/register", f.admin, map[string]string{
		"device_id": "tablet", "project_id": "nowhere",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/workers", f.admin, map[string]any{
		"id": "N", "name": "Sita Devi", "pay_mode": "daily", "pay_rate": 700,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d %s", rec.Code, rec.Body)
	}

	rec = f.upload(t, "/v1/workers/N/face", f.admin, mock.Photo(7))
	if rec.Code != http.StatusCreated {
		t.Fatalf("enroll: got %d %s", rec.Code, rec.Body)
	}
	ref := f.workers.Worker("N").FaceRef
	if ref == nil || !f.faces.Has(*ref) {
		t.Fatalf("face not enrolled: %v", ref)
	}

	rec = f.do(t, http.MethodPost, "/v1/workers/N/assignments", f.admin, map[string]string{"project_id": "P"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("assign: got %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/v1/workers/N/assignments", f.admin, map[string]string{"project_id": "P"})
	if rec.Code != http.StatusConflict {
		t.Errorf("second assign: got %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/workers/N", f.admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: got %d %s", rec.Code, rec.Body)
	}
	if f.faces.Has(*ref) {
		t.Error("face survived deletion")
	}
	if rec := f.do(t, http.MethodGet, "/v1/workers/N", f.admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/v1/workers/N", f.admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", rec.Code)
	}
}

func TestFindWorkers_ByName(t *testing.T) {
	f := newFixture(t)
	f.workers.AddWorker("J", "José Núñez", "")

	rec := f.do(t, http.MethodGet, "/v1/workers?name=jose%20nunez", f.admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
	var out struct {
		Workers []workforce.Worker `json:"workers"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.Workers) != 1 || out.Workers[0].ID != "J" {
		t.Errorf("got %+v", out.Workers)
	}

	if rec := f.do(t, http.MethodGet, "/v1/workers", f.admin, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: got %d, want 400", rec.Code)
	}
}

func TestAttendanceSheet(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/v1/projects/P/attendance/2024-03-04", f.admin, map[string]any{
		"entries": []map[string]any{{"worker_id": "W", "present": true, "hours_worked": 6, "overtime_hours": 1}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: got %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/projects/P/attendance?day=2024-03-04", f.admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d %s", rec.Code, rec.Body)
	}
	var out struct {
		Day     string              `json:"day"`
		Records []attendance.Record `json:"records"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Day != "2024-03-04" || len(out.Records) != 1 || out.Records[0].HoursWorked != 6 {
		t.Errorf("list: got %+v", out)
	}

	if rec := f.do(t, http.MethodGet, "/v1/projects/P/attendance?day=04/03/2024", f.admin, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad day: got %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPut, "/v1/projects/P/attendance/2024-03-04", f.admin, map[string]any{
		"entries": []map[string]any{{"worker_id": "W", "present": true, "hours_worked": 30}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid hours: got %d, want 400", rec.Code)
	}
}

func TestCheckout_NotCheckedIn(t *testing.T) {
	f := newFixture(t)
	token, _ := f.kiosk(t, "P")
	rec := f.upload(t, "/v1/projects/P/checkouts", token, mock.Photo(1))
	if rec.Code != http.StatusConflict {
		t.Errorf("got %d, want 409 (%s)", rec.Code, rec.Body)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("got %d", rec.Code)
	}
}
