package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"system-toolbox/internal/config"
	"system-toolbox/internal/database"
	"system-toolbox/internal/logging"
	"system-toolbox/internal/process"
	"system-toolbox/internal/recyclebin"
	"system-toolbox/internal/scheduler"
	"system-toolbox/internal/web/api"
	"system-toolbox/internal/web/websocket"
)

type stubBin struct{}

func (stubBin) Query() (recyclebin.Info, error) { return recyclebin.Info{Size: 10, Items: 1}, nil }

func (stubBin) Empty(ctx context.Context, opts recyclebin.Options) (recyclebin.Result, error) {
	return recyclebin.Result{Before: recyclebin.Info{Size: 10, Items: 1}, BytesFreed: 10, Items: 1}, nil
}

type fixture struct {
	srv     *Server
	cfg     *config.Config
	tempDir string
	history *database.HistoryDB
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	tempDir := t.TempDir()
	cfg.TempLocations = []config.Target{{Name: "user_temp", Path: tempDir, Enabled: true}}
	cfg.Browsers = nil
	cfg.RecycleBin.Enabled = false
	cfg.API.JWTSecret = "test-secret"
	cfg.API.JWTSecretFile = ""
	cfg.API.APIKeys = []config.APIKey{
		{Name: "admin", Key: "admin-key", Roles: []string{"admin"}},
		{Name: "ops", Key: "ops-key", Roles: []string{"operator"}},
		{Name: "view", Key: "view-key", Roles: []string{"viewer"}},
	}
	cfg.API.RateLimit = 1000
	cfg.API.RateBurst = 1000
	cfg.WorkerPool.Concurrency = 1
	cfg.WorkerPool.QueueSize = 4
	if mutate != nil {
		mutate(cfg)
	}

	history, err := database.NewHistoryDB(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { history.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := New(ctx, cfg, Options{
		Logger:  logging.Discard(),
		History: history,
		Session: scheduler.Options{Terminator: process.NoopTerminator{}, Bin: stubBin{}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{srv: srv, cfg: cfg, tempDir: tempDir, history: history}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) token(t *testing.T, key string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/auth/token", "", api.TokenRequest{APIKey: key})
	if rec.Code != http.StatusOK {
		t.Fatalf("token exchange status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func (f *fixture) waitTask(t *testing.T, token, id string) api.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := f.do(t, http.MethodGet, "/api/v1/tasks/"+id, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("task status = %d", rec.Code)
		}
		var st api.TaskStatus
		if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
			t.Fatal(err)
		}
		if st.State == api.TaskDone || st.State == api.TaskFailed {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return api.TaskStatus{}
}

func writeOld(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, 128), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("security headers missing: %v", rec.Header())
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"invalid", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + f.token(t, "view-key"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/targets", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, expected %d", rec.Code, tt.want)
			}
		})
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/auth/token", "", api.TokenRequest{APIKey: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad api key status = %d", rec.Code)
	}
}

func TestRolePermissions(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.RecycleBin.Enabled = true })
	viewer := f.token(t, "view-key")
	operator := f.token(t, "ops-key")

	if rec := f.do(t, http.MethodPost, "/api/v1/clean", viewer, api.CleanRequest{DryRun: true}); rec.Code != http.StatusForbidden {
		t.Errorf("viewer clean status = %d, expected 403", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/clean", operator, api.CleanRequest{Targets: []string{"recycle_bin"}})
	if rec.Code != http.StatusForbidden {
		t.Errorf("operator recycle bin status = %d, expected 403", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/scan", viewer, nil); rec.Code != http.StatusOK {
		t.Errorf("viewer scan status = %d", rec.Code)
	}
}

func TestCleanRunsOnPoolAndRecordsHistory(t *testing.T) {
	f := newFixture(t, nil)
	old := filepath.Join(f.tempDir, "stale.tmp")
	writeOld(t, old)
	admin := f.token(t, "admin-key")

	rec := f.do(t, http.MethodPost, "/api/v1/clean", admin, api.CleanRequest{Targets: []string{"user_temp"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("clean status = %d: %s", rec.Code, rec.Body.String())
	}
	var queued api.CleanResponse
	if err := json.NewDecoder(rec.Body).Decode(&queued); err != nil {
		t.Fatal(err)
	}

	st := f.waitTask(t, admin, queued.TaskID)
	if st.State != api.TaskDone || st.Summary == nil {
		t.Fatalf("task = %+v", st)
	}
	if st.Summary.Cleaned != 1 || st.Summary.BytesFreed != 128 || st.RequestedBy != "admin" {
		t.Errorf("summary = %+v requested_by = %s", st.Summary, st.RequestedBy)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale file was not deleted")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/runs", admin, nil)
	var runs []database.RunRecord
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Trigger != scheduler.TriggerAPI {
		t.Fatalf("runs = %+v", runs)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/runs/"+strconv.FormatInt(runs[0].ID, 10)+"/decisions?action=delete", admin, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "stale.tmp") {
		t.Errorf("decisions = %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/runs/999", admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/tasks/nope", admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing task status = %d", rec.Code)
	}
}

func TestCleanRejectsBadRequests(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.API.MaxBodyBytes = 64 })
	admin := f.token(t, "admin-key")

	if rec := f.do(t, http.MethodPost, "/api/v1/clean", admin, api.CleanRequest{Targets: []string{"nope"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown target status = %d", rec.Code)
	}
	big := api.CleanRequest{Targets: []string{strings.Repeat("x", 200)}}
	if rec := f.do(t, http.MethodPost, "/api/v1/clean", admin, big); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.API.RateLimit = 1
		c.API.RateBurst = 1
	})
	if rec := f.do(t, http.MethodGet, "/api/v1/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, expected 429", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "toolbox_api_requests_total") {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestWebsocketBroadcastsTaskEvents(t *testing.T) {
	f := newFixture(t, nil)
	writeOld(t, filepath.Join(f.tempDir, "stale.tmp"))
	admin := f.token(t, "admin-key")

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?access_token=" + admin
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for f.srv.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	body, _ := json.Marshal(api.CleanRequest{Targets: []string{"user_temp"}})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/clean", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("clean status = %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	seen := map[string]bool{}
	for !seen[websocket.EventTaskFinished] {
		var ev websocket.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v (seen %v)", err, seen)
		}
		seen[ev.Type] = true
	}
	for _, want := range []string{websocket.EventTaskQueued, websocket.EventTaskStarted, websocket.EventTargetDone} {
		if !seen[want] {
			t.Errorf("event %s not received", want)
		}
	}
}

func TestNewRejectsUnknownRole(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.API.JWTSecret = "x"
	cfg.API.APIKeys = []config.APIKey{{Name: "k", Key: "k", Roles: []string{"root"}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := New(ctx, cfg, Options{}); err == nil {
		t.Error("expected error for unknown role")
	}
}
