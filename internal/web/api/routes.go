// Package api implements the HTTP handlers of the toolbox control API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"system-toolbox/internal/cleaner"
	"system-toolbox/internal/config"
	"system-toolbox/internal/database"
	"system-toolbox/internal/scheduler"
	"system-toolbox/internal/web/auth"
	"system-toolbox/internal/web/middleware"
	"system-toolbox/internal/web/websocket"
	"system-toolbox/internal/worker"
)

const (
	defaultRunLimit      = 20
	maxRunLimit          = 500
	defaultDecisionLimit = 100
	maxDecisionLimit     = 1000
)

// History is the read side of the run store; *database.HistoryDB satisfies it.
type History interface {
	scheduler.HistoryStore
	GetRecentRuns(limit int) ([]database.RunRecord, error)
	GetRun(id int64) (*database.RunRecord, error)
	GetDecisions(f database.DecisionFilter) ([]database.DecisionRecord, int, error)
	GetStats(days int) (*database.HistoryStats, error)
}

// Broadcaster is satisfied by *websocket.Hub.
type Broadcaster interface {
	Broadcast(ev websocket.Event)
}

// Handlers serves the API. Session options are copied for every clean
// request; Targets, DryRun, Trigger and OnTargetDone are set per request.
type Handlers struct {
	Config  *config.Config
	Tokens  *auth.JWTManager
	Pool    *worker.Pool
	History History
	Hub     Broadcaster
	Session scheduler.Options
	Started time.Time

	tasks *taskStore
}

// ErrorResponse represents error message
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TokenRequest exchanges an API key for a JWT.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse contains JWT token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Roles     []string  `json:"roles"`
}

// CleanRequest is the body of POST /clean.
type CleanRequest struct {
	Targets []string `json:"targets"`
	DryRun  bool     `json:"dry_run"`
}

// CleanResponse acknowledges a queued clean.
type CleanResponse struct {
	TaskID    string   `json:"task_id"`
	State     string   `json:"state"`
	Targets   []string `json:"targets"`
	StatusURL string   `json:"status_url"`
}

func (h *Handlers) init() {
	if h.tasks == nil {
		h.tasks = newTaskStore()
	}
	if h.Started.IsZero() {
		h.Started = time.Now()
	}
}

// RegisterPublic mounts the unauthenticated routes. login carries its own
// stricter rate limit. Call it before RegisterProtected so the /api/v1
// subrouter does not shadow these paths.
func (h *Handlers) RegisterPublic(router, login *mux.Router) {
	h.init()
	router.HandleFunc("/api/v1/health", h.Health).Methods(http.MethodGet, http.MethodHead)
	login.HandleFunc("/token", h.Token).Methods(http.MethodPost)
}

// RegisterProtected mounts the routes behind the auth middleware.
func (h *Handlers) RegisterProtected(protected *mux.Router) {
	h.init()
	read := middleware.RequirePermission(auth.PermissionViewTargets)
	scan := middleware.RequirePermission(auth.PermissionScan)
	clean := middleware.RequirePermission(auth.PermissionTriggerClean)
	history := middleware.RequirePermission(auth.PermissionViewHistory)

	protected.Handle("/targets", read(http.HandlerFunc(h.Targets))).Methods(http.MethodGet)
	protected.Handle("/scan", scan(http.HandlerFunc(h.Scan))).Methods(http.MethodGet)
	protected.Handle("/clean", clean(http.HandlerFunc(h.Clean))).Methods(http.MethodPost)
	protected.Handle("/tasks", read(http.HandlerFunc(h.ListTasks))).Methods(http.MethodGet)
	protected.Handle("/tasks/{id}", read(http.HandlerFunc(h.GetTask))).Methods(http.MethodGet)
	protected.Handle("/runs", history(http.HandlerFunc(h.ListRuns))).Methods(http.MethodGet)
	protected.Handle("/runs/{id:[0-9]+}", history(http.HandlerFunc(h.GetRun))).Methods(http.MethodGet)
	protected.Handle("/runs/{id:[0-9]+}/decisions", history(http.HandlerFunc(h.GetDecisions))).Methods(http.MethodGet)
	protected.Handle("/stats", history(http.HandlerFunc(h.Stats))).Methods(http.MethodGet)
}

// Health returns server health status
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	respondJSON(w, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.Started).Seconds()),
	}, http.StatusOK)
}

// Token exchanges a configured API key for a JWT.
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token, expires, roles, err := h.Tokens.Exchange(req.APIKey)
	if err != nil {
		respondError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	respondJSON(w, TokenResponse{Token: token, ExpiresAt: expires, Roles: roles}, http.StatusOK)
}

// Targets lists the configured cleaning targets.
func (h *Handlers) Targets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"temp_locations":    h.Config.TempLocations,
		"browsers":          h.Config.Browsers,
		"recycle_bin":       h.Config.RecycleBin,
		"max_file_age_days": h.Config.Policy.MaxFileAgeDays,
	}, http.StatusOK)
}

// Scan measures the selected targets without deleting.
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	entries, err := scheduler.Scan(h.Config, splitList(r.URL.Query().Get("targets")), h.Session.Bin)
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	respondJSON(w, entries, http.StatusOK)
}

// Clean queues a cleaning session on the worker pool and returns at once.
func (h *Handlers) Clean(w http.ResponseWriter, r *http.Request) {
	var req CleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	targets, err := scheduler.Plan(h.Config, req.Targets)
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	claims, ok := middleware.GetClaims(r)
	if !ok {
		claims = &auth.Claims{}
	}
	for _, t := range targets {
		if t == scheduler.RecycleBinTarget && !auth.HasPermission(claims.Roles, auth.PermissionEmptyBin) {
			respondError(w, "emptying the recycle bin requires the admin role", http.StatusForbidden)
			return
		}
	}

	task := h.tasks.add(targets, req.DryRun, claims.Name)
	_, err = h.Pool.Submit(r.Context(), worker.Task{
		Name: task.ID,
		Run:  h.runTask(task.ID, targets, req.DryRun),
	})
	if err != nil {
		h.tasks.update(task.ID, func(t *TaskStatus) {
			t.State = TaskFailed
			t.Error = err.Error()
		})
		respondError(w, "failed to queue clean: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.broadcast(websocket.EventTaskQueued, task.ID, task)
	respondJSON(w, CleanResponse{
		TaskID:    task.ID,
		State:     string(TaskQueued),
		Targets:   targets,
		StatusURL: "/api/v1/tasks/" + task.ID,
	}, http.StatusAccepted)
}

func (h *Handlers) runTask(id string, targets []string, dryRun bool) func(context.Context) (cleaner.Result, error) {
	return func(ctx context.Context) (cleaner.Result, error) {
		started := time.Now()
		h.tasks.update(id, func(t *TaskStatus) {
			t.State = TaskRunning
			t.StartedAt = &started
		})
		h.broadcast(websocket.EventTaskStarted, id, nil)

		opts := h.Session
		opts.Targets = targets
		opts.DryRun = dryRun
		opts.Trigger = scheduler.TriggerAPI
		opts.Pool = nil
		opts.OnTargetDone = func(tr scheduler.TargetResult) {
			h.broadcast(websocket.EventTargetDone, id, newTargetView(tr))
		}

		sum, err := scheduler.RunOnce(ctx, h.Config, opts)
		finished := time.Now()
		h.tasks.update(id, func(t *TaskStatus) {
			t.FinishedAt = &finished
			if err != nil {
				t.State = TaskFailed
				t.Error = err.Error()
				return
			}
			t.State = TaskDone
			t.Summary = newSummaryView(sum)
			if sum.Failed > 0 {
				t.Error = sum.Err().Error()
			}
		})

		final, _ := h.tasks.get(id)
		h.broadcast(websocket.EventTaskFinished, id, final)
		if err != nil {
			return cleaner.NewResult(), err
		}
		return sum.Totals, nil
	}
}

func (h *Handlers) broadcast(kind, id string, data interface{}) {
	if h.Hub == nil {
		return
	}
	h.Hub.Broadcast(websocket.Event{Type: kind, TaskID: id, Data: data})
}

// ListTasks returns recent clean requests.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.tasks.list(), http.StatusOK)
}

// GetTask returns one clean request.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tasks.get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, "task not found", http.StatusNotFound)
		return
	}
	respondJSON(w, t, http.StatusOK)
}

// ListRuns returns recent sessions from the history database.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w) {
		return
	}
	limit := intParam(r, "limit", defaultRunLimit, maxRunLimit)
	runs, err := h.History.GetRecentRuns(limit)
	if err != nil {
		respondError(w, "failed to query runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, runs, http.StatusOK)
}

// GetRun returns one session with its per-target results.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w) {
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	run, err := h.History.GetRun(id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			respondError(w, "run not found", http.StatusNotFound)
			return
		}
		respondError(w, "failed to query run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, run, http.StatusOK)
}

// GetDecisions pages through the decisions of one run.
func (h *Handlers) GetDecisions(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w) {
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	q := r.URL.Query()
	filter := database.DecisionFilter{
		RunID:  id,
		Target: q.Get("target"),
		Action: strings.ToUpper(q.Get("action")),
		Reason: q.Get("reason"),
		Limit:  intParam(r, "limit", defaultDecisionLimit, maxDecisionLimit),
		Offset: intParam(r, "offset", 0, 0),
	}
	if p := q.Get("path"); p != "" {
		filter.PathPattern = "%" + p + "%"
	}

	records, total, err := h.History.GetDecisions(filter)
	if err != nil {
		respondError(w, "failed to query decisions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]interface{}{
		"decisions": records,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	}, http.StatusOK)
}

// Stats aggregates the history over ?days (default 7).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w) {
		return
	}
	stats, err := h.History.GetStats(intParam(r, "days", 7, 3650))
	if err != nil {
		respondError(w, "failed to compute stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, stats, http.StatusOK)
}

func (h *Handlers) requireHistory(w http.ResponseWriter) bool {
	if h.History == nil {
		respondError(w, "history database is not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// statusFor maps session planning errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrUnknownTarget), errors.Is(err, scheduler.ErrNoTargets):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// intParam reads a positive integer query parameter. max <= 0 means no cap.
func intParam(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions
func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: message,
	}, status)
}
