package api

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"system-toolbox/internal/cleaner"
	"system-toolbox/internal/report"
	"system-toolbox/internal/scheduler"
)

// TaskState is the lifecycle of a clean request.
type TaskState string

const (
	TaskQueued   TaskState = "queued"
	TaskRunning  TaskState = "running"
	TaskDone     TaskState = "done"
	TaskFailed   TaskState = "failed"
	maxKeptTasks           = 100
)

// TaskStatus is what GET /tasks/{id} returns.
type TaskStatus struct {
	ID          string       `json:"id"`
	State       TaskState    `json:"state"`
	Targets     []string     `json:"targets"`
	DryRun      bool         `json:"dry_run"`
	RequestedBy string       `json:"requested_by,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Summary     *SummaryView `json:"summary,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// SummaryView is the JSON form of a scheduler.Summary.
type SummaryView struct {
	RunID           int64        `json:"run_id,omitempty"`
	Status          string       `json:"status"`
	DryRun          bool         `json:"dry_run"`
	Cleaned         int          `json:"cleaned"`
	Skipped         int          `json:"skipped"`
	BytesFreed      int64        `json:"bytes_freed"`
	BytesFreedHuman string       `json:"bytes_freed_human"`
	DirsRemoved     int          `json:"dirs_removed"`
	Failed          int          `json:"failed"`
	Cancelled       bool         `json:"cancelled"`
	Targets         []TargetView `json:"targets"`
	// Covered maps merged targets to the target that cleaned their location.
	Covered map[string]string `json:"covered,omitempty"`
}

// TargetView is one target inside a SummaryView.
type TargetView struct {
	Name            string         `json:"name"`
	Kind            string         `json:"kind"`
	Cleaned         int            `json:"cleaned"`
	Skipped         int            `json:"skipped"`
	BytesFreed      int64          `json:"bytes_freed"`
	DirsRemoved     int            `json:"dirs_removed"`
	SkippedByReason map[string]int `json:"skipped_by_reason,omitempty"`
	DurationMS      int64          `json:"duration_ms"`
	Error           string         `json:"error,omitempty"`
}

func newTargetView(tr scheduler.TargetResult) TargetView {
	v := TargetView{
		Name:        tr.Name,
		Kind:        tr.Kind,
		Cleaned:     tr.Result.CleanedCount,
		Skipped:     tr.Result.SkippedCount,
		BytesFreed:  tr.Result.BytesFreed,
		DirsRemoved: tr.Result.DirsRemoved,
		DurationMS:  tr.Duration.Milliseconds(),
	}
	if len(tr.Result.SkippedByReason) > 0 {
		v.SkippedByReason = reasonCounts(tr.Result.SkippedByReason)
	}
	if tr.Err != nil {
		v.Error = tr.Err.Error()
	}
	return v
}

func newSummaryView(sum *scheduler.Summary) *SummaryView {
	v := &SummaryView{
		RunID:           sum.RunID,
		Status:          sum.Status(),
		DryRun:          sum.DryRun,
		Cleaned:         sum.Totals.CleanedCount,
		Skipped:         sum.Totals.SkippedCount,
		BytesFreed:      sum.Totals.BytesFreed,
		BytesFreedHuman: report.FormatSize(sum.Totals.BytesFreed),
		DirsRemoved:     sum.Totals.DirsRemoved,
		Failed:          sum.Failed,
		Cancelled:       sum.Cancelled,
		Covered:         sum.Covered,
	}
	for _, tr := range sum.Targets {
		v.Targets = append(v.Targets, newTargetView(tr))
	}
	return v
}

func reasonCounts(m map[cleaner.Reason]int) map[string]int {
	out := make(map[string]int, len(m))
	for r, n := range m {
		out[string(r)] = n
	}
	return out
}

// taskStore keeps the most recent clean requests in memory.
type taskStore struct {
	mu    sync.RWMutex
	tasks map[string]*TaskStatus
	order []string
	seq   atomic.Uint64
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: make(map[string]*TaskStatus)}
}

func (s *taskStore) add(targets []string, dryRun bool, by string) TaskStatus {
	id := fmt.Sprintf("%d-%d", time.Now().Unix(), s.seq.Add(1))
	t := &TaskStatus{
		ID:          id,
		State:       TaskQueued,
		Targets:     targets,
		DryRun:      dryRun,
		RequestedBy: by,
		SubmittedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = t
	s.order = append(s.order, id)
	for len(s.order) > maxKeptTasks {
		oldest := s.order[0]
		if st := s.tasks[oldest].State; st == TaskQueued || st == TaskRunning {
			break
		}
		delete(s.tasks, oldest)
		s.order = s.order[1:]
	}
	return *t
}

func (s *taskStore) update(id string, fn func(*TaskStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		fn(t)
	}
}

func (s *taskStore) get(id string) (TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	return *t, true
}

// list returns tasks newest first.
func (s *taskStore) list() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}
