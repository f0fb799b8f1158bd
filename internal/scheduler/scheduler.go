package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"system-toolbox/internal/cleaner"
	"system-toolbox/internal/config"
	"system-toolbox/internal/database"
	"system-toolbox/internal/disk"
	"system-toolbox/internal/fsops"
	"system-toolbox/internal/limiter"
	"system-toolbox/internal/logging"
	"system-toolbox/internal/metrics"
	"system-toolbox/internal/orchestrator"
	"system-toolbox/internal/process"
	"system-toolbox/internal/recyclebin"
	"system-toolbox/internal/safety"
	"system-toolbox/internal/worker"
)

var (
	ErrNilConfig      = errors.New("nil config")
	ErrUnknownTarget  = errors.New("unknown target")
	ErrNoTargets      = errors.New("no enabled targets")
	ErrPartialFailure = errors.New("one or more targets failed")
	ErrTimeout        = errors.New("target did not finish in time")
	ErrCancelled      = errors.New("session cancelled before target started")
)

// Target kinds
const (
	KindTemp       = "temp"
	KindBrowser    = "browser"
	KindRecycleBin = "recycle_bin"
)

// RecycleBinTarget is the name selecting the recycle bin.
const RecycleBinTarget = "recycle_bin"

// Trigger values recorded with each run
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// HistoryStore persists finished sessions; *database.HistoryDB satisfies it.
type HistoryStore interface {
	RecordRun(run database.RunRecord) (int64, error)
	RecordDecisions(runID int64, target string, decisions []cleaner.Decision) error
}

// RecycleBin empties the bin; *recyclebin.Bin satisfies it.
type RecycleBin interface {
	Query() (recyclebin.Info, error)
	Empty(ctx context.Context, opts recyclebin.Options) (recyclebin.Result, error)
}

// Options tune one session. Zero values select production collaborators.
type Options struct {
	// DryRun is OR-ed with the config's dry_run.
	DryRun bool
	// Targets selects targets by name; empty selects every enabled one.
	Targets []string
	Trigger string

	Logger     Logger
	History    HistoryStore
	Pool       *worker.Pool
	Terminator process.Terminator
	Bin        RecycleBin
	FS         fsops.FS
	Prober     orchestrator.SizeProber

	// OnTargetDone is called as each target finishes.
	OnTargetDone func(TargetResult)
}

// TargetResult is the outcome of one target.
type TargetResult struct {
	Name       string             `json:"name"`
	Kind       string             `json:"kind"`
	Result     cleaner.Result     `json:"-"`
	RecycleBin *recyclebin.Result `json:"recycle_bin,omitempty"`
	Err        error              `json:"-"`
	Duration   time.Duration      `json:"duration_ns"`
}

// Failed reports whether the target could not be cleaned as a whole.
func (t TargetResult) Failed() bool {
	return t.Err != nil
}

// Summary aggregates one cleaning session.
type Summary struct {
	RunID      int64          `json:"run_id,omitempty"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DryRun     bool           `json:"dry_run"`
	Targets    []TargetResult `json:"targets"`
	Totals     cleaner.Result `json:"-"`
	Failed     int            `json:"failed"`
	Cancelled  bool           `json:"cancelled"`
	MaxAgeDays int            `json:"max_age_days"`
	// Covered maps a selected temp target to the target whose location
	// contains it; covered targets are cleaned as part of the other one.
	Covered map[string]string `json:"covered,omitempty"`
}

// Status classifies the session as ok, partial or failed.
func (s *Summary) Status() string {
	switch {
	case s.Failed == 0:
		return database.StatusOK
	case s.Failed < len(s.Targets):
		return database.StatusPartial
	default:
		return database.StatusFailed
	}
}

// Err returns ErrPartialFailure when any target failed.
func (s *Summary) Err() error {
	if s.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrPartialFailure, s.Failed, len(s.Targets))
	}
	return nil
}

// plannedTarget is a target resolved from config before submission.
type plannedTarget struct {
	name    string
	kind    string
	temp    config.Target
	browser config.BrowserCfg
}

// Plan resolves the targets a session would clean.
func Plan(cfg *config.Config, names []string) ([]string, error) {
	planned, _, err := plan(cfg, names)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(planned))
	for _, p := range planned {
		out = append(out, p.name)
	}
	return out, nil
}

// plan resolves names, or every enabled target when names is empty, and
// folds temp targets whose locations nest into the outermost one.
func plan(cfg *config.Config, names []string) ([]plannedTarget, map[string]string, error) {
	selected, err := selectTargets(cfg, names)
	if err != nil {
		return nil, nil, err
	}
	planned, covered := mergeOverlapping(selected)
	return planned, covered, nil
}

func selectTargets(cfg *config.Config, names []string) ([]plannedTarget, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	var out []plannedTarget
	if len(names) == 0 {
		for _, t := range cfg.TempLocations {
			if t.Enabled {
				out = append(out, plannedTarget{name: t.Name, kind: KindTemp, temp: t})
			}
		}
		for _, b := range cfg.Browsers {
			if b.Enabled {
				out = append(out, plannedTarget{name: b.Name, kind: KindBrowser, browser: b})
			}
		}
		if cfg.RecycleBin.Enabled {
			out = append(out, plannedTarget{name: RecycleBinTarget, kind: KindRecycleBin})
		}
		if len(out) == 0 {
			return nil, ErrNoTargets
		}
		return out, nil
	}

	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		if key == RecycleBinTarget {
			out = append(out, plannedTarget{name: RecycleBinTarget, kind: KindRecycleBin})
			continue
		}
		if t, ok := cfg.Target(name); ok {
			out = append(out, plannedTarget{name: t.Name, kind: KindTemp, temp: t})
			continue
		}
		if b, ok := cfg.Browser(name); ok {
			out = append(out, plannedTarget{name: b.Name, kind: KindBrowser, browser: b})
			continue
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, raw)
	}
	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	return out, nil
}

// mergeOverlapping drops every temp target whose path equals or lies below
// another selected temp target. The containing target takes the place of
// the first target it absorbs.
func mergeOverlapping(in []plannedTarget) ([]plannedTarget, map[string]string) {
	covered := make(map[string]string)
	var out []plannedTarget
	for _, p := range in {
		if p.kind != KindTemp {
			out = append(out, p)
			continue
		}
		if q, ok := containingTemp(out, p.temp.Path); ok {
			covered[p.name] = q.name
			continue
		}

		kept := make([]plannedTarget, 0, len(out)+1)
		placed := false
		for _, q := range out {
			if q.kind == KindTemp && safety.IsWithin(q.temp.Path, p.temp.Path) {
				covered[q.name] = p.name
				for name, by := range covered {
					if by == q.name {
						covered[name] = p.name
					}
				}
				if !placed {
					kept = append(kept, p)
					placed = true
				}
				continue
			}
			kept = append(kept, q)
		}
		if !placed {
			kept = append(kept, p)
		}
		out = kept
	}
	return out, covered
}

func containingTemp(planned []plannedTarget, path string) (plannedTarget, bool) {
	for _, q := range planned {
		if q.kind == KindTemp && safety.IsWithin(path, q.temp.Path) {
			return q, true
		}
	}
	return plannedTarget{}, false
}

// lockKeys are the locations a target touches.
func (p plannedTarget) lockKeys() []string {
	switch p.kind {
	case KindTemp:
		return []string{p.temp.Path}
	case KindBrowser:
		return append(append([]string{}, p.browser.Paths...), p.browser.ProfileRoots...)
	}
	return []string{p.kind}
}

// session holds the collaborators shared by every task of one RunOnce.
type session struct {
	cfg     *config.Config
	opts    Options
	dryRun  bool
	logger  Logger
	orch    *orchestrator.Orchestrator
	temp    *safety.Policy
	browser *safety.Policy
	bin     RecycleBin
}

// RunOnce runs one cleaning session over the selected targets. Per-target
// failures are reported in the Summary; only configuration problems are
// returned as errors.
func RunOnce(ctx context.Context, cfg *config.Config, opts Options) (*Summary, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	planned, covered, err := plan(cfg, opts.Targets)
	if err != nil {
		return nil, err
	}
	s, err := newSession(cfg, opts)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Trigger:    opts.Trigger,
		StartedAt:  time.Now(),
		DryRun:     s.dryRun,
		Targets:    make([]TargetResult, len(planned)),
		Totals:     cleaner.NewResult(),
		MaxAgeDays: cfg.Policy.MaxFileAgeDays,
	}
	if sum.Trigger == "" {
		sum.Trigger = TriggerCLI
	}
	if len(covered) > 0 {
		sum.Covered = covered
		for name, by := range covered {
			s.logger.Info("target location is part of another target", "target", name, "cleaned_with", by)
		}
	}
	s.logger.Info("cleaning session started", "targets", len(planned), "dry_run", s.dryRun, "trigger", sum.Trigger)

	// A timed-out task cannot be interrupted mid-traversal. The session stops
	// waiting for it and lets it finish in the background; its root stays
	// locked until then.
	abandoned := false
	pool := opts.Pool
	if pool == nil {
		pool = worker.NewPool(ctx, cfg.WorkerPool.Concurrency, len(planned))
		defer func() {
			if abandoned {
				go pool.Close()
				return
			}
			pool.Close()
		}()
	}

	futures := make([]*worker.Future, len(planned))
	for i, p := range planned {
		sum.Targets[i] = TargetResult{Name: p.name, Kind: p.kind}
		// Cancellation is only observed between top-level roots.
		if ctx.Err() != nil {
			sum.Cancelled = true
			sum.Targets[i].Err = ErrCancelled
			continue
		}
		fut, err := pool.Submit(ctx, worker.Task{
			Name:        p.name,
			RunDetailed: s.task(p),
		})
		if err != nil {
			sum.Targets[i].Err = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				sum.Cancelled = true
			}
			continue
		}
		futures[i] = fut
	}

	waitCtx := context.Background()
	if cfg.WorkerPool.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, time.Duration(cfg.WorkerPool.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	for i, fut := range futures {
		tr := &sum.Targets[i]
		if fut != nil {
			var err error
			out, ok := fut.Outcome()
			if !ok {
				out, err = fut.Wait(waitCtx)
			}
			if err != nil {
				abandoned = true
				tr.Err = fmt.Errorf("%w: %v", ErrTimeout, err)
			} else {
				tr.Result = out.Result
				tr.Err = out.Err
				tr.Duration = out.Duration()
				if res, ok := out.Detail.(recyclebin.Result); ok {
					tr.RecycleBin = &res
				}
			}
			if errors.Is(tr.Err, context.Canceled) {
				sum.Cancelled = true
			}
		}
		s.finishTarget(*tr)
		if tr.Failed() {
			sum.Failed++
		} else {
			mergeCounts(&sum.Totals, tr.Result)
		}
		if opts.OnTargetDone != nil {
			opts.OnTargetDone(*tr)
		}
	}

	sum.FinishedAt = time.Now()
	metrics.RecordRun()
	s.record(sum)

	s.logger.Info("cleaning session complete",
		"status", sum.Status(),
		"cleaned", sum.Totals.CleanedCount,
		"skipped", sum.Totals.SkippedCount,
		"freed", sum.Totals.BytesFreed,
		"failed", sum.Failed,
		"duration", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	return sum, nil
}

func newSession(cfg *config.Config, opts Options) (*session, error) {
	tempPolicy, err := cfg.CleanPolicy()
	if err != nil {
		return nil, err
	}
	browserPolicy, err := cfg.BrowserPolicy()
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		opts:    opts,
		dryRun:  opts.DryRun || cfg.DryRun,
		logger:  opts.Logger,
		temp:    tempPolicy,
		browser: browserPolicy,
		bin:     opts.Bin,
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.bin == nil {
		s.bin = recyclebin.New()
	}

	c := cleaner.NewSafeCleaner(cleaner.Options{
		DryRun:         s.dryRun,
		FS:             opts.FS,
		Reporter:       s.logger,
		Throttle:       throttle(cfg.DeleteRatePerSecond),
		ExtraProtected: ownFiles(cfg),
	})

	term := opts.Terminator
	if term == nil {
		term = process.NewKiller(s.logger)
	}
	s.orch = orchestrator.New(c, orchestrator.Options{
		Prober:     opts.Prober,
		Terminator: term,
		Reporter:   s.logger,
		FS:         opts.FS,
	})
	return s, nil
}

// throttle avoids handing the cleaner a typed nil interface.
func throttle(perSecond float64) cleaner.Throttle {
	if t := limiter.NewDeleteThrottle(perSecond); t != nil {
		return t
	}
	return nil
}

// ownFiles lists the toolbox's own state so a misconfigured target can never
// delete it.
func ownFiles(cfg *config.Config) []string {
	var out []string
	if cfg.DatabasePath != "" {
		out = append(out, cfg.DatabasePath, cfg.DatabasePath+"-wal", cfg.DatabasePath+"-shm")
	}
	if cfg.Logging.File != "" {
		out = append(out, cfg.Logging.File)
	}
	return out
}

func (s *session) task(p plannedTarget) func(context.Context) (cleaner.Result, interface{}, error) {
	return func(ctx context.Context) (cleaner.Result, interface{}, error) {
		release, err := locks.acquire(ctx, p.lockKeys(), func(holder []string) {
			s.logger.Info("waiting for overlapping clean to finish", "target", p.name, "busy", strings.Join(holder, ", "))
		})
		if err != nil {
			return cleaner.NewResult(), nil, err
		}
		defer release()

		metrics.TaskStarted()
		defer metrics.TaskFinished()

		switch p.kind {
		case KindTemp:
			s.logger.Info("cleaning temp location", "target", p.name, "path", p.temp.Path)
			res, err := s.orch.CleanWithAccounting(ctx, p.temp.Path, s.temp, p.temp.Processes...)
			return res, nil, err
		case KindBrowser:
			s.logger.Info("cleaning browser data", "target", p.name)
			res, err := s.orch.CleanBrowser(ctx, browserOf(p.browser), s.browser)
			return res, nil, err
		case KindRecycleBin:
			bin, err := s.bin.Empty(ctx, recyclebin.Options{DryRun: s.dryRun, NoSound: s.cfg.RecycleBin.NoSound})
			if err != nil {
				return cleaner.NewResult(), nil, err
			}
			out := cleaner.NewResult()
			out.BytesFreed = bin.BytesFreed
			out.CleanedCount = int(bin.Items)
			return out, bin, nil
		}
		return cleaner.NewResult(), nil, fmt.Errorf("%w: kind %q", ErrUnknownTarget, p.kind)
	}
}

func browserOf(b config.BrowserCfg) orchestrator.Browser {
	out := orchestrator.Browser{
		Name:         b.Name,
		Paths:        b.Paths,
		ProfileRoots: b.ProfileRoots,
		Processes:    b.Processes,
	}
	if len(b.ProfileRoots) > 0 {
		out.NamedFiles = config.FirefoxNamedFiles
		out.CacheDir = config.FirefoxCacheDir
	}
	return out
}

func (s *session) finishTarget(tr TargetResult) {
	if tr.Failed() {
		metrics.RecordCleanError(tr.Name)
		s.logger.Warn("target failed", "target", tr.Name, "error", tr.Err)
		return
	}
	metrics.RecordCleanResult(tr.Name, tr.Result, s.dryRun, tr.Duration)
	if tr.RecycleBin != nil {
		metrics.RecordRecycleBin(tr.RecycleBin.BytesFreed)
	}
	s.logger.Info("target done",
		"target", tr.Name,
		"cleaned", tr.Result.CleanedCount,
		"skipped", tr.Result.SkippedCount,
		"freed", tr.Result.BytesFreed,
		"dirs_removed", tr.Result.DirsRemoved)
}

// record stores the session in the history DB. Storage errors are logged;
// they never fail a session that already ran.
func (s *session) record(sum *Summary) {
	if s.opts.History == nil {
		return
	}
	run := database.RunRecord{
		StartedAt:     sum.StartedAt,
		FinishedAt:    sum.FinishedAt,
		Trigger:       sum.Trigger,
		DryRun:        sum.DryRun,
		Cleaned:       sum.Totals.CleanedCount,
		Skipped:       sum.Totals.SkippedCount,
		BytesFreed:    sum.Totals.BytesFreed,
		DirsRemoved:   sum.Totals.DirsRemoved,
		FailedTargets: sum.Failed,
		Status:        sum.Status(),
	}
	for _, tr := range sum.Targets {
		rec := database.TargetRecord{
			Target:      tr.Name,
			Kind:        tr.Kind,
			Cleaned:     tr.Result.CleanedCount,
			Skipped:     tr.Result.SkippedCount,
			BytesFreed:  tr.Result.BytesFreed,
			DirsRemoved: tr.Result.DirsRemoved,
			Duration:    tr.Duration,
		}
		if tr.Err != nil {
			rec.Error = tr.Err.Error()
		}
		run.Targets = append(run.Targets, rec)
	}

	id, err := s.opts.History.RecordRun(run)
	if err != nil {
		metrics.ErrorsTotal.Inc()
		s.logger.Error("failed to record run", "error", err)
		return
	}
	sum.RunID = id
	for _, tr := range sum.Targets {
		if len(tr.Result.Decisions) == 0 {
			continue
		}
		if err := s.opts.History.RecordDecisions(id, tr.Name, tr.Result.Decisions); err != nil {
			metrics.ErrorsTotal.Inc()
			s.logger.Error("failed to record decisions", "target", tr.Name, "error", err)
		}
	}
}

// mergeCounts adds the counters of src into dst without copying decisions.
func mergeCounts(dst *cleaner.Result, src cleaner.Result) {
	src.Decisions = nil
	dst.Merge(src)
}

// Run performs a session now and then every cfg.Interval() until ctx ends.
// A zero interval runs once.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return ErrNilConfig
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerSchedule
	}

	if _, err := RunOnce(ctx, cfg, opts); err != nil {
		return err
	}
	if cfg.Interval() <= 0 {
		return nil
	}

	ticker := time.NewTicker(cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := RunOnce(ctx, cfg, opts); err != nil {
				logger.Error("error running session", "error", err)
			}
		}
	}
}

// ScanEntry is the current footprint of one target.
type ScanEntry struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Bytes      int64  `json:"bytes"`
	Files      int64  `json:"files"`
	FreeBytes  int64  `json:"free_bytes,omitempty"`
	TotalBytes int64  `json:"total_bytes,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Scan measures every selected target without deleting anything and
// publishes the sizes as gauges.
func Scan(cfg *config.Config, names []string, bin RecycleBin) ([]ScanEntry, error) {
	planned, err := selectTargets(cfg, names)
	if err != nil {
		return nil, err
	}
	if bin == nil {
		bin = recyclebin.New()
	}

	out := make([]ScanEntry, 0, len(planned))
	for _, p := range planned {
		entry := ScanEntry{Name: p.name, Kind: p.kind}
		switch p.kind {
		case KindTemp:
			stats, err := scanRoots([]string{p.temp.Path})
			if err != nil {
				entry.Error = err.Error()
				break
			}
			fill(&entry, stats)
			metrics.UpdateTargetStats(p.name, stats)
		case KindBrowser:
			roots := append(append([]string{}, p.browser.Paths...), p.browser.ProfileRoots...)
			stats, err := scanRoots(roots)
			if err != nil {
				entry.Error = err.Error()
				break
			}
			fill(&entry, stats)
			metrics.UpdateTargetStats(p.name, stats)
		case KindRecycleBin:
			info, err := bin.Query()
			if err != nil {
				entry.Error = err.Error()
				break
			}
			entry.Bytes = info.Size
			entry.Files = info.Items
		}
		out = append(out, entry)
	}
	return out, nil
}

// scanRoots sums the existing roots. Missing roots measure zero.
func scanRoots(roots []string) (*disk.PathStats, error) {
	total := &disk.PathStats{}
	present := make([]string, 0, len(roots))
	for _, r := range roots {
		if _, err := os.Stat(r); err == nil {
			present = append(present, r)
		}
	}
	if len(present) == 0 {
		return total, nil
	}
	results, err := disk.ScanPathsParallel(present)
	for _, st := range results {
		total.UsedBytes += st.UsedBytes
		total.FileCount += st.FileCount
		total.FreeBytes = st.FreeBytes
		total.TotalBytes = st.TotalBytes
	}
	if len(results) == 0 && err != nil {
		return nil, err
	}
	return total, nil
}

func fill(e *ScanEntry, st *disk.PathStats) {
	e.Bytes = st.UsedBytes
	e.Files = st.FileCount
	e.FreeBytes = st.FreeBytes
	e.TotalBytes = st.TotalBytes
}
