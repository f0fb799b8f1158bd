package cleaner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"time"

	"system-toolbox/internal/fsops"
	"system-toolbox/internal/safety"
)

var (
	ErrRootNotFound   = errors.New("root directory does not exist")
	ErrRootNotDir     = errors.New("root is not a directory")
	ErrRootUnreadable = errors.New("root directory is not readable")
	ErrNilPolicy      = errors.New("nil clean policy")
)

// Reporter receives progress from a cleaning session.
type Reporter interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

// Throttle paces deletes; *rate.Limiter satisfies it.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Options configure a SafeCleaner. Zero values are usable.
type Options struct {
	DryRun bool

	FS       fsops.FS
	Reporter Reporter
	Throttle Throttle
	Now      func() time.Time

	// ExtraProtected paths are refused by the delete validator in addition
	// to the built-in system locations.
	ExtraProtected []string
}

// SafeCleaner walks a directory tree and deletes the entries a Policy allows.
// It holds no per-run state and may be used by several goroutines at once,
// provided they clean disjoint roots.
type SafeCleaner struct {
	fs             fsops.FS
	reporter       Reporter
	throttle       Throttle
	now            func() time.Time
	dryRun         bool
	extraProtected []string
}

// NewSafeCleaner creates a cleaner from opts.
func NewSafeCleaner(opts Options) *SafeCleaner {
	c := &SafeCleaner{
		fs:             opts.FS,
		reporter:       opts.Reporter,
		throttle:       opts.Throttle,
		now:            opts.Now,
		dryRun:         opts.DryRun,
		extraProtected: opts.ExtraProtected,
	}
	if c.fs == nil {
		c.fs = fsops.OSFS{}
	}
	if c.reporter == nil {
		c.reporter = &stdReporter{Logger: log.New(io.Discard, "", 0)}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// DryRun reports whether the cleaner only simulates deletes.
func (c *SafeCleaner) DryRun() bool {
	return c.dryRun
}

// Result aggregates one CleanDirectory call. BytesFreed is left at zero
// here and filled in by callers that measure size before and after.
type Result struct {
	CleanedCount    int
	SkippedCount    int
	BytesFreed      int64
	DirsRemoved     int
	SkippedByReason map[Reason]int
	Decisions       []Decision
}

// NewResult returns an empty result ready for accumulation.
func NewResult() Result {
	return Result{SkippedByReason: make(map[Reason]int)}
}

// Record classifies d into the running totals.
func (r *Result) Record(d Decision) {
	if r.SkippedByReason == nil {
		r.SkippedByReason = make(map[Reason]int)
	}
	if d.Cleaned() {
		r.CleanedCount++
	} else {
		r.SkippedCount++
		r.SkippedByReason[d.Reason]++
	}
	r.Decisions = append(r.Decisions, d)
}

// Merge adds other into r.
func (r *Result) Merge(other Result) {
	if r.SkippedByReason == nil {
		r.SkippedByReason = make(map[Reason]int)
	}
	r.CleanedCount += other.CleanedCount
	r.SkippedCount += other.SkippedCount
	r.BytesFreed += other.BytesFreed
	r.DirsRemoved += other.DirsRemoved
	for reason, n := range other.SkippedByReason {
		r.SkippedByReason[reason] += n
	}
	r.Decisions = append(r.Decisions, other.Decisions...)
}

// CleanDirectory deletes every eligible entry below root and removes the
// subdirectories that end up empty. root itself is never removed.
// Only whole-root problems are returned as errors; per-entry failures are
// recorded as skip decisions.
func (c *SafeCleaner) CleanDirectory(root string, policy *safety.Policy) (Result, error) {
	if policy == nil {
		return Result{}, ErrNilPolicy
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}
	abs = filepath.Clean(abs)

	info, err := c.fs.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrRootNotFound, abs)
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, abs, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrRootNotDir, abs)
	}

	entries, err := c.fs.ReadDir(abs)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, abs, err)
	}

	w := c.newWalk(abs, policy)

	c.reporter.Info("Starting clean", "root", abs, "dry_run", c.dryRun, "max_age_days", policy.MaxFileAgeDays)
	w.cleanEntries(abs, entries)
	c.reporter.Info("Clean complete",
		"root", abs,
		"cleaned", w.result.CleanedCount,
		"skipped", w.result.SkippedCount,
		"dirs_removed", w.result.DirsRemoved,
	)

	return w.result, nil
}

// CleanFile applies the policy to a single file outside of a directory
// walk, deleting it when eligible. ok is false when path does not exist.
// With checkAge false the age threshold is not applied.
func (c *SafeCleaner) CleanFile(path string, policy *safety.Policy, checkAge bool) (d Decision, ok bool) {
	if policy == nil {
		return Decision{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Decision{}, false
	}
	abs = filepath.Clean(abs)

	info, err := c.fs.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return Decision{}, false
	}

	w := c.newWalk(filepath.Dir(abs), policy)
	switch {
	case err != nil:
		w.record(w.decision(abs, KindFile, ActionSkip, ReasonInaccessible, err))
	case w.policy.IsPathSafe(abs):
		w.record(w.decision(abs, KindFile, ActionSkip, ReasonSafePath, nil))
	case !info.Mode().IsRegular():
		w.record(w.decision(abs, KindOther, ActionSkip, ReasonUnsupportedType, nil))
	default:
		w.cleanFile(abs, checkAge)
	}
	return w.result.Decisions[0], true
}

func (c *SafeCleaner) newWalk(root string, policy *safety.Policy) *walk {
	return &walk{
		SafeCleaner: c,
		policy:      policy,
		validator:   safety.NewValidator([]string{root}, c.extraProtected),
		startedAt:   c.now(),
		result:      NewResult(),
	}
}

// walk carries the state of a single CleanDirectory call.
type walk struct {
	*SafeCleaner
	policy    *safety.Policy
	validator *safety.Validator
	startedAt time.Time
	result    Result
}

func (w *walk) cleanEntries(dir string, entries []fs.DirEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())

		if w.policy.IsPathSafe(path) {
			w.record(w.decision(path, kindOf(e), ActionSkip, ReasonSafePath, nil))
			continue
		}

		switch {
		case e.Type().IsRegular():
			w.cleanFile(path, true)
		case e.IsDir():
			w.cleanSubdir(path)
		default:
			w.record(w.decision(path, KindOther, ActionSkip, ReasonUnsupportedType, nil))
		}
	}
}

func (w *walk) cleanFile(path string, checkAge bool) {
	if w.policy.IsExcludedExtension(path) {
		w.record(w.decision(path, KindFile, ActionSkip, ReasonExcludedExtension, nil))
		return
	}
	if w.policy.IsProtectedName(path) {
		w.record(w.decision(path, KindFile, ActionSkip, ReasonProtectedName, nil))
		return
	}

	info, err := w.fs.Stat(path)
	if err != nil {
		w.record(w.decision(path, KindFile, ActionSkip, ReasonAgeUnknown, err))
		return
	}

	d := w.decision(path, KindFile, ActionSkip, ReasonTooNew, nil)
	d.Size = info.Size()
	if age, ok := safety.AgeDays(info.ModTime(), w.startedAt); ok {
		d.AgeDays = age
	}
	if checkAge && w.policy.IsTooNew(info.ModTime(), w.startedAt) {
		w.record(d)
		return
	}

	if err := w.validator.ValidateDeleteTarget(path); err != nil {
		d.Reason = ReasonUnsafeTarget
		d.Err = err
		w.record(d)
		return
	}

	d.Reason = ReasonEligible
	if w.dryRun {
		d.Action = ActionDryRun
		w.record(d)
		return
	}

	if w.throttle != nil {
		if err := w.throttle.Wait(context.Background()); err != nil {
			w.reporter.Debug("Delete throttle failed, deleting unpaced", "path", path, "error", err)
		}
	}
	if err := w.fs.Remove(path); err != nil {
		d.Reason = ReasonDeleteFailed
		d.Err = err
		w.record(d)
		return
	}

	d.Action = ActionDelete
	w.record(d)
}

func (w *walk) cleanSubdir(path string) {
	entries, err := w.fs.ReadDir(path)
	if err != nil {
		w.record(w.decision(path, KindDirectory, ActionSkip, ReasonInaccessible, err))
		return
	}

	w.cleanEntries(path, entries)

	if w.dryRun {
		return
	}

	// Any remaining child, including a skipped one, keeps the directory.
	remaining, err := w.fs.ReadDir(path)
	if err != nil || len(remaining) > 0 {
		return
	}
	if err := w.validator.ValidateDeleteTarget(path); err != nil {
		w.reporter.Debug("Keeping empty directory", "path", path, "error", err)
		return
	}
	if err := w.fs.Remove(path); err != nil {
		w.reporter.Debug("Failed to remove empty directory", "path", path, "error", err)
		return
	}
	w.result.DirsRemoved++
	w.reporter.Debug("Removed empty directory", "path", path)
}

func (w *walk) decision(path string, kind Kind, action Action, reason Reason, err error) Decision {
	return Decision{
		Path:        path,
		Kind:        kind,
		Action:      action,
		Reason:      reason,
		AgeDays:     -1,
		MinAge:      w.policy.MaxFileAgeDays,
		Err:         err,
		EvaluatedAt: w.startedAt,
	}
}

func (w *walk) record(d Decision) {
	w.result.Record(d)

	switch {
	case d.Err != nil:
		w.reporter.Warn(d.ToLogString())
	case d.Cleaned():
		w.reporter.Info(d.ToLogString())
	default:
		w.reporter.Debug(d.ToLogString())
	}
}

func kindOf(e fs.DirEntry) Kind {
	switch {
	case e.Type().IsRegular():
		return KindFile
	case e.IsDir():
		return KindDirectory
	}
	return KindOther
}

// stdReporter wraps standard log.Logger to implement Reporter.
type stdReporter struct {
	*log.Logger
}

func (l *stdReporter) Debug(msg string, args ...interface{}) {
	l.logWithLevel("DEBUG", msg, args...)
}

func (l *stdReporter) Info(msg string, args ...interface{}) {
	l.logWithLevel("INFO", msg, args...)
}

func (l *stdReporter) Warn(msg string, args ...interface{}) {
	l.logWithLevel("WARN", msg, args...)
}

func (l *stdReporter) logWithLevel(level, msg string, args ...interface{}) {
	parts := []interface{}{fmt.Sprintf("[%s]", level), msg}
	parts = append(parts, args...)
	l.Logger.Println(parts...)
}
