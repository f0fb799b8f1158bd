package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"system-toolbox/internal/cleaner"
	"system-toolbox/internal/disk"
	"system-toolbox/internal/fsops"
	"system-toolbox/internal/process"
	"system-toolbox/internal/safety"
)

// SizeProber measures the bytes held below a root.
type SizeProber interface {
	TotalSize(root string) int64
}

// Cleaner is the traversal engine the orchestrator drives.
type Cleaner interface {
	CleanDirectory(root string, policy *safety.Policy) (cleaner.Result, error)
	CleanFile(path string, policy *safety.Policy, checkAge bool) (cleaner.Decision, bool)
	DryRun() bool
}

// Reporter receives progress messages.
type Reporter interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

type Options struct {
	Prober     SizeProber
	Terminator process.Terminator
	Reporter   Reporter
	FS         fsops.FS
}

// Orchestrator wraps a Cleaner with before/after byte accounting and
// process termination.
type Orchestrator struct {
	cleaner    Cleaner
	prober     SizeProber
	terminator process.Terminator
	reporter   Reporter
	fs         fsops.FS
}

func New(c Cleaner, opts Options) *Orchestrator {
	o := &Orchestrator{
		cleaner:    c,
		prober:     opts.Prober,
		terminator: opts.Terminator,
		reporter:   opts.Reporter,
		fs:         opts.FS,
	}
	if o.prober == nil {
		o.prober = disk.Prober{}
	}
	if o.terminator == nil {
		o.terminator = process.NoopTerminator{}
	}
	if o.reporter == nil {
		o.reporter = discardReporter{}
	}
	if o.fs == nil {
		o.fs = fsops.OSFS{}
	}
	return o
}

// CleanWithAccounting cleans root and fills in BytesFreed from the size
// difference measured around the clean. Processes named in processes are
// terminated first, except in dry-run mode.
func (o *Orchestrator) CleanWithAccounting(ctx context.Context, root string, policy *safety.Policy, processes ...string) (cleaner.Result, error) {
	before := o.prober.TotalSize(root)
	o.terminate(ctx, processes)

	result, err := o.cleaner.CleanDirectory(root, policy)
	if err != nil {
		return cleaner.Result{}, err
	}

	after := o.prober.TotalSize(root)
	result.BytesFreed = freed(before, after)
	return result, nil
}

// Browser lists the locations that hold one browser's disposable data.
type Browser struct {
	Name string
	// Paths are cache directories or single files.
	Paths []string
	// ProfileRoots contain one directory per profile; each profile's cache
	// directory is cleaned and its NamedFiles are removed directly.
	ProfileRoots []string
	NamedFiles   []string
	CacheDir     string
	Processes    []string
}

// unit is one cleanable location resolved from a Browser.
type unit struct {
	path     string
	isFile   bool
	checkAge bool
}

// CleanBrowser terminates the browser and cleans every location it owns.
// Missing locations are ignored. BytesFreed covers all locations together.
func (o *Orchestrator) CleanBrowser(ctx context.Context, b Browser, policy *safety.Policy) (cleaner.Result, error) {
	if policy == nil {
		return cleaner.Result{}, cleaner.ErrNilPolicy
	}

	units := o.resolve(b)
	before := o.measure(units)
	if len(units) > 0 {
		o.terminate(ctx, b.Processes)
	}

	result := cleaner.NewResult()
	for _, u := range units {
		if u.isFile {
			if d, ok := o.cleaner.CleanFile(u.path, policy, u.checkAge); ok {
				result.Record(d)
			}
			continue
		}
		r, err := o.cleaner.CleanDirectory(u.path, policy)
		if err != nil {
			o.reporter.Warn("Skipping browser location", "browser", b.Name, "path", u.path, "error", err)
			continue
		}
		result.Merge(r)
	}

	result.BytesFreed = freed(before, o.measure(units))
	o.reporter.Info("Browser cleaned",
		"browser", b.Name,
		"cleaned", result.CleanedCount,
		"skipped", result.SkippedCount,
		"bytes_freed", result.BytesFreed,
	)
	return result, nil
}

func (o *Orchestrator) resolve(b Browser) []unit {
	var units []unit
	for _, p := range b.Paths {
		info, err := o.fs.Stat(p)
		if err != nil {
			continue
		}
		units = append(units, unit{path: p, isFile: !info.IsDir(), checkAge: true})
	}

	for _, root := range b.ProfileRoots {
		entries, err := o.fs.ReadDir(root)
		if err != nil {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			profile := filepath.Join(root, e.Name())
			if b.CacheDir != "" {
				cache := filepath.Join(profile, b.CacheDir)
				if info, err := o.fs.Stat(cache); err == nil && info.IsDir() {
					units = append(units, unit{path: cache})
				}
			}
			for _, name := range b.NamedFiles {
				f := filepath.Join(profile, name)
				if info, err := o.fs.Stat(f); err == nil && info.Mode().IsRegular() {
					units = append(units, unit{path: f, isFile: true})
				}
			}
		}
	}
	return units
}

func (o *Orchestrator) measure(units []unit) int64 {
	var total int64
	for _, u := range units {
		if !u.isFile {
			total += o.prober.TotalSize(u.path)
			continue
		}
		if info, err := o.fs.Stat(u.path); err == nil {
			total += info.Size()
		}
	}
	return total
}

func (o *Orchestrator) terminate(ctx context.Context, processes []string) {
	if len(processes) == 0 || o.cleaner.DryRun() {
		return
	}
	if n := o.terminator.Terminate(ctx, processes...); n > 0 {
		o.reporter.Info("Terminated processes", "count", n, "names", fmt.Sprint(processes))
	}
}

func freed(before, after int64) int64 {
	if after >= before {
		return 0
	}
	return before - after
}

type discardReporter struct{}

func (discardReporter) Info(string, ...interface{}) {}
func (discardReporter) Warn(string, ...interface{}) {}
