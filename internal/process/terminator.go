package process

import (
	"context"
	"os"
	"strings"

	psprocess "github.com/shirou/gopsutil/v4/process"
)

// Terminator stops processes that hold files open under a cleaning root.
// Termination is best-effort: failures are reported, never returned.
type Terminator interface {
	Terminate(ctx context.Context, names ...string) int
}

// Reporter receives kill outcomes.
type Reporter interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

// Process is the subset of a running process the killer needs.
type Process interface {
	Pid() int32
	Name() (string, error)
	Kill() error
}

// Lister enumerates running processes.
type Lister func(ctx context.Context) ([]Process, error)

// Killer terminates processes by executable name.
type Killer struct {
	List     Lister
	Reporter Reporter
}

// NewKiller returns a Killer over the live process table.
func NewKiller(reporter Reporter) *Killer {
	return &Killer{List: SystemProcesses, Reporter: reporter}
}

// Terminate kills every process whose name matches one of names,
// ignoring case and an optional .exe suffix. It returns how many were killed.
func (k *Killer) Terminate(ctx context.Context, names ...string) int {
	if len(names) == 0 {
		return 0
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[normalizeName(n)] = struct{}{}
	}

	procs, err := k.List(ctx)
	if err != nil {
		k.warn("Failed to list processes", "error", err)
		return 0
	}

	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if ctx.Err() != nil {
			break
		}
		if p.Pid() == self {
			continue
		}
		name, err := p.Name()
		if err != nil {
			continue
		}
		if _, ok := wanted[normalizeName(name)]; !ok {
			continue
		}
		if err := p.Kill(); err != nil {
			k.warn("Failed to terminate process", "name", name, "pid", p.Pid(), "error", err)
			continue
		}
		killed++
		if k.Reporter != nil {
			k.Reporter.Info("Terminated process", "name", name, "pid", p.Pid())
		}
	}
	return killed
}

func (k *Killer) warn(msg string, args ...interface{}) {
	if k.Reporter != nil {
		k.Reporter.Warn(msg, args...)
	}
}

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".exe")
}

// NoopTerminator never kills anything. Used for dry runs.
type NoopTerminator struct{}

func (NoopTerminator) Terminate(ctx context.Context, names ...string) int { return 0 }

// SystemProcesses lists running processes through gopsutil.
func SystemProcesses(ctx context.Context) ([]Process, error) {
	procs, err := psprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		out = append(out, &systemProcess{ctx: ctx, p: p})
	}
	return out, nil
}

type systemProcess struct {
	ctx context.Context
	p   *psprocess.Process
}

func (s *systemProcess) Pid() int32 { return s.p.Pid }

func (s *systemProcess) Name() (string, error) { return s.p.NameWithContext(s.ctx) }

func (s *systemProcess) Kill() error { return s.p.KillWithContext(s.ctx) }
