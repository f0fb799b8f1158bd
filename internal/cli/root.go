// Package cli is the toolbox command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"system-toolbox/internal/config"
	"system-toolbox/internal/database"
	"system-toolbox/internal/exitcodes"
	"system-toolbox/internal/logging"
	"system-toolbox/internal/process"
	"system-toolbox/internal/recyclebin"
	"system-toolbox/internal/scheduler"
)

// BuildInfo is stamped into the binary by the linker.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// errUsage marks bad flags and arguments.
var errUsage = errors.New("usage")

// app carries global flags and the collaborators shared by commands.
type app struct {
	configPath string
	debug      bool

	info   BuildInfo
	stdout io.Writer
	stderr io.Writer

	// Replaced in tests.
	bin        scheduler.RecycleBin
	terminator process.Terminator
}

// env is what a command needs after the config is loaded.
type env struct {
	cfg     *config.Config
	logger  *logging.Logger
	history *database.HistoryDB
}

func (e *env) close() {
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			e.logger.Warn("failed to close history database", "error", err)
		}
	}
	_ = e.logger.Close()
}

// historyStore avoids handing a typed nil to the scheduler.
func (e *env) historyStore() scheduler.HistoryStore {
	if e.history == nil {
		return nil
	}
	return e.history
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "system-toolbox", "config.yaml")
	}
	return "config.yaml"
}

// NewRootCommand builds the toolbox command tree writing to stdout/stderr.
func NewRootCommand(info BuildInfo, stdout, stderr io.Writer) *cobra.Command {
	return newApp(info, stdout, stderr).rootCommand()
}

func newApp(info BuildInfo, stdout, stderr io.Writer) *app {
	return &app{
		info:   info,
		stdout: stdout,
		stderr: stderr,
		bin:    recyclebin.New(),
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolbox",
		Short: "Safely reclaim disk space on Windows",
		Long: `System Toolbox - safely reclaim disk space.

Cleans temp folders, browser caches and the Recycle Bin while leaving
recent files, system locations, protected file types and browser
profile data untouched.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "Path to configuration file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Show detailed operation logs")

	root.AddCommand(a.cleanCommand())
	root.AddCommand(a.scanCommand())
	root.AddCommand(a.recycleCommand())
	root.AddCommand(a.serveCommand())
	root.AddCommand(a.tokenCommand())
	root.AddCommand(a.versionCommand())
	return root
}

// load reads the config and opens the logger and history database. A
// history database that cannot be opened is logged and skipped.
func (a *app) load() (*env, error) {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	e := &env{cfg: cfg, logger: logging.NewTo(a.stderr, cfg.Logging)}
	e.logger.Debug("configuration loaded", "path", a.configPath)

	if cfg.DatabasePath != "" {
		db, err := database.NewHistoryDB(cfg.DatabasePath)
		if err != nil {
			e.logger.Warn("history disabled", "error", err)
		} else {
			e.history = db
		}
	}
	return e, nil
}

// Execute runs the command tree and maps the outcome to an exit code.
func Execute(ctx context.Context, info BuildInfo, args []string) int {
	return execute(ctx, newApp(info, os.Stdout, os.Stderr), args)
}

func execute(ctx context.Context, a *app, args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	if errors.Is(err, errUsage) {
		return exitcodes.InvalidConfig
	}
	return exitcodes.FromError(err)
}
