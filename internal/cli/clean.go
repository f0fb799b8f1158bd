package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"system-toolbox/internal/config"
	"system-toolbox/internal/report"
	"system-toolbox/internal/scheduler"
)

type cleanFlags struct {
	dryRun     bool
	all        bool
	browser    bool
	temp       bool
	verbose    bool
	maxAge     int
	excludeExt []string
	safePaths  []string
}

func (a *app) cleanCommand() *cobra.Command {
	var f cleanFlags
	cmd := &cobra.Command{
		Use:   "clean [targets...]",
		Short: "Free up disk space",
		Long: `Delete old temp files, browser caches and optionally empty the Recycle Bin.

Without arguments every enabled target is cleaned. Name targets to clean
only those, for example "toolbox clean user_temp chrome recycle_bin".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClean(cmd, args, f)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&f.dryRun, "dry-run", false, "Preview the cleanup without deleting")
	flags.BoolVar(&f.all, "all", false, "Clean every configured target, including disabled ones")
	flags.BoolVar(&f.browser, "browser", false, "Clean enabled browser caches only")
	flags.BoolVar(&f.temp, "temp", false, "Clean enabled temp folders only")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "List every file that could not be removed")
	flags.IntVar(&f.maxAge, "max-age", 0, "Only delete files older than this many days (overrides config)")
	flags.StringSliceVar(&f.excludeExt, "exclude-ext", nil, "Additional file extensions to keep, e.g. .log")
	flags.StringSliceVar(&f.safePaths, "safe-path", nil, "Additional absolute paths that are never cleaned")
	return cmd
}

func (a *app) runClean(cmd *cobra.Command, args []string, f cleanFlags) error {
	e, err := a.load()
	if err != nil {
		return err
	}
	defer e.close()

	if err := applyPolicyFlags(e.cfg, f); err != nil {
		return err
	}
	targets, err := selectTargets(e.cfg, args, f)
	if err != nil {
		return err
	}

	sum, err := scheduler.RunOnce(cmd.Context(), e.cfg, scheduler.Options{
		DryRun:     f.dryRun,
		Targets:    targets,
		Trigger:    scheduler.TriggerCLI,
		Logger:     e.logger,
		History:    e.historyStore(),
		Bin:        a.bin,
		Terminator: a.terminator,
	})
	if err != nil {
		return err
	}

	fmt.Fprint(a.stdout, report.Render(sum, report.Options{
		Color:   report.ColorEnabled(a.stdout),
		Verbose: f.verbose || a.debug,
	}))
	return sum.Err()
}

// applyPolicyFlags layers command line overrides on the loaded policy.
func applyPolicyFlags(cfg *config.Config, f cleanFlags) error {
	if f.maxAge < 0 {
		return fmt.Errorf("%w: --max-age must be at least 1", config.ErrInvalidConfig)
	}
	if f.maxAge > 0 {
		cfg.Policy.MaxFileAgeDays = f.maxAge
	}
	cfg.Policy.ExcludedExtensions = append(cfg.Policy.ExcludedExtensions, f.excludeExt...)
	for _, p := range f.safePaths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%w: --safe-path %q must be absolute", config.ErrInvalidConfig, p)
		}
		cfg.Policy.SafePaths = append(cfg.Policy.SafePaths, filepath.Clean(p))
	}
	return nil
}

// selectTargets turns arguments and category flags into target names. A nil
// result selects every enabled target.
func selectTargets(cfg *config.Config, args []string, f cleanFlags) ([]string, error) {
	if len(args) > 0 {
		if f.all || f.browser || f.temp {
			return nil, fmt.Errorf("%w: target names cannot be combined with --all, --browser or --temp", errUsage)
		}
		return args, nil
	}

	var names []string
	switch {
	case f.all:
		for _, t := range cfg.TempLocations {
			names = append(names, t.Name)
		}
		for _, b := range cfg.Browsers {
			names = append(names, b.Name)
		}
		if cfg.RecycleBin.Enabled {
			names = append(names, scheduler.RecycleBinTarget)
		}
	case f.temp || f.browser:
		if f.temp {
			for _, t := range cfg.TempLocations {
				if t.Enabled {
					names = append(names, t.Name)
				}
			}
		}
		if f.browser {
			for _, b := range cfg.Browsers {
				if b.Enabled {
					names = append(names, b.Name)
				}
			}
		}
	default:
		return nil, nil
	}
	if len(names) == 0 {
		return nil, scheduler.ErrNoTargets
	}
	return names, nil
}
