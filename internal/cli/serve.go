package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"system-toolbox/internal/metrics"
	"system-toolbox/internal/scheduler"
	"system-toolbox/internal/web"
	"system-toolbox/internal/web/api"
)

const (
	healthInterval = 30 * time.Second
	healthTimeout  = 5 * time.Second
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and the cleaning schedule",
		Long: `Serve the authenticated control API and Prometheus metrics. When
interval_minutes is set, targets are also cleaned on that schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.load()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics.Init()
			hc := metrics.NewHealthChecker(healthInterval)
			if e.history != nil {
				hc.RegisterComponent("database", e.history.Ping, healthTimeout)
			}
			hc.Start()
			metrics.SetHealthChecker(hc)
			if e.cfg.Prometheus.Port > 0 {
				metrics.StartServer(e.cfg.PrometheusAddress(), e.logger)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), web.ShutdownTimeout)
				defer cancel()
				metrics.Shutdown(shutdownCtx, e.logger)
			}()

			session := scheduler.Options{
				Logger:     e.logger,
				History:    e.historyStore(),
				Bin:        a.bin,
				Terminator: a.terminator,
			}
			srv, err := web.New(ctx, e.cfg, web.Options{
				Logger:  e.logger,
				History: apiHistory(e),
				Session: session,
			})
			if err != nil {
				return err
			}

			if e.cfg.Interval() > 0 {
				e.logger.Info("scheduled cleaning enabled", "interval", e.cfg.Interval())
				go func() {
					err := scheduler.Run(ctx, e.cfg, session)
					if err != nil && !errors.Is(err, context.Canceled) {
						e.logger.Error("scheduler stopped", "error", err)
					}
				}()
			}

			return srv.ListenAndServe(ctx)
		},
	}
}

func apiHistory(e *env) api.History {
	if e.history == nil {
		return nil
	}
	return e.history
}
