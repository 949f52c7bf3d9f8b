package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/ingest"
	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/scheduler"
	"github.com/hugo-lorenzo-mato/docforge/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve phase invocations over HTTP and resume paused work",
	Long: `Start the HTTP server exposing phase invocation and the task ledger.

While serving, docforge also delivers continuations (from memory in local
mode, from the state database in queue mode), runs every phase each
scheduler.tick_interval, and starts ingestion as soon as items land in the
inbox.

Endpoints:
  GET  /health
  POST /api/v1/phases/{phase}/invoke
  GET  /api/v1/tasks
  POST /api/v1/tasks
  GET  /api/v1/tasks/{id}
  POST /api/v1/tasks/{id}/cancel
  POST /api/v1/tasks/{id}/retry`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	serveNoCORS  bool
	serveNoWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch the inbox")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sc := a.cfg.Server
	if serveHost != "" {
		sc.Host = serveHost
	}
	if servePort != 0 {
		sc.Port = servePort
	}
	if serveNoCORS {
		sc.EnableCORS = false
	}
	srv := web.New(web.ConfigFrom(sc, a.cfg.Pipeline, a.cfg.State.LockTimeout), a.pipeline, a.stores.Ledger, a.logger.Logger)

	g, ctx := errgroup.WithContext(ctx)

	a.logger.Info("resuming paused work", "scheduler", schedulerMode(a), "tick_interval", a.cfg.Scheduler.TickInterval)
	g.Go(func() error {
		return srv.Serve(ctx)
	})

	g.Go(func() error {
		a.monitor.Run(ctx)
		return nil
	})

	if a.local == nil {
		d := scheduler.NewDispatcher(a.stores.Queue, a.registry, a.logger,
			scheduler.WithPollInterval(a.cfg.Scheduler.PollInterval))
		g.Go(func() error {
			return d.Run(ctx)
		})
	}

	if interval := a.cfg.Scheduler.TickInterval; interval > 0 {
		g.Go(func() error {
			tickEvery(ctx, a, interval)
			return nil
		})
	}

	if !serveNoWatch {
		sched := a.scheduler()
		w := ingest.NewInboxWatcher(a.cfg.Ingestion.InboxDir, 0, a.logger.Logger)
		g.Go(func() error {
			return w.Run(ctx, func() {
				if err := sched.ScheduleOnce(ctx, string(core.PhaseIngestion), 0); err != nil {
					a.logger.Warn("scheduling ingestion failed", "error", err)
				}
			})
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// tickEvery runs every phase once per interval until ctx is done.
func tickEvery(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		reports, err := a.pipeline.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("tick finished with errors", "error", err)
		}
		for _, rep := range reports {
			if rep.TaskID != "" {
				a.logger.Debug("tick", "phase", rep.Phase, "task_id", rep.TaskID, "outcome", rep.Outcome)
			}
		}
	}
}

func schedulerMode(a *app) string {
	if a.local != nil {
		return core.SchedulerModeLocal
	}
	return core.SchedulerModeQueue
}
