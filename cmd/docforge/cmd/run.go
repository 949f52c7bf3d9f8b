package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/scheduler"
	"github.com/hugo-lorenzo-mato/docforge/internal/service/pipeline"
	"github.com/hugo-lorenzo-mato/docforge/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <phase>",
	Short: "Run one bounded invocation of a phase",
	Long: `Run one invocation of a phase runner: ingestion, planning, rawtext or
finalization. The invocation works on at most one task and returns once
the task's phase output is saved, a checkpoint is written, or the task
fails.

In local scheduler mode a continuation requested by this invocation only
fires while the process is alive; use "docforge serve" or the queue
scheduler to have paused tasks resumed automatically.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: phaseNames(),
	RunE:      runPhase,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Deliver due continuations, then run every phase once",
	Long: `Deliver every due continuation from the durable queue, then run one
invocation of each phase in pipeline order. Suitable for cron.`,
	Args: cobra.NoArgs,
	RunE: runTick,
}

var runJSON bool

func init() {
	rootCmd.AddCommand(runCmd, tickCmd)
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the report as JSON")
	tickCmd.Flags().BoolVar(&runJSON, "json", false, "Print the reports as JSON")
}

func phaseNames() []string {
	phases := core.AllPhases()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return names
}

func runPhase(cmd *cobra.Command, args []string) error {
	phase, err := core.ParsePhase(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.pipeline.Invoke(cmd.Context(), phase)
	if perr := printReports(cmd.OutOrStdout(), []pipeline.Report{rep}); perr != nil {
		return perr
	}
	if a.local != nil && rep.Outcome == pipeline.OutcomePaused {
		a.logger.Warn("continuation dropped when this process exits; run tick or serve to resume",
			"phase", phase, "task_id", rep.TaskID)
	}
	return err
}

func runTick(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.local == nil {
		d := scheduler.NewDispatcher(a.stores.Queue, a.registry, a.logger)
		n, err := d.DrainDue(ctx)
		if err != nil {
			return fmt.Errorf("draining continuations: %w", err)
		}
		if n > 0 {
			a.logger.Info("delivered due continuations", "count", n)
		}
	}

	reports, err := a.pipeline.Tick(ctx)
	if perr := printReports(cmd.OutOrStdout(), reports); perr != nil {
		return perr
	}
	return err
}

func printReports(w io.Writer, reports []pipeline.Report) error {
	if runJSON {
		if len(reports) == 1 {
			return writeJSON(w, reports[0])
		}
		return writeJSON(w, reports)
	}
	for _, rep := range reports {
		line := fmt.Sprintf("%-13s %s", rep.Phase, rep.Outcome)
		if rep.TaskID != "" {
			line += " " + string(rep.TaskID)
		}
		if rep.Resumed {
			line += " " + tui.SubtleStyle.Render("(resumed)")
		}
		if rep.Error != "" {
			line += " " + tui.FailedStyle.Render(rep.Error)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
