package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/docforge/internal/config"
	"github.com/hugo-lorenzo-mato/docforge/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/docforge/internal/tui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, generator, state and host resources",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// checkReport collects doctor results.
type checkReport struct {
	w        io.Writer
	problems int
}

func (r *checkReport) ok(name, detail string) {
	fmt.Fprintf(r.w, "%s %s %s\n", tui.CompletedStyle.Render("✓"), tui.LabelStyle.Render(name), detail)
}

func (r *checkReport) warn(name, detail string) {
	fmt.Fprintf(r.w, "%s %s %s\n", tui.PausedStyle.Render("!"), tui.LabelStyle.Render(name), detail)
}

func (r *checkReport) fail(name, detail string) {
	r.problems++
	fmt.Fprintf(r.w, "%s %s %s\n", tui.FailedStyle.Render("✗"), tui.LabelStyle.Render(name), detail)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	r := &checkReport{w: cmd.OutOrStdout()}

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		r.fail("config", err.Error())
		return fmt.Errorf("doctor found %d problem(s)", r.problems)
	}
	checkConfig(r, cfg)
	checkGenerator(cmd.Context(), r, cfg)
	checkState(cmd.Context(), r, cfg)
	checkHost(r, cfg)
	checkCrashDumps(r, cfg)

	if r.problems > 0 {
		return fmt.Errorf("doctor found %d problem(s)", r.problems)
	}
	return nil
}

func checkConfig(r *checkReport, cfg *config.Config) {
	err := config.ValidateConfig(cfg)
	var verrs config.ValidationErrors
	switch {
	case err == nil:
		source := "defaults"
		if used := viper.ConfigFileUsed(); used != "" {
			source = used
		}
		r.ok("config", source)
	case errors.As(err, &verrs):
		for _, e := range verrs {
			r.fail("config", e.Error())
		}
	default:
		r.fail("config", err.Error())
	}
}

func checkGenerator(ctx context.Context, r *checkReport, cfg *config.Config) {
	gen, err := cli.NewGenerator(cli.AgentConfig{
		Agent: cfg.Generation.Agent,
		Path:  cfg.Generation.Path,
		Model: cfg.Generation.Model,
	}, nil, nil)
	if err != nil {
		r.fail("generator", err.Error())
		return
	}
	if err := gen.CheckAvailability(ctx); err != nil {
		r.fail("generator", fmt.Sprintf("%s: %v", gen.Config().Path, err))
		return
	}

	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	version, err := gen.GetVersion(vctx)
	if err != nil {
		r.warn("generator", fmt.Sprintf("%s found, version unknown: %v", gen.Config().Path, err))
		return
	}
	r.ok("generator", fmt.Sprintf("%s %s", gen.Config().Path, version))
}

func checkState(ctx context.Context, r *checkReport, cfg *config.Config) {
	stores, err := state.Open(state.Options{
		Backend: cfg.State.Backend,
		Path:    cfg.State.Path,
		Dir:     cfg.State.Dir,
	})
	if err != nil {
		r.fail("state", err.Error())
		return
	}
	defer func() { _ = stores.Close() }()

	tasks, err := stores.Ledger.Scan(ctx)
	if err != nil {
		r.fail("state", fmt.Sprintf("scanning ledger: %v", err))
		return
	}
	r.ok("state", fmt.Sprintf("%s backend, %d task(s)", cfg.State.Backend, len(tasks)))

	pid, lastSeen, held := state.NewFileLock(cfg.State.LockPath, cfg.State.LockTTL).Holder()
	switch {
	case !held:
		r.ok("lock", "free")
	case time.Since(lastSeen) > cfg.State.LockTTL:
		r.warn("lock", fmt.Sprintf("stale, pid %d last seen %s", pid, lastSeen.Format(time.RFC3339)))
	default:
		r.ok("lock", fmt.Sprintf("held by pid %d, last heartbeat %s ago", pid, tui.FormatAge(time.Since(lastSeen))))
	}
}

func checkHost(r *checkReport, cfg *config.Config) {
	m := diagnostics.NewSystemCollector(cfg.Documents.Dir).Collect()
	detail := fmt.Sprintf("%s, %d cores, %.0f%% cpu, load %.2f", m.CPUModel, m.CPUCores, m.CPUPercent, m.LoadAvg1)
	if len(m.GPUs) > 0 {
		detail += ", gpu " + strings.Join(m.GPUs, ", ")
	}
	r.ok("host", detail)

	res := diagnostics.NewPreflight(cfg.Diagnostics.MinFreeMemoryMB, cfg.Diagnostics.MinFreeDiskMB, cfg.Documents.Dir).Run()
	resources := fmt.Sprintf("%.0f MB memory free, %.0f MB disk free", res.FreeMemoryMB, res.FreeDiskMB)
	for _, e := range res.Errors {
		r.fail("resources", e)
	}
	for _, w := range res.Warnings {
		r.warn("resources", w)
	}
	if res.OK && len(res.Warnings) == 0 {
		r.ok("resources", resources)
	}
}

func checkCrashDumps(r *checkReport, cfg *config.Config) {
	dump, err := diagnostics.LoadLatestCrashDump(cfg.Diagnostics.CrashDumpDir)
	if err != nil {
		r.ok("crashes", "none recorded")
		return
	}
	detail := fmt.Sprintf("last at %s: %s", dump.Timestamp.Format(time.RFC3339), firstLine(dump.PanicValue))
	if dump.Phase != "" {
		detail += fmt.Sprintf(" (%s, task %s)", dump.Phase, dump.TaskID)
	}
	r.warn("crashes", detail)
}

// firstLine keeps the first line of a panic value.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
