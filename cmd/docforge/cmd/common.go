package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/docstore"
	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/ingest"
	"github.com/hugo-lorenzo-mato/docforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/docforge/internal/config"
	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/docforge/internal/logging"
	"github.com/hugo-lorenzo-mato/docforge/internal/scheduler"
	"github.com/hugo-lorenzo-mato/docforge/internal/service/pipeline"
)

// loadConfig loads and validates the configuration, honoring --config and
// the flags bound to the global viper instance.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// app bundles everything a command needs to drive the pipeline.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	stores   *state.Stores
	lock     *state.FileLock
	docs     *docstore.Store
	source   *ingest.DirSource
	monitor  *diagnostics.ResourceMonitor
	crashes  *diagnostics.CrashDumpWriter
	gen      *cli.Generator
	registry *scheduler.Registry
	// local is set in local scheduler mode; queue mode uses stores.Queue.
	local    *scheduler.Local
	pipeline *pipeline.Pipeline

	logCloser io.Closer
}

// openApp wires the configured adapters into a pipeline. ctx bounds
// continuations fired by the local scheduler.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openAppWith(ctx, cfg, os.Stderr)
}

func openAppWith(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger, logCloser, err := logging.Open(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: logOut,
	})
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}

	a.stores, err = state.Open(state.Options{
		Backend: cfg.State.Backend,
		Path:    cfg.State.Path,
		Dir:     cfg.State.Dir,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening state: %w", err)
	}

	a.lock = state.NewFileLock(cfg.State.LockPath, cfg.State.LockTTL)
	a.docs = docstore.NewStore(cfg.Documents.Dir)
	a.source = ingest.NewDirSource(cfg.Ingestion.InboxDir)
	a.monitor = diagnostics.NewResourceMonitor(cfg.Diagnostics.MonitorInterval, 0, logger.Logger)
	a.crashes = diagnostics.NewCrashDumpWriter(cfg.Diagnostics.CrashDumpDir, cfg.Diagnostics.MaxCrashDumps, logger.Logger, a.monitor)

	var genOpts []cli.GeneratorOption
	if cfg.Generation.Preflight {
		genOpts = append(genOpts, cli.WithPreflight(diagnostics.NewPreflight(
			cfg.Diagnostics.MinFreeMemoryMB, cfg.Diagnostics.MinFreeDiskMB, cfg.Documents.Dir)))
	}
	a.gen, err = cli.NewGenerator(cli.AgentConfig{
		Agent:   cfg.Generation.Agent,
		Path:    cfg.Generation.Path,
		Model:   cfg.Generation.Model,
		Timeout: cfg.Generation.Timeout,
	}, a.docs, logger, genOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	a.registry = scheduler.NewRegistry()
	if cfg.Scheduler.Mode == core.SchedulerModeLocal || a.stores.Queue == nil {
		a.local = scheduler.NewLocal(ctx, a.registry, logger)
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Ledger:      a.stores.Ledger,
		Checkpoints: a.stores.Checkpoints,
		Lock:        a.lock,
		Scheduler:   a.scheduler(),
		Generator:   a.gen,
		Documents:   a.docs,
		Source:      a.source,
		Extractor:   ingest.NewTextExtractor(),
		CrashDumps:  a.crashes,
		Logger:      logger,
	}, pipeline.ConfigFrom(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline.Register(a.registry)
	return a, nil
}

// scheduler returns the continuation scheduler in use.
func (a *app) scheduler() core.Scheduler {
	if a.local != nil {
		return a.local
	}
	return a.stores.Queue
}

// Close stops pending local continuations and releases the stores.
func (a *app) Close() {
	if a.local != nil {
		a.local.Stop()
	}
	if a.stores != nil {
		if err := a.stores.Close(); err != nil {
			a.logger.Warn("closing state failed", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// resolveTaskID maps user input to a task id: an exact id, a unique id
// prefix, or a unique fuzzy match.
func resolveTaskID(ctx context.Context, ledger core.TaskLedger, input string) (core.TaskID, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("task id is required")
	}
	tasks, err := ledger.Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("scanning ledger: %w", err)
	}

	ids := make([]string, len(tasks))
	var prefixed []string
	for i, t := range tasks {
		ids[i] = string(t.ID)
		if ids[i] == input {
			return t.ID, nil
		}
		if strings.HasPrefix(ids[i], input) {
			prefixed = append(prefixed, ids[i])
		}
	}
	if len(prefixed) == 1 {
		return core.TaskID(prefixed[0]), nil
	}
	if len(prefixed) > 1 {
		return "", ambiguous(input, prefixed)
	}

	matches := fuzzy.Find(input, ids)
	switch len(matches) {
	case 0:
		return "", core.ErrNotFound("task", input)
	case 1:
		return core.TaskID(matches[0].Str), nil
	default:
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, m.Str)
		}
		return "", ambiguous(input, candidates)
	}
}

func ambiguous(input string, candidates []string) error {
	if len(candidates) > 5 {
		candidates = append(candidates[:5:5], "...")
	}
	return core.ErrValidation("AMBIGUOUS_TASK_ID",
		fmt.Sprintf("%q matches several tasks: %s", input, strings.Join(candidates, ", ")))
}
