package commands

import (
	"fmt"

	"github.com/opencode-ai/claudia/internal/checkpoint"
	"github.com/opencode-ai/claudia/internal/config"
	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/history"
	"github.com/opencode-ai/claudia/internal/launcher"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/process"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

// app holds the services shared by the commands.
type app struct {
	workDir     string
	config      *types.Config
	bus         *event.Bus
	processes   *process.Registry
	launcher    *launcher.Launcher
	records     *session.Records
	checkpoints *checkpoint.Service
	history     *history.Loader
}

// newApp loads the configuration for workDir and wires the services.
func newApp(workDir string) (*app, error) {
	// Initialize paths
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if appConfig.LogLevel != "" && !logLevelFlagSet() {
		logging.SetLevel(logging.ParseLevel(appConfig.LogLevel))
	}

	bus := event.NewBus()
	processes := process.NewRegistry(0)
	l, err := launcher.FromConfig(appConfig, bus, processes)
	if err != nil {
		bus.Close()
		return nil, err
	}

	store := storage.New(paths.StoragePath())
	a := &app{
		workDir:   workDir,
		config:    appConfig,
		bus:       bus,
		processes: processes,
		launcher:  l,
		records:   session.NewRecords(store),
		checkpoints: checkpoint.NewService(store, checkpoint.Options{
			Defaults:    appConfig.DefaultCheckpointPolicy(),
			Transcripts: storage.New(config.ClaudeProjectsPath()),
			Bus:         bus,
		}),
		history: history.NewLoader(config.ClaudeProjectsPath()),
	}

	logging.Debug().
		Str("workDir", workDir).
		Str("storage", paths.StoragePath()).
		Str("projects", a.history.Root()).
		Msg("app initialized")
	return a, nil
}

// sessionOptions is the controller template for this app.
func (a *app) sessionOptions() session.Options {
	return session.Options{
		ProjectPath:   a.workDir,
		Launcher:      a.launcher,
		Transport:     a.bus,
		Checkpoints:   a.checkpoints,
		Records:       a.records,
		Notify:        a.bus,
		DefaultModel:  a.config.DefaultModelOrFallback(),
		MaxQueueDepth: a.config.QueueMaxDepth(),
		ReleaseDelay:  a.config.QueueReleaseDelay(),
	}
}

// close releases the bus.
func (a *app) close() {
	if err := a.bus.Close(); err != nil {
		logging.Warn().Err(err).Msg("close event bus")
	}
}
