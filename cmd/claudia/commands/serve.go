package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/internal/config"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/server"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/pkg/types"
)

var (
	servePort    int
	serveDir     string
	serveNoCORS  bool
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the claudia API server",
	Long: `Start claudia as a server that exposes session controllers, stored
sessions, checkpoints and agent transcripts over HTTP, with live events on
GET /event (Server-Sent Events).

The port and CORS default to the "server" config keys.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 8787)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Default project directory")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS headers")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the config when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Determine working directory
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	a, err := newApp(workDir)
	if err != nil {
		return err
	}
	defer a.close()

	logging.Info().Str("version", Version).Str("directory", workDir).Msg("starting claudia server")

	// Configure server
	serverConfig := server.DefaultConfig()
	serverConfig.Port = a.config.ServerPort()
	if servePort > 0 {
		serverConfig.Port = servePort
	}
	serverConfig.Directory = workDir
	serverConfig.EnableCORS = a.config.CORSEnabled() && !serveNoCORS

	sessions := session.NewManager(a.sessionOptions(), a.history)
	srv := server.New(serverConfig, server.Deps{
		AppConfig:   a.config,
		Bus:         a.bus,
		Sessions:    sessions,
		Records:     a.records,
		Checkpoints: a.checkpoints,
		History:     a.history,
		Processes:   a.processes,
	})

	if !serveNoWatch {
		watcher, err := config.NewWatcher(workDir, onConfigReload)
		if err != nil {
			logging.Warn().Err(err).Msg("config watcher unavailable")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}

// onConfigReload applies the settings that can change without a restart.
// Session defaults apply to controllers opened after a restart.
func onConfigReload(cfg *types.Config) {
	if cfg.LogLevel != "" && !logLevelFlagSet() {
		logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}
	logging.Info().
		Str("model", cfg.DefaultModelOrFallback()).
		Str("logLevel", cfg.LogLevel).
		Msg("configuration reloaded")
}
