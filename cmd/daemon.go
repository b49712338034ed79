package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/lego-rl/waxlog/internal/config"
	"github.com/lego-rl/waxlog/internal/daemon"
	"github.com/lego-rl/waxlog/internal/ingest"
	"github.com/lego-rl/waxlog/pkg/lastfm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	daemonLogFile  string
	daemonLogLevel string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scrobble mirror daemon",
	Long: `Run the daemon that mirrors Last.fm listening history for every
tracked account into the local database.

The daemon will:
- Sync every tracked account on a fixed interval (default 60s)
- Resume each account from its last stored scrobble, never re-fetching
  history that is already mirrored
- Skip accounts whose remote service is unreachable without affecting
  the others
- Handle graceful shutdown on SIGINT/SIGTERM, finishing the in-flight
  batch before stopping

The daemon runs in the foreground and logs to stderr by default.
Use the --log-file flag to log to a file.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	// Command-line flags
	daemonCmd.Flags().StringVar(&daemonLogFile, "log-file", "", "Log file path (default: stderr)")
	daemonCmd.Flags().StringVar(&daemonLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate Last.fm credentials
	if cfg.LastFM.APIKey == "" {
		return fmt.Errorf("Last.fm API key not configured. Set lastfm.api_key in %s/config.yaml", config.GetConfigDir())
	}

	// Set up logging
	logger := setupLogger(daemonLogFile, daemonLogLevel)

	logger.Info().
		Str("version", version).
		Msg("Starting waxlog daemon")

	// Open the scrobble store
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}()

	// Create Last.fm client
	client, err := lastfm.NewClient(lastfm.Config{
		APIKey:    cfg.LastFM.APIKey,
		RateLimit: cfg.RateLimit,
		Logger:    zerologDebugf{logger},
	})
	if err != nil {
		return fmt.Errorf("failed to create Last.fm client: %w", err)
	}

	// Create sync engine
	engine := ingest.NewEngine(st, &ingest.LastFMSource{Client: client}, 0, logger)

	// Create daemon
	daemonCfg := daemon.Config{
		SyncInterval:   time.Duration(cfg.SyncInterval) * time.Second,
		AccountTimeout: time.Duration(cfg.AccountTimeout) * time.Second,
	}
	d := daemon.New(daemonCfg, st, engine, logger)

	// Run daemon (blocks until shutdown signal)
	if err := d.Run(); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

// zerologDebugf adapts zerolog to the lastfm.Logger interface.
type zerologDebugf struct {
	logger zerolog.Logger
}

func (z zerologDebugf) Debugf(format string, args ...interface{}) {
	z.logger.Debug().Msgf(format, args...)
}

// setupLogger creates a logger with the specified configuration
func setupLogger(logFile, logLevel string) zerolog.Logger {
	// Parse log level
	level := zerolog.InfoLevel
	switch logLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	// Set up output
	var output *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			output = os.Stderr
		} else {
			output = f
		}
	} else {
		output = os.Stderr
	}

	// Create logger
	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	// Use pretty console output if logging to stderr
	if output == os.Stderr {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger
}
