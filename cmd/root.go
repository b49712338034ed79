package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lego-rl/waxlog/internal/store"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "waxlog",
	Short: "Last.fm listening history mirror",
	Long: `waxlog incrementally mirrors the Last.fm listening history of a set
of tracked accounts into a local SQLite database.

It runs as a daemon that syncs every tracked account on a fixed
interval, resuming correctly after partial failures and never storing
the same play twice.

It also provides CLI commands to manage tracked accounts and query the
mirrored data (recent plays, top tracks/artists/albums).`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var dbPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Scrobble database path (default: ~/.local/share/waxlog/scrobbles.db)")
}

// resolveDBPath returns the database path from the --db flag or the
// default data directory, creating the directory if needed.
func resolveDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	dataDir := filepath.Join(homeDir, ".local", "share", "waxlog")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return filepath.Join(dataDir, "scrobbles.db"), nil
}

// openStore opens the scrobble store at the resolved database path.
func openStore() (*store.Store, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, err
	}

	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return st, nil
}
