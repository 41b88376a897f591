// Package cli defines the memo command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwulff/memo/internal/config"
	xlog "github.com/jwulff/memo/internal/log"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	envFile    string
	verbose    bool
	version    string
}

// NewRootCommand builds the memo command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &globalOptions{version: version}

	root := &cobra.Command{
		Use:   "memo",
		Short: "Continuous voice recorder that saves audio in 30 second chunks",
		Long: `memo records audio continuously, rotating to a new file every 30 seconds
so that a crash loses at most one chunk. Finished chunks are catalogued in
SQLite and can be played back, listed, or synced by an external collaborator.

Quick Start:
  memo daemon              # Run the recording daemon
  memo tui                 # Control recording and playback
  memo list --unsynced     # Show chunks waiting to be synced
  memo mcp                 # Serve sync tools over MCP stdio`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Path to .env file (default ./.env)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newDaemonCommand(opts),
		newTUICommand(opts),
		newListCommand(opts),
		newMCPCommand(opts),
	)
	return root
}

// Execute runs the command tree and exits non-zero on error.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load resolves the configuration, applying --verbose.
func (o *globalOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func configureLogging(cfg config.Config, w io.Writer, service string) {
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Output: w, Service: service})
}
