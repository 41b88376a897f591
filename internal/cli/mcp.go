package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jwulff/memo/internal/db"
	"github.com/jwulff/memo/internal/mcpserver"
)

func newMCPCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve recording sync tools over MCP stdio",
		Long: `Serve MCP tools on stdin/stdout so a sync collaborator can list chunks,
fetch their metadata and mark them synced with a transcript. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			configureLogging(cfg, cmd.ErrOrStderr(), "memo-mcp")

			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			store, err := db.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			return mcpserver.ServeStdio(mcpserver.New(store, opts.version))
		},
	}
}
