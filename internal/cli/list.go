package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jwulff/memo/internal/daemon"
	"github.com/jwulff/memo/internal/db"
)

func newListCommand(opts *globalOptions) *cobra.Command {
	var (
		unsynced bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded chunks",
		Long:  `List recorded chunks newest first, or with --unsynced the chunks still waiting to be synced, oldest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			configureLogging(cfg, cmd.ErrOrStderr(), "memo")

			store, err := db.OpenReadOnly(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open recordings database: %w", err)
			}
			defer store.Close()

			list := store.All
			if unsynced {
				list = store.Unsynced
			}
			segs, err := list(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(daemon.ToRecordings(segs))
			}
			return printRecordings(out, segs)
		},
	}

	cmd.Flags().BoolVar(&unsynced, "unsynced", false, "Only list chunks not yet synced")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printRecordings(w io.Writer, segs []db.Segment) error {
	if len(segs) == 0 {
		_, err := fmt.Fprintln(w, "No recordings.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSYNCED\tFILE")
	for _, seg := range segs {
		synced := "no"
		if seg.Synced {
			synced = "yes"
		}
		secs := seg.DurationMillis() / 1000
		fmt.Fprintf(tw, "%d\t%s\t%02d:%02d\t%s\t%s\n",
			seg.ID,
			seg.StartedAt.Local().Format("2006-01-02 15:04:05"),
			secs/60, secs%60,
			synced,
			filepath.Base(seg.FilePath),
		)
	}
	return tw.Flush()
}
