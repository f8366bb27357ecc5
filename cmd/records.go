package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fyerfyer/doc-ingest/config"
	"github.com/spf13/cobra"
)

func newRecordsCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect or edit the processing record",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List processed documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.scanner.Record(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHUNKS\tPROCESSED\tSIGNATURE")
			for _, e := range rec.List() {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.ID, e.ChunkCount, e.ProcessedAt.Format(time.RFC3339), e.Signature)
			}
			fmt.Fprintf(w, "\n%d documents, %d chunks\n", rec.Len(), rec.TotalChunks())
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forget <id>...",
		Short: "Delete the chunks and record entry of documents, keeping the source files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.scanner.Forget(cmd.Context(), id); err != nil {
					return fmt.Errorf("forget %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", id)
			}
			return nil
		},
	})
	return cmd
}
