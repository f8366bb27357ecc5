package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fyerfyer/doc-ingest/config"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/spf13/cobra"
)

func newScanCmd(load func() (*config.Config, error)) *cobra.Command {
	var only []string
	var force bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, load)
			if err != nil {
				return err
			}
			defer a.Close()

			var report *services.ScanReport
			if len(only) > 0 {
				report, err = a.scanner.ProcessSelected(ctx, models.TriggerCLI, only, force)
			} else {
				report, err = a.scanner.Scan(ctx, models.TriggerCLI)
			}
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d document(s) failed", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "process only these document ids")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess even if the signature is unchanged (with --only)")
	return cmd
}

func printReport(out io.Writer, r *services.ScanReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "scan\t%s\n", r.ID)
	fmt.Fprintf(w, "status\t%s\n", r.Status)
	fmt.Fprintf(w, "duration\t%s\n", r.Duration())
	fmt.Fprintf(w, "new\t%d\n", r.New)
	fmt.Fprintf(w, "modified\t%d\n", r.Modified)
	fmt.Fprintf(w, "deleted\t%d\n", r.Deleted)
	fmt.Fprintf(w, "skipped\t%d\n", r.Skipped)
	fmt.Fprintf(w, "processed\t%d\n", r.Processed)
	fmt.Fprintf(w, "failed\t%d\n", r.Failed)
	fmt.Fprintf(w, "chunks\t%d\n", r.Chunks)
	if r.Error != "" {
		fmt.Fprintf(w, "error\t%s\n", r.Error)
	}
	w.Flush()

	for _, f := range r.Failures {
		fmt.Fprintf(out, "  %s [%s]: %s\n", f.DocID, f.Stage, f.Error)
	}
}
