package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fyerfyer/doc-ingest/config"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/spf13/cobra"
)

func newCheckCmd(load func() (*config.Config, error)) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connections to the source, embedding service and vector store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := loadApp(ctx, load)
			if err != nil {
				return err
			}
			defer a.Close()

			conns := a.dashboard(nil).Connections(ctx)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range conns {
				state := "ok"
				if !c.OK {
					state = "FAIL " + c.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Latency, state)
			}
			w.Flush()

			if !services.Healthy(conns) {
				return fmt.Errorf("connection check failed")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout for the checks")
	return cmd
}
