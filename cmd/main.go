package main

import (
	"fmt"
	"os"

	"github.com/fyerfyer/doc-ingest/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd 创建根命令，--config 对全部子命令生效
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "docingest",
		Short:         "Keep a vector index in sync with a document source",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newScanCmd(load),
		newCheckCmd(load),
		newRecordsCmd(load),
	)
	return root
}
