package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "goflow",
		Short:        "goflow runs node graphs described in the flow DSL",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (GOFLOW_* env vars override it)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	cmd.AddCommand(
		newRunCmd(opts),
		newGraphCmd(opts),
		newNodesCmd(),
		newServeCmd(opts),
	)
	return cmd
}
