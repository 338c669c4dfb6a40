package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/forechoandlook/goflow/nodes"
	"github.com/spf13/cobra"
)

func newNodesCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the built-in node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, def := range nodes.RegisteredNodes() {
				fmt.Fprintf(w, "%s\t%s\n", def.ID, def.Description)
				if !verbose {
					continue
				}
				if def.DSL != "" {
					fmt.Fprintf(w, "\t  dsl: %s\n", def.DSL)
				}
				if def.Example != "" {
					fmt.Fprintf(w, "\t  go:  %s\n", def.Example)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include DSL syntax and a Go usage example per node")
	return cmd
}
