package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func newGraphCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph <script.flow>",
		Short: "Print the nodes and transitions of a flow script as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, a.Close(context.Background()))
			}()

			flow, err := a.loadFlow(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(flow.Graph())
		},
	}
}
