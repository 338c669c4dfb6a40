package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/flows"
	"github.com/forechoandlook/goflow/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runOptions struct {
	set        []string
	params     []string
	paramsFile string
	batchFile  string
	jsonOutput bool
}

type runResult struct {
	Action  string         `json:"action" yaml:"action"`
	Actions []string       `json:"actions,omitempty" yaml:"actions,omitempty"`
	Shared  map[string]any `json:"shared" yaml:"shared"`
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <script.flow|script.script>",
		Short: "Run a flow script once, or once per parameter set with --batch",
		Example: `  goflow run translate.flow --set prompt="hola mundo"
  goflow run greet.flow --params-file defaults.yaml --param greeting=hi
  goflow run greet.flow --batch people.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlow(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.set, "set", nil, "initial shared value as key=value (repeatable)")
	flags.StringArrayVar(&opts.params, "param", nil, "flow param as key=value (repeatable, overrides --params-file)")
	flags.StringVar(&opts.paramsFile, "params-file", "", "YAML mapping of flow params")
	flags.StringVar(&opts.batchFile, "batch", "", "YAML list of param sets; the flow runs once per set")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON instead of YAML")
	return cmd
}

func runFlow(cmd *cobra.Command, root *rootOptions, opts *runOptions, path string) (err error) {
	initial, err := utils.ParseParamPairs(opts.set)
	if err != nil {
		return fmt.Errorf("--set: %w", err)
	}
	params, err := runParams(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, root)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.Background()))
	}()

	flow, err := a.loadFlow(path)
	if err != nil {
		return err
	}

	shared := goflow.NewShared(initial)
	ctx = goflow.WithParams(ctx, params)

	var result runResult
	if opts.batchFile != "" {
		sets, err := loadParamSets(opts.batchFile)
		if err != nil {
			return err
		}
		batch := flows.NewBatchFlow(flow, func(context.Context, *goflow.Shared) ([]goflow.Params, error) {
			return sets, nil
		}).WithConcurrency(a.cfg.Flow.BatchConcurrency)

		actions, err := batch.RunAll(ctx, shared)
		if err != nil {
			return err
		}
		result.Actions = make([]string, len(actions))
		for i, action := range actions {
			result.Actions[i] = string(action)
		}
	} else {
		action, err := flow.Run(ctx, shared)
		if err != nil {
			return err
		}
		result.Action = string(action)
	}

	result.Shared = shared.Snapshot()
	return writeResult(cmd.OutOrStdout(), result, opts.jsonOutput)
}

// runParams layers --param pairs over --params-file.
func runParams(opts *runOptions) (goflow.Params, error) {
	var fromFile goflow.Params
	if opts.paramsFile != "" {
		data, err := os.ReadFile(opts.paramsFile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", opts.paramsFile, err)
		}
	}
	fromFlags, err := utils.ParseParamPairs(opts.params)
	if err != nil {
		return nil, fmt.Errorf("--param: %w", err)
	}
	return utils.MergeParams(fromFile, fromFlags), nil
}

func loadParamSets(path string) ([]goflow.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sets []goflow.Params
	if err := yaml.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return sets, nil
}

func writeResult(w io.Writer, result runResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(result); err != nil {
		return err
	}
	return enc.Close()
}
