package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-embed/boundary"
	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/value"
)

func newCallCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <file.wasm> <export> [args...]",
		Short: "Instantiate a module and call one export",
		Example: `
  # Arguments take the kind of their parameter unless prefixed.
  wasmembed call sum.wasm sum 10

  # Meter the call with a budget of 500 points.
  wasmembed call --metering --gas-limit 500 sum.wasm sum i32:10`[1:],
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Consolidate(gf.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runCall(cmd, conf, args[0], args[1], args[2:])
		},
	}
	cmd.Flags().AddFlagSet(config.FlagSet())
	return cmd
}

func runCall(cmd *cobra.Command, conf config.Config, path, name string, raw []string) error {
	ctx := context.Background()

	bin, m, err := loadModule(path)
	if err != nil {
		return err
	}
	export, err := findExport(describeExports(m), name)
	if err != nil {
		return err
	}
	args, err := parseArgs(export.params, raw)
	if err != nil {
		return err
	}

	engCfg, err := conf.Engine()
	if err != nil {
		return err
	}
	mw, err := conf.Middleware()
	if err != nil {
		return err
	}

	b, err := boundary.New(ctx, engCfg)
	if err != nil {
		return err
	}
	defer b.Close(ctx)
	s := b.NewSession()

	opts := boundary.CompilationOptions{
		GasLimit:           mw.GasLimit,
		UnmeteredLocals:    mw.UnmeteredLocals,
		OpcodeTrace:        mw.OpcodeTrace,
		Metering:           mw.Metering,
		RuntimeBreakpoints: mw.RuntimeBreakpoints,
	}
	var inst boundary.Handle
	if s.InstantiateWithOptions(ctx, bin, &opts, &inst) != boundary.StatusOK {
		return s.LastError()
	}
	defer s.InstanceDestroy(ctx, inst)

	wire := make([]value.Wire, len(args))
	for i, a := range args {
		wire[i] = a.ToWire()
	}
	results := make([]value.Wire, len(export.results))
	status := s.Call(ctx, inst, boundary.Text(name), wire, results)

	out := cmd.OutOrStdout()
	if mw.Metering {
		var used uint64
		if s.InstancePointsUsed(inst, &used) == boundary.StatusOK {
			defer fmt.Fprintf(out, "points used: %d of %d\n", used, mw.GasLimit)
		}
	}
	if status != boundary.StatusOK {
		return s.LastError()
	}

	vals := make([]string, len(results))
	for i, w := range results {
		v, err := value.FromWire(w)
		if err != nil {
			return err
		}
		vals[i] = v.String()
	}
	fmt.Fprintln(out, strings.Join(vals, " "))
	return nil
}
