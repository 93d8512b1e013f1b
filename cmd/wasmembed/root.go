package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/boundary"
	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/runtime"
)

type globalFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}
	root := &cobra.Command{
		Use:           "wasmembed",
		Short:         "Embed and run WebAssembly modules",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(gf.verbose)
		},
	}
	root.PersistentFlags().StringVarP(&gf.configPath, "config", "c", "", "YAML configuration `file`")
	root.PersistentFlags().BoolVarP(&gf.verbose, "verbose", "v", false, "log lifecycle events to stderr")

	root.AddCommand(
		newExportsCmd(),
		newCallCmd(gf),
		newInspectCmd(gf),
		newConfigCmd(gf),
	)
	return root
}

func setupLogging(verbose bool) error {
	logger := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
	}
	engine.SetLogger(logger.Named("engine"))
	linker.SetLogger(logger.Named("linker"))
	runtime.SetLogger(logger.Named("runtime"))
	boundary.SetLogger(logger.Named("boundary"))
	return nil
}
