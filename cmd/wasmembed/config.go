package main

import (
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-embed/config"
)

func newConfigCmd(gf *globalFlags) *cobra.Command {
	var schema bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the consolidated configuration",
		Long: `Print the configuration after layering the file, WASMEMBED_* environment
variables and flags. With --schema, print the JSON schema of the file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if schema {
				data, err = config.Schema()
			} else {
				var conf config.Config
				conf, err = config.Consolidate(gf.configPath, cmd.Flags())
				if err == nil {
					data, err = conf.Marshal()
				}
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&schema, "schema", false, "print the JSON schema of the configuration file")
	cmd.Flags().AddFlagSet(config.FlagSet())
	return cmd
}
