package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exports <file.wasm>",
		Short: "List the exports of a module in declaration order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, imp := range m.Imports {
				fmt.Fprintf(out, "import %s.%s\n", imp.Module, imp.Name)
			}
			for _, e := range describeExports(m) {
				fmt.Fprintln(out, e.signature())
			}
			return nil
		},
	}
}
