package cmd

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nengine/build-tools/pkg/compdb"
)

var mergeCompileCommandsCmd = &cobra.Command{
	Use:   "merge-compile-commands <output file> <input files...>",
	Short: "Merges several compile_commands.json files. Assumes that only absolute paths are used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.Errorf("Expected at least 2 arguments but got %d!", len(args))
		}

		count, err := compdb.Merge(args[0], args[1:]...)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", count, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCompileCommandsCmd)
}
