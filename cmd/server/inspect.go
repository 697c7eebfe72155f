package main

import (
	"fmt"
	"runtime"

	"github.com/JonMunkholm/dataserve/internal/inspect"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "inspect files...",
		Short: "Hash database files and count their rows",
		Long: `Compute content hashes and per-table row counts ahead of time.
Pass the result to serve --inspect-file so startup skips hashing large files.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := inspect.Build(cmd.Context(), args, runtime.NumCPU())
			if err != nil {
				return err
			}
			if out == "" {
				return inspect.Encode(cmd.OutOrStdout(), f)
			}
			if err := inspect.Write(out, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d databases to %s\n", len(f), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "inspect-file", "", "write to this file instead of stdout")
	return cmd
}
