package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var defaultCmd = &cobra.Command{
	Use:   "default [name]",
	Short: "Show or set the default repository",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDefault,
}

func runDefault(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		name := reg.DefaultName()
		if name == "" {
			fmt.Fprintln(out, "No default repository configured.")
		} else {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	if err := reg.SetDefault(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "Default repository set to %s\n", args[0])
	return nil
}
