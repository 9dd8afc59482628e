package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/repomux/internal/registry"
)

var unregisterFlags struct {
	force bool
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister <name>",
	Short: "Remove a repository from the catalog",
	Long:  "Removes the catalog entry only; the working tree on disk is never\ntouched. Repositories with uncommitted changes are refused unless --force.",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnregister,
}

func init() {
	unregisterCmd.Flags().BoolVar(&unregisterFlags.force, "force", false, "Skip the uncommitted-changes safety check")
}

func runUnregister(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}

	err = reg.Unregister(args[0], registry.UnregisterOptions{
		Force:  unregisterFlags.force,
		Strict: true,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s\n", args[0])
	return nil
}
