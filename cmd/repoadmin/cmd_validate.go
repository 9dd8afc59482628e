package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report catalog entries that no longer point at git working trees",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}

	issues := reg.Validate()
	out := cmd.OutOrStdout()
	if len(issues) == 0 {
		fmt.Fprintln(out, "Catalog is healthy.")
		return nil
	}

	for _, issue := range issues {
		fmt.Fprintf(out, "%s: %s (%s)\n", issue.Name, issue.Detail, issue.Path)
	}
	return fmt.Errorf("%d repository(ies) failed validation", len(issues))
}
