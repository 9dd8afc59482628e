package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/repomux/internal/access"
)

var grantCmd = &cobra.Command{
	Use:   "grant <repo> <user> <permission>...",
	Short: "Replace a user's grant set on a repository",
	Long:  "Permissions are read, write and admin. Admin implies write, write\nimplies read; granting admin alone is enough for everything.",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runGrant,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <repo> <user>",
	Short: "Remove all of a user's grants on a repository",
	Args:  cobra.ExactArgs(2),
	RunE:  runRevoke,
}

func runGrant(cmd *cobra.Command, args []string) error {
	repo, user := args[0], args[1]
	perms := make([]access.Permission, 0, len(args)-2)
	for _, raw := range args[2:] {
		perms = append(perms, access.Permission(raw))
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	if err := reg.Grant(repo, user, perms...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Granted %v to %s on %s\n", perms, user, repo)
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	if err := reg.Revoke(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked all grants for %s on %s\n", args[1], args[0])
	return nil
}
