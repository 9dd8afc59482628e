package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/repomux/internal/access"
)

var listFlags struct {
	user string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listFlags.user, "user", "", "Only show repositories this user can read")
}

func runList(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}

	repos := reg.List(listFlags.user)
	out := cmd.OutOrStdout()
	if len(repos) == 0 {
		fmt.Fprintln(out, "No repositories registered.")
		return nil
	}

	def := reg.DefaultName()
	for _, repo := range repos {
		mark := " "
		if repo.Name == def {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-20s %s\n", mark, repo.Name, repo.Path)
		if repo.Description != "" {
			fmt.Fprintf(out, "    %s\n", repo.Description)
		}
		if repo.RemoteURL != "" {
			fmt.Fprintf(out, "    remote: %s\n", repo.RemoteURL)
		}
		if len(repo.AccessControl) > 0 {
			fmt.Fprintf(out, "    access: %s\n", formatACL(repo.AccessControl))
		}
	}
	fmt.Fprintln(out, "\n* default repository")
	return nil
}

func formatACL(acl access.ControlList) string {
	users := make([]string, 0, len(acl))
	for user := range acl {
		users = append(users, user)
	}
	sort.Strings(users)

	parts := make([]string, 0, len(users))
	for _, user := range users {
		perms := make([]string, 0, len(acl[user]))
		for _, p := range acl[user] {
			perms = append(perms, string(p))
		}
		parts = append(parts, fmt.Sprintf("%s=%s", user, strings.Join(perms, ",")))
	}
	return strings.Join(parts, " ")
}
