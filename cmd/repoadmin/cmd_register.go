package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/repomux/internal/registry"
)

var registerFlags struct {
	remote      string
	description string
	grantee     string
	makeDefault bool
}

var registerCmd = &cobra.Command{
	Use:   "register <name> <path>",
	Short: "Register a git working tree under a name",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

func init() {
	f := registerCmd.Flags()
	f.StringVar(&registerFlags.remote, "remote", "", "Remote URL (detected from origin when omitted)")
	f.StringVar(&registerFlags.description, "description", "", "Human-readable description")
	f.StringVar(&registerFlags.grantee, "grantee", "", "User granted admin on the new repository")
	f.BoolVar(&registerFlags.makeDefault, "default", false, "Make this the default repository")
}

func runRegister(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}

	repo, err := reg.Register(name, abs, registry.RegisterOptions{
		RemoteURL:   registerFlags.remote,
		Description: registerFlags.description,
		Grantee:     registerFlags.grantee,
	})
	if err != nil {
		return err
	}

	if registerFlags.makeDefault {
		if err := reg.SetDefault(name); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Registered %s at %s\n", repo.Name, repo.Path)
	if repo.RemoteURL != "" {
		fmt.Fprintf(out, "Remote:  %s\n", repo.RemoteURL)
	}
	if reg.DefaultName() == name {
		fmt.Fprintf(out, "Default: yes\n")
	}
	return nil
}
