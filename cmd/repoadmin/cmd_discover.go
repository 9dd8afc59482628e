package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/repomux/internal/registry"
)

var discoverFlags struct {
	maxDepth int
	register bool
	grantee  string
}

var discoverCmd = &cobra.Command{
	Use:   "discover <root>",
	Short: "Scan a directory tree for unregistered git working trees",
	Long:  "Walks the tree up to --max-depth levels and prints working trees the\ncatalog does not know yet. With --register, each one is registered\nunder its directory name.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

func init() {
	f := discoverCmd.Flags()
	f.IntVar(&discoverFlags.maxDepth, "max-depth", 2, "Maximum directory depth to scan")
	f.BoolVar(&discoverFlags.register, "register", false, "Register every discovered working tree")
	f.StringVar(&discoverFlags.grantee, "grantee", "", "User granted admin on each registered repository")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}

	found, err := reg.Discover(root, discoverFlags.maxDepth)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintln(out, "No unregistered working trees found.")
		return nil
	}

	for _, path := range found {
		if !discoverFlags.register {
			fmt.Fprintln(out, path)
			continue
		}
		name := filepath.Base(path)
		if _, err := reg.Register(name, path, registry.RegisterOptions{Grantee: discoverFlags.grantee}); err != nil {
			fmt.Fprintf(out, "skipped %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "registered %s as %s\n", path, name)
	}
	return nil
}
