package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/repomux/internal/access"
	rerrors "github.com/p-blackswan/repomux/internal/errors"
	"github.com/p-blackswan/repomux/internal/registry"
)

// importFile is the YAML shape of a bulk import manifest.
type importFile struct {
	Default      string       `yaml:"default"`
	Repositories []importRepo `yaml:"repositories"`
}

type importRepo struct {
	Name        string              `yaml:"name"`
	Path        string              `yaml:"path"`
	Remote      string              `yaml:"remote"`
	Description string              `yaml:"description"`
	Access      map[string][]string `yaml:"access"`
}

var importFlags struct {
	skipExisting bool
}

var importCmd = &cobra.Command{
	Use:   "import <manifest.yaml>",
	Short: "Bulk-register repositories from a YAML manifest",
	Long:  "Registers every repository in the manifest, applies its access grants\nand sets the default. Already-registered names abort the import unless\n--skip-existing.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importFlags.skipExisting, "skip-existing", false, "Skip names that are already registered")
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest importFile
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	for _, entry := range manifest.Repositories {
		_, err := reg.Register(entry.Name, entry.Path, registry.RegisterOptions{
			RemoteURL:   entry.Remote,
			Description: entry.Description,
		})
		if errors.Is(err, rerrors.ErrDuplicateName) && importFlags.skipExisting {
			fmt.Fprintf(out, "skipped %s: already registered\n", entry.Name)
		} else if err != nil {
			return fmt.Errorf("import %s: %w", entry.Name, err)
		} else {
			fmt.Fprintf(out, "registered %s\n", entry.Name)
		}

		for user, raw := range entry.Access {
			perms := make([]access.Permission, 0, len(raw))
			for _, p := range raw {
				perms = append(perms, access.Permission(p))
			}
			if err := reg.Grant(entry.Name, user, perms...); err != nil {
				return fmt.Errorf("import %s: %w", entry.Name, err)
			}
		}
	}

	if manifest.Default != "" {
		if err := reg.SetDefault(manifest.Default); err != nil {
			return err
		}
		fmt.Fprintf(out, "default set to %s\n", manifest.Default)
	}
	return nil
}
