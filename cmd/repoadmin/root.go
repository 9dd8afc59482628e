// repoadmin administers the repository catalog from the command line:
// registration, access grants, defaults, discovery and bulk import. It
// operates on the same catalog file the server reads, so admin changes
// land atomically without going through the HTTP API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/repomux/internal/gitops"
	"github.com/p-blackswan/repomux/internal/registry"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	catalog string
	verbose bool
}

var rootCmd = &cobra.Command{
	Use:   "repoadmin",
	Short: "Administer the repomux repository catalog",
	Long:  "repoadmin manages the repository catalog used by the repomux routing\nengine: registration, access control, defaults, discovery and bulk import.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	defaultCatalog := os.Getenv("REPOMUX_CATALOG_PATH")
	if defaultCatalog == "" {
		defaultCatalog = "config/repositories.json"
	}
	rootCmd.PersistentFlags().StringVar(&rootFlags.catalog, "catalog", defaultCatalog, "Path to the catalog file")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Log registry operations")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(defaultCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.Version = version
}

// openRegistry loads the catalog with a real git prober so remote
// detection and dirty checks work.
func openRegistry() (*registry.Registry, error) {
	logger := zerolog.Nop()
	if rootFlags.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	engine := gitops.New("sms", 30*time.Second, logger)
	return registry.New(rootFlags.catalog, logger,
		registry.WithGitProbe(gitops.Probe{Engine: engine}),
		registry.WithHandleInvalidator(engine.Invalidate))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
