package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when credproxy is called without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "credproxy",
	Short: "Vend short-lived AWS credentials to co-located services",
	Long: `credproxy is a credential-vending sidecar. Services present a bearer
token over local HTTP and receive short-lived AWS credentials obtained
via STS assume-role, so no long-lived AWS keys ever reach the services
themselves.

Service definitions come from a static configuration file and, when
enabled, from dynamic fragment files in watched directories that can be
added, changed, and removed at runtime.`,
	// Handled errors print their own message; the usage text would only
	// bury it.
	SilenceUsage: true,
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "credproxy version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
