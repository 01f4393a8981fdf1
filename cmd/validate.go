package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"credproxy/internal/config"
	"credproxy/pkg/logging"
	"credproxy/pkg/sanitize"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file without starting the server",
	Long: `Loads the configuration file, applies variable substitution and
defaults, and runs the full schema validation. Exits non-zero when the
configuration would be rejected at startup.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigPath, "config", "c", "",
		"path to the configuration file")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	logging.Init(logging.LevelError, os.Stderr)

	path := validateConfigPath
	if path == "" {
		path = config.ConfigFileFromEnv()
	}

	cfg, err := config.Load(path, sanitize.New())
	if err != nil {
		return err
	}

	dynamic := 0
	if cfg.DynamicServices != nil && cfg.DynamicServices.Enabled {
		dynamic = len(cfg.DynamicServices.Directories)
	}
	fmt.Printf("%s is valid: %d static services, %d watched directories\n",
		path, len(cfg.Services), dynamic)
	return nil
}
