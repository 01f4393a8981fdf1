package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"credproxy/internal/app"
	"credproxy/internal/config"
	"credproxy/pkg/logging"
	"credproxy/pkg/sanitize"
)

var (
	serveConfigPath string
	serveLogLevel   string
	serveDev        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the credential-vending server",
	Long: `Starts the credproxy server: loads the static configuration, begins
watching dynamic service directories when enabled, and serves the
credential-vending API until interrupted.

The configuration file path is taken from --config, falling back to the
CREDPROXY_CONFIG_FILE environment variable and then the built-in
default. The log level is taken from --log-level, falling back to
CREDPROXY_LOG_LEVEL.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "",
		"path to the configuration file")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "",
		"log level (debug, info, warning, error)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false,
		"development mode: debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.ParseLevel(resolveLogLevel())
	logging.Init(level, os.Stderr)

	configPath := resolveConfigPath()

	sanitizer := sanitize.New()
	cfg, err := config.Load(configPath, sanitizer)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// The file can also ask for debug logging; the explicit flag and dev
	// mode still win because they were applied above.
	if cfg.Server.Debug && serveLogLevel == "" && !serveDev {
		logging.Init(logging.LevelDebug, os.Stderr)
	}

	application, err := app.New(cfg, sanitizer, config.ResolveProvenance(configPath), rootCmd.Version)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

func resolveConfigPath() string {
	if serveConfigPath != "" {
		return serveConfigPath
	}
	return config.ConfigFileFromEnv()
}

func resolveLogLevel() string {
	if serveDev {
		return "debug"
	}
	if serveLogLevel != "" {
		return serveLogLevel
	}
	return config.LogLevelFromEnv()
}
