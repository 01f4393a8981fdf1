package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment variable handling. All variables live under a configurable
// namespace (default "CREDPROXY_") so several instances can coexist on
// one host with distinct settings.

// Namespace returns the environment variable prefix.
func Namespace() string {
	if ns := os.Getenv("CREDPROXY_NAMESPACE"); ns != "" {
		return ns
	}
	return "CREDPROXY_"
}

// ConfigFileFromEnv returns the configuration file path, honoring the
// <namespace>CONFIG_FILE override. The result is always absolute.
func ConfigFileFromEnv() string {
	path := os.Getenv(Namespace() + "CONFIG_FILE")
	if path == "" {
		path = DefaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// FromEnvTag returns the substitution tag for environment variables.
func FromEnvTag() string {
	if tag := os.Getenv(Namespace() + "FROM_ENV_TAG"); tag != "" {
		return tag
	}
	return "fromEnv"
}

// FromFileTag returns the substitution tag for file contents.
func FromFileTag() string {
	if tag := os.Getenv(Namespace() + "FROM_FILE_TAG"); tag != "" {
		return tag
	}
	return "fromFile"
}

// TagSeparator returns the separator between tag and argument.
func TagSeparator() string {
	if sep := os.Getenv(Namespace() + "TAG_SEPARATOR"); sep != "" {
		return sep
	}
	return ":"
}

// LogLevelFromEnv returns the configured log level name, defaulting to
// "warning" so routine traffic stays out of the logs.
func LogLevelFromEnv() string {
	level := strings.ToLower(strings.TrimSpace(os.Getenv(Namespace() + "LOG_LEVEL")))
	switch level {
	case "debug", "info", "warning", "error", "critical":
		return level
	default:
		return "warning"
	}
}

// LogHealthChecksFromEnv reports whether health check requests should be
// logged. The config file setting can also enable this.
func LogHealthChecksFromEnv() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(Namespace() + "LOG_HEALTH_CHECKS")))
	switch raw {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
