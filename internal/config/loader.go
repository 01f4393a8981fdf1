package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"credproxy/pkg/logging"
	"credproxy/pkg/sanitize"
)

// ProvenanceStatic marks services defined by the main configuration when
// no resolvable file path is available. Services loaded from a file carry
// the file's absolute path instead.
const ProvenanceStatic = "static_config"

// Load reads the static configuration from path, applies variable
// substitution, fills in defaults, validates the result, and registers
// every secret value it encountered with the sanitizer. YAML and JSON
// documents are both accepted.
func Load(path string, sanitizer *sanitize.Sanitizer) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file %s: %w", path, err)
	}

	cfg, err := Parse(data, sanitizer)
	if err != nil {
		return nil, err
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s with %d static services",
		path, len(cfg.Services))
	return cfg, nil
}

// Parse decodes a configuration document. Substitution happens on the
// decoded value tree, so substituted file contents cannot corrupt the
// document structure.
func Parse(data []byte, sanitizer *sanitize.Sanitizer) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("configuration is not valid YAML or JSON: %w", err)
	}

	substituted, err := SubstituteVariables(raw)
	if err != nil {
		return nil, fmt.Errorf("substituting configuration variables: %w", err)
	}

	normalized, err := yaml.Marshal(substituted)
	if err != nil {
		return nil, fmt.Errorf("normalizing configuration: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(normalized, &cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	ApplyDynamicDefaults(cfg.DynamicServices)
	for name, spec := range cfg.Services {
		ApplyRoleDefaults(&spec.AssumedRole)
		cfg.Services[name] = spec
	}

	// Environment variable can enable health check logging regardless of
	// the file setting.
	if LogHealthChecksFromEnv() {
		cfg.Server.LogHealthChecks = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if sanitizer != nil {
		// The typed walk covers the known secret fields; the key-pattern
		// sweep additionally catches sensitive values under keys the
		// schema does not model.
		registerConfigSecrets(&cfg, sanitizer)
		if m, ok := substituted.(map[string]any); ok {
			sanitizer.RegisterMap(m)
		}
	}
	return &cfg, nil
}

// registerConfigSecrets registers bearer tokens, source credential
// material, and external IDs so log output never exposes them.
func registerConfigSecrets(cfg *Config, sanitizer *sanitize.Sanitizer) {
	registerSourceCredentialSecrets(cfg.AWSDefaults, sanitizer)
	for _, spec := range cfg.Services {
		RegisterServiceSecrets(spec, sanitizer)
	}
}

// RegisterServiceSecrets registers one service block's secret values,
// bearer token included.
func RegisterServiceSecrets(spec ServiceSpec, sanitizer *sanitize.Sanitizer) {
	sanitizer.Register(spec.AuthToken)
	RegisterServiceCredentialSecrets(spec, sanitizer)
}

// RegisterServiceCredentialSecrets registers a service block's credential
// material, leaving the bearer token alone. The watcher uses this after a
// successful apply: the registry already owns the token's sanitizer
// lifecycle, and a rejected fragment must leave nothing registered.
func RegisterServiceCredentialSecrets(spec ServiceSpec, sanitizer *sanitize.Sanitizer) {
	registerSourceCredentialSecrets(spec.SourceCredentials, sanitizer)
	if spec.AssumedRole.ExternalID != "" {
		sanitizer.Register(spec.AssumedRole.ExternalID)
	}
}

func registerSourceCredentialSecrets(creds *SourceCredentials, sanitizer *sanitize.Sanitizer) {
	if creds == nil || creds.IAMKeys == nil {
		return
	}
	sanitizer.Register(creds.IAMKeys.AccessKeyID)
	sanitizer.Register(creds.IAMKeys.SecretAccessKey)
	sanitizer.Register(creds.IAMKeys.SessionToken)
}

// ResolveProvenance converts a configuration file path to the canonical
// provenance string stored on service definitions.
func ResolveProvenance(path string) string {
	if path == "" {
		return ProvenanceStatic
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
