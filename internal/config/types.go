package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for credproxy.
type Config struct {
	Server          ServerConfig           `yaml:"server"`
	Credentials     CredentialsConfig      `yaml:"credentials"`
	AWSDefaults     *SourceCredentials     `yaml:"aws_defaults"`
	Services        map[string]ServiceSpec `yaml:"services"`
	DynamicServices *DynamicServices       `yaml:"dynamic_services"`
	Metrics         MetricsConfig          `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Debug           bool   `yaml:"debug"`
	LogHealthChecks bool   `yaml:"log_health_checks"`
}

// CredentialsConfig holds credential management settings.
//
// RefreshBufferSeconds and RetryDelay are accepted for compatibility with
// existing deployments; the cache itself serves entries strictly until
// their expiry instant and never applies a buffer.
type CredentialsConfig struct {
	RefreshBufferSeconds int `yaml:"refresh_buffer_seconds"`
	RetryDelay           int `yaml:"retry_delay"`
	RequestTimeout       int `yaml:"request_timeout"`
}

// RequestTimeoutDuration returns the issuer call timeout.
func (c CredentialsConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// IAMProfile selects a named profile for the assume-role call itself.
type IAMProfile struct {
	ProfileName string `yaml:"profile_name"`
	ConfigFile  string `yaml:"config_file"`
}

// IAMKeys holds a static key pair for the assume-role call itself.
type IAMKeys struct {
	AccessKeyID     string `yaml:"aws_access_key_id"`
	SecretAccessKey string `yaml:"aws_secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// SourceCredentials selects how the assume-role call authenticates:
// a region plus at most one of a named profile or a static key pair.
// When neither is set the SDK's ambient default resolution applies.
type SourceCredentials struct {
	Region     string      `yaml:"region"`
	IAMProfile *IAMProfile `yaml:"iam_profile"`
	IAMKeys    *IAMKeys    `yaml:"iam_keys"`
}

// Merge combines process-wide defaults with service-level overrides,
// field by field. Service-level values win.
func (s *SourceCredentials) Merge(defaults *SourceCredentials) SourceCredentials {
	merged := SourceCredentials{}
	if defaults != nil {
		merged = *defaults
	}
	if s == nil {
		return merged
	}
	if s.Region != "" {
		merged.Region = s.Region
	}
	if s.IAMProfile != nil {
		merged.IAMProfile = s.IAMProfile
		merged.IAMKeys = nil
	}
	if s.IAMKeys != nil {
		merged.IAMKeys = s.IAMKeys
		if s.IAMProfile == nil {
			merged.IAMProfile = nil
		}
	}
	return merged
}

// PolicyArn references a managed policy constraining the assumed session.
type PolicyArn struct {
	Arn string `yaml:"arn"`
}

// SessionTag is a session tag passed through to the assume-role call.
type SessionTag struct {
	Key   string `yaml:"Key"`
	Value string `yaml:"Value"`
}

// AssumedRole carries every parameter of the assume-role call. Field
// names match the wire-level parameter names, as in the configuration
// file format.
type AssumedRole struct {
	RoleArn           string       `yaml:"RoleArn"`
	RoleSessionName   string       `yaml:"RoleSessionName"`
	DurationSeconds   int32        `yaml:"DurationSeconds"`
	ExternalID        string       `yaml:"ExternalId"`
	PolicyArns        []PolicyArn  `yaml:"PolicyArns"`
	Policy            string       `yaml:"Policy"`
	Tags              []SessionTag `yaml:"Tags"`
	TransitiveTagKeys []string     `yaml:"TransitiveTagKeys"`
	SerialNumber      string       `yaml:"SerialNumber"`
	TokenCode         string       `yaml:"TokenCode"`
	SourceIdentity    string       `yaml:"SourceIdentity"`
}

// ServiceSpec is the per-service block shared by the static configuration
// and dynamic fragment files.
type ServiceSpec struct {
	AuthToken         string             `yaml:"auth_token"`
	SourceCredentials *SourceCredentials `yaml:"source_credentials"`
	AssumedRole       AssumedRole        `yaml:"assumed_role"`
}

// DirectoryConfig describes one monitored directory with its include and
// exclude regex patterns. In configuration files it may be given either
// as a plain path string or as a mapping.
type DirectoryConfig struct {
	Path            string   `yaml:"path"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`

	// scalar records that the entry came from the legacy string form,
	// which inherits patterns from the dynamic_services block.
	scalar bool
}

// UnmarshalYAML accepts both the legacy scalar form ("/credproxy/dynamic")
// and the mapping form with per-directory patterns.
func (d *DirectoryConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		d.Path = node.Value
		d.scalar = true
		return nil
	}

	type plain DirectoryConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("decoding directory entry: %w", err)
	}
	*d = DirectoryConfig(p)
	return nil
}

// DynamicServices configures the dynamic configuration watcher.
// IncludePatterns and ExcludePatterns apply to directories given in the
// legacy string form; mapping-form directories carry their own.
type DynamicServices struct {
	Enabled            bool              `yaml:"enabled"`
	Directories        []DirectoryConfig `yaml:"directories"`
	IncludePatterns    []string          `yaml:"include_patterns"`
	ExcludePatterns    []string          `yaml:"exclude_patterns"`
	ReloadInterval     int               `yaml:"reload_interval"`
	WatcherStopTimeout int               `yaml:"watcher_stop_timeout"`
}

// ReloadIntervalDuration returns the debounce window.
func (d *DynamicServices) ReloadIntervalDuration() time.Duration {
	return time.Duration(d.ReloadInterval) * time.Second
}

// StopTimeoutDuration bounds how long shutdown waits for the watcher.
func (d *DynamicServices) StopTimeoutDuration() time.Duration {
	return time.Duration(d.WatcherStopTimeout) * time.Second
}

// PrometheusConfig configures the metrics listener.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig groups telemetry settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
}
