package config

const (
	// DefaultConfigFile is where the sidecar looks for its static
	// configuration when nothing else is specified.
	DefaultConfigFile = "/credproxy/config.yaml"

	// DefaultDynamicDirectory is the fallback watch directory when
	// dynamic services are enabled without an explicit directory list.
	DefaultDynamicDirectory = "/credproxy/dynamic"

	// DefaultRoleSessionName is used when a service omits
	// RoleSessionName from its assumed_role block.
	DefaultRoleSessionName = "credproxy"

	// DefaultRoleDurationSeconds is the assume-role session duration
	// when a service omits DurationSeconds.
	DefaultRoleDurationSeconds = 900
)

// DefaultConfig returns the configuration the loader starts from before
// applying the file's contents.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 1338,
		},
		Credentials: CredentialsConfig{
			RefreshBufferSeconds: 300,
			RetryDelay:           60,
			RequestTimeout:       30,
		},
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{
				Enabled: true,
				Host:    "0.0.0.0",
				Port:    9090,
			},
		},
	}
}

// ApplyDynamicDefaults fills in the defaults for a dynamic_services block
// after unmarshalling.
func ApplyDynamicDefaults(d *DynamicServices) {
	if d == nil {
		return
	}
	if len(d.Directories) == 0 {
		d.Directories = []DirectoryConfig{{Path: DefaultDynamicDirectory}}
	}
	for i := range d.Directories {
		dir := &d.Directories[i]
		if dir.scalar {
			dir.IncludePatterns = d.IncludePatterns
			dir.ExcludePatterns = d.ExcludePatterns
		}
	}
	if d.ReloadInterval <= 0 {
		d.ReloadInterval = 5
	}
	if d.WatcherStopTimeout <= 0 {
		d.WatcherStopTimeout = 5
	}
}

// ApplyRoleDefaults fills in per-service assume-role defaults.
func ApplyRoleDefaults(role *AssumedRole) {
	if role.RoleSessionName == "" {
		role.RoleSessionName = DefaultRoleSessionName
	}
	if role.DurationSeconds <= 0 {
		role.DurationSeconds = DefaultRoleDurationSeconds
	}
}
