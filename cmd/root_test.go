package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", rootCmd.Version)
}

func TestResolveLogLevel(t *testing.T) {
	t.Setenv("CREDPROXY_LOG_LEVEL", "info")

	serveDev = false
	serveLogLevel = ""
	assert.Equal(t, "info", resolveLogLevel())

	serveLogLevel = "error"
	assert.Equal(t, "error", resolveLogLevel())

	serveDev = true
	assert.Equal(t, "debug", resolveLogLevel())

	serveDev = false
	serveLogLevel = ""
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CREDPROXY_CONFIG_FILE", "/etc/credproxy/config.yaml")

	serveConfigPath = ""
	assert.Equal(t, "/etc/credproxy/config.yaml", resolveConfigPath())

	serveConfigPath = "/tmp/other.yaml"
	assert.Equal(t, "/tmp/other.yaml", resolveConfigPath())
	serveConfigPath = ""
}
