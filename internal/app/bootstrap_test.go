package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credproxy/internal/api"
	"credproxy/internal/config"
	"credproxy/pkg/sanitize"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Metrics.Prometheus.Enabled = false
	cfg.Services = map[string]config.ServiceSpec{
		"svc1": {
			AuthToken:         "static-token-1234",
			SourceCredentials: &config.SourceCredentials{Region: "us-east-1"},
			AssumedRole:       config.AssumedRole{RoleArn: "arn:aws:iam::123456789012:role/svc1"},
		},
	}
	return &cfg
}

func TestNewRegistersStaticServices(t *testing.T) {
	application, err := New(testConfig(), sanitize.New(), config.ProvenanceStatic, "test")
	require.NoError(t, err)

	def, ok := application.registry.Get("svc1")
	require.True(t, ok)
	assert.Equal(t, "static-token-1234", def.BearerToken)
	assert.Equal(t, config.ProvenanceStatic, def.Provenance)
	assert.Equal(t, "us-east-1", def.SourceCredentials.Region)

	assert.Nil(t, application.watcher)
	assert.Nil(t, application.metricsServer)
}

func TestNewRejectsDuplicateToken(t *testing.T) {
	cfg := testConfig()
	cfg.Services["svc2"] = config.ServiceSpec{
		AuthToken:         "static-token-1234",
		SourceCredentials: &config.SourceCredentials{Region: "us-east-1"},
		AssumedRole:       config.AssumedRole{RoleArn: "arn:aws:iam::123456789012:role/svc2"},
	}

	_, err := New(cfg, sanitize.New(), config.ProvenanceStatic, "test")
	require.Error(t, err)
	assert.True(t, api.IsConflict(err))
}

func TestNewEnablesWatcherWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicServices = &config.DynamicServices{
		Enabled:     true,
		Directories: []config.DirectoryConfig{{Path: t.TempDir()}},
	}
	config.ApplyDynamicDefaults(cfg.DynamicServices)

	application, err := New(cfg, sanitize.New(), config.ProvenanceStatic, "test")
	require.NoError(t, err)
	assert.NotNil(t, application.watcher)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	application, err := New(cfg, sanitize.New(), config.ProvenanceStatic, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- application.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
