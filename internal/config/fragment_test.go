package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFragment(t *testing.T) {
	data := []byte(`
services:
  svc1:
    auth_token: fragment-token-1234
    source_credentials:
      region: us-west-2
    assumed_role:
      RoleArn: arn:aws:iam::123456789012:role/svc1
`)

	name, spec, err := ParseFragment(data)
	require.NoError(t, err)
	assert.Equal(t, "svc1", name)
	assert.Equal(t, "fragment-token-1234", spec.AuthToken)
	require.NotNil(t, spec.SourceCredentials)
	assert.Equal(t, "us-west-2", spec.SourceCredentials.Region)
	assert.Equal(t, "arn:aws:iam::123456789012:role/svc1", spec.AssumedRole.RoleArn)
	assert.Equal(t, DefaultRoleSessionName, spec.AssumedRole.RoleSessionName)
	assert.Equal(t, int32(DefaultRoleDurationSeconds), spec.AssumedRole.DurationSeconds)
}

func TestParseFragmentHonorsFirstEntryOnly(t *testing.T) {
	data := []byte(`
services:
  alpha:
    auth_token: alpha-token-1234
    assumed_role:
      RoleArn: arn:aws:iam::123456789012:role/alpha
  beta:
    auth_token: beta-token-1234
    assumed_role:
      RoleArn: arn:aws:iam::123456789012:role/beta
`)

	name, spec, err := ParseFragment(data)
	require.NoError(t, err)
	assert.Equal(t, "alpha", name)
	assert.Equal(t, "alpha-token-1234", spec.AuthToken)
}

func TestParseFragmentSubstitutesVariables(t *testing.T) {
	t.Setenv("CREDPROXY_FRAGMENT_TOKEN", "env-token-5678")

	data := []byte(`
services:
  svc1:
    auth_token: ${fromEnv:CREDPROXY_FRAGMENT_TOKEN}
    assumed_role:
      RoleArn: arn:aws:iam::123456789012:role/svc1
`)

	_, spec, err := ParseFragment(data)
	require.NoError(t, err)
	assert.Equal(t, "env-token-5678", spec.AuthToken)
}

func TestParseFragmentRejectedShapes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "{{nope"},
		{"scalar document", "just a string"},
		{"list document", "- a\n- b"},
		{"missing services key", "status: ok"},
		{"services not a mapping", "services: [svc1]"},
		{"empty services", "services: {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseFragment([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseFragmentAcceptsJSON(t *testing.T) {
	data := []byte(`{"services": {"svc1": {"auth_token": "json-token-1234", "assumed_role": {"RoleArn": "arn:aws:iam::123456789012:role/svc1"}}}}`)

	name, spec, err := ParseFragment(data)
	require.NoError(t, err)
	assert.Equal(t, "svc1", name)
	assert.Equal(t, "json-token-1234", spec.AuthToken)
}
