package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() ServiceSpec {
	return ServiceSpec{
		AuthToken: "some-token",
		SourceCredentials: &SourceCredentials{
			Region: "eu-west-1",
		},
		AssumedRole: AssumedRole{
			RoleArn: "arn:aws:iam::123456789012:role/test",
		},
	}
}

func TestValidateServiceSpec(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServiceSpec)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(s *ServiceSpec) {},
		},
		{
			name:    "missing token",
			mutate:  func(s *ServiceSpec) { s.AuthToken = "" },
			wantErr: "auth_token",
		},
		{
			name:    "missing role arn",
			mutate:  func(s *ServiceSpec) { s.AssumedRole.RoleArn = "" },
			wantErr: "role ARN",
		},
		{
			name:    "missing region",
			mutate:  func(s *ServiceSpec) { s.SourceCredentials.Region = "" },
			wantErr: "region",
		},
		{
			name: "keys without secret",
			mutate: func(s *ServiceSpec) {
				s.SourceCredentials.IAMKeys = &IAMKeys{AccessKeyID: "AKIA"}
			},
			wantErr: "secret access key",
		},
		{
			name: "profile without name",
			mutate: func(s *ServiceSpec) {
				s.SourceCredentials.IAMProfile = &IAMProfile{}
			},
			wantErr: "profile_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			merged := spec.SourceCredentials.Merge(nil)
			err := ValidateServiceSpec("svc1", spec, merged)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateServiceNamePattern(t *testing.T) {
	spec := validSpec()
	merged := spec.SourceCredentials.Merge(nil)

	assert.NoError(t, ValidateServiceSpec("svc-1.prod_a", spec, merged))
	assert.Error(t, ValidateServiceSpec("-leading-dash", spec, merged))
	assert.Error(t, ValidateServiceSpec("has space", spec, merged))
	assert.Error(t, ValidateServiceSpec("", spec, merged))
}

func TestMergeSourceCredentials(t *testing.T) {
	defaults := &SourceCredentials{
		Region:     "eu-west-1",
		IAMProfile: &IAMProfile{ProfileName: "default-profile"},
	}

	t.Run("nil service inherits defaults", func(t *testing.T) {
		var svc *SourceCredentials
		merged := svc.Merge(defaults)
		assert.Equal(t, "eu-west-1", merged.Region)
		require.NotNil(t, merged.IAMProfile)
		assert.Equal(t, "default-profile", merged.IAMProfile.ProfileName)
	})

	t.Run("service region wins", func(t *testing.T) {
		svc := &SourceCredentials{Region: "us-east-1"}
		merged := svc.Merge(defaults)
		assert.Equal(t, "us-east-1", merged.Region)
	})

	t.Run("service keys replace default profile", func(t *testing.T) {
		svc := &SourceCredentials{
			IAMKeys: &IAMKeys{AccessKeyID: "AKIA", SecretAccessKey: "secret"},
		}
		merged := svc.Merge(defaults)
		assert.Nil(t, merged.IAMProfile)
		require.NotNil(t, merged.IAMKeys)
		assert.Equal(t, "AKIA", merged.IAMKeys.AccessKeyID)
	})

	t.Run("no defaults", func(t *testing.T) {
		svc := &SourceCredentials{Region: "us-east-1"}
		merged := svc.Merge(nil)
		assert.Equal(t, "us-east-1", merged.Region)
		assert.Nil(t, merged.IAMProfile)
		assert.Nil(t, merged.IAMKeys)
	})
}

func TestValidateConfigRequiresServicesOrDynamic(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.DynamicServices = &DynamicServices{Enabled: true}
	ApplyDynamicDefaults(cfg.DynamicServices)
	assert.NoError(t, cfg.Validate())
}
