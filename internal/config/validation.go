package config

import (
	"fmt"
	"regexp"
	"strings"
)

// serviceNamePattern restricts service names to a safe identifier form.
var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidationError represents a validation error with context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error.
func (ve *ValidationErrors) Add(field, message string) {
	*ve = append(*ve, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration after defaults and inheritance have
// been applied. At least one static service or an enabled dynamic watcher
// is required; every static service needs a region and a role ARN.
func (c *Config) Validate() error {
	var errs ValidationErrors

	hasStatic := len(c.Services) > 0
	hasDynamic := c.DynamicServices != nil && c.DynamicServices.Enabled
	if !hasStatic && !hasDynamic {
		errs.Add("services",
			"at least one service must be configured: define static services or enable dynamic_services")
	}

	for name, spec := range c.Services {
		merged := spec.SourceCredentials.Merge(c.AWSDefaults)
		if err := ValidateServiceSpec(name, spec, merged); err != nil {
			if specErrs, ok := err.(ValidationErrors); ok {
				errs = append(errs, specErrs...)
			} else {
				errs.Add(fmt.Sprintf("services.%s", name), err.Error())
			}
		}
	}

	if c.DynamicServices != nil {
		for i, dir := range c.DynamicServices.Directories {
			if dir.Path == "" {
				errs.Add(fmt.Sprintf("dynamic_services.directories[%d].path", i), "path is required")
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateServiceSpec checks one service block against the schema shared
// by static configuration and dynamic fragments. merged is the service's
// source credentials after inheriting process-wide defaults.
func ValidateServiceSpec(name string, spec ServiceSpec, merged SourceCredentials) error {
	var errs ValidationErrors
	prefix := fmt.Sprintf("services.%s", name)

	if !serviceNamePattern.MatchString(name) {
		errs.Add("services", fmt.Sprintf("invalid service name %q", name))
	}
	if spec.AuthToken == "" {
		errs.Add(prefix+".auth_token", "auth_token is required")
	}
	if spec.AssumedRole.RoleArn == "" {
		errs.Add(prefix+".assumed_role.RoleArn", "role ARN is required")
	}
	if merged.Region == "" {
		errs.Add(prefix+".source_credentials.region", "AWS region is required")
	}
	if merged.IAMProfile != nil && merged.IAMKeys != nil {
		errs.Add(prefix+".source_credentials",
			"iam_profile and iam_keys are mutually exclusive")
	}
	if merged.IAMProfile != nil && merged.IAMProfile.ProfileName == "" {
		errs.Add(prefix+".source_credentials.iam_profile.profile_name", "profile_name is required")
	}
	if merged.IAMKeys != nil {
		if merged.IAMKeys.AccessKeyID == "" {
			errs.Add(prefix+".source_credentials.iam_keys.aws_access_key_id", "access key id is required")
		}
		if merged.IAMKeys.SecretAccessKey == "" {
			errs.Add(prefix+".source_credentials.iam_keys.aws_secret_access_key", "secret access key is required")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
