package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"credproxy/pkg/logging"
)

// ParseFragment decodes one dynamic configuration fragment. A fragment
// must be a mapping with a top-level services key holding at least one
// service block. Only the first service entry, in document order, is
// honored; extra entries are logged and discarded. The block goes through
// the same variable substitution and role defaults as static
// configuration.
func ParseFragment(data []byte) (string, ServiceSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", ServiceSpec{}, fmt.Errorf("fragment is not valid YAML or JSON: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return "", ServiceSpec{}, fmt.Errorf("fragment must be a mapping with a top-level services key")
	}

	root := doc.Content[0]
	var services *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "services" {
			services = root.Content[i+1]
			break
		}
	}
	if services == nil {
		return "", ServiceSpec{}, fmt.Errorf("fragment has no top-level services key")
	}
	if services.Kind != yaml.MappingNode || len(services.Content) < 2 {
		return "", ServiceSpec{}, fmt.Errorf("services must be a mapping with at least one service")
	}
	if len(services.Content) > 2 {
		logging.Warn("ConfigLoader", "Fragment defines %d services, only the first is honored",
			len(services.Content)/2)
	}

	name := services.Content[0].Value

	var raw map[string]any
	if err := services.Content[1].Decode(&raw); err != nil {
		return "", ServiceSpec{}, fmt.Errorf("decoding service %q: %w", name, err)
	}
	substituted, err := SubstituteVariables(raw)
	if err != nil {
		return "", ServiceSpec{}, fmt.Errorf("substituting variables for service %q: %w", name, err)
	}
	normalized, err := yaml.Marshal(substituted)
	if err != nil {
		return "", ServiceSpec{}, fmt.Errorf("normalizing service %q: %w", name, err)
	}

	var spec ServiceSpec
	if err := yaml.Unmarshal(normalized, &spec); err != nil {
		return "", ServiceSpec{}, fmt.Errorf("decoding service %q: %w", name, err)
	}
	ApplyRoleDefaults(&spec.AssumedRole)
	return name, spec, nil
}
