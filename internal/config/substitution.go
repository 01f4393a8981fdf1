package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// maxSubstitutionDepth bounds nested substitutions so circular references
// in configuration values fail instead of looping.
const maxSubstitutionDepth = 10

// variablePattern matches ${fromEnv:NAME} and ${fromFile:/path} with the
// tags and separator taken from the environment settings.
func variablePattern() *regexp.Regexp {
	return regexp.MustCompile(
		fmt.Sprintf(`\$\{(%s|%s)%s([^}]+)\}`,
			regexp.QuoteMeta(FromEnvTag()),
			regexp.QuoteMeta(FromFileTag()),
			regexp.QuoteMeta(TagSeparator())),
	)
}

// SubstituteVariables walks a decoded configuration value and replaces
// every substitution reference with the resolved environment variable or
// file contents. Maps and lists are walked recursively.
func SubstituteVariables(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return substituteString(v, 0)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			substituted, err := SubstituteVariables(val)
			if err != nil {
				return nil, err
			}
			out[key] = substituted
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			substituted, err := SubstituteVariables(item)
			if err != nil {
				return nil, err
			}
			out[i] = substituted
		}
		return out, nil
	default:
		return value, nil
	}
}

func substituteString(value string, depth int) (string, error) {
	if depth >= maxSubstitutionDepth {
		return "", fmt.Errorf(
			"maximum substitution depth (%d) exceeded, check for circular references",
			maxSubstitutionDepth)
	}

	pattern := variablePattern()
	var firstErr error
	result := pattern.ReplaceAllStringFunc(value, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := pattern.FindStringSubmatch(match)
		tag, arg := groups[1], groups[2]

		var resolved string
		var err error
		switch tag {
		case FromEnvTag():
			resolved, err = substituteEnv(arg)
		case FromFileTag():
			resolved, err = substituteFile(arg)
		}
		if err != nil {
			firstErr = err
			return match
		}

		resolved, err = substituteString(resolved, depth+1)
		if err != nil {
			firstErr = err
			return match
		}
		return resolved
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func substituteEnv(name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %q not found", name)
	}
	return value, nil
}

// substituteFile reads a file's contents. A single line with a trailing
// newline loses the newline; multi-line contents are preserved verbatim.
func substituteFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file %q: %w", path, err)
	}
	content := string(data)
	if strings.HasSuffix(content, "\n") {
		trimmed := strings.TrimSuffix(content, "\n")
		if !strings.Contains(trimmed, "\n") {
			return trimmed, nil
		}
	}
	return content, nil
}
