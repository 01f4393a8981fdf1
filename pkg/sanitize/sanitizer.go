// Package sanitize tracks secret values so the logging layer can redact
// them before anything reaches an output stream.
//
// A single Sanitizer is constructed at process start and handed to every
// component that creates or destroys secret material (registry, cache,
// watcher, config loader). Components register values when they learn
// them and unregister them when the owning entry is evicted or removed.
package sanitize

import (
	"regexp"
	"strings"
	"sync"
)

// minSecretLength is the shortest value worth tracking. Anything shorter
// would cause redaction of common substrings.
const minSecretLength = 4

// sensitiveKeyPatterns match map keys whose values are treated as secrets
// when registering a whole configuration block.
var sensitiveKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)auth`),
	regexp.MustCompile(`(?i)_key$`),
	regexp.MustCompile(`(?i)external_?id`),
	regexp.MustCompile(`(?i)credentials?`),
	regexp.MustCompile(`(?i)access_?key`),
}

// Sanitizer is a concurrency-safe registry of sensitive string values.
type Sanitizer struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

// New creates an empty Sanitizer.
func New() *Sanitizer {
	return &Sanitizer{
		values: make(map[string]struct{}),
	}
}

// Register adds a sensitive value for redaction. Values shorter than four
// characters are ignored.
func (s *Sanitizer) Register(value string) {
	if len(value) < minSecretLength {
		return
	}
	s.mu.Lock()
	s.values[value] = struct{}{}
	s.mu.Unlock()
}

// Unregister stops tracking a value. Unknown values are a no-op.
func (s *Sanitizer) Unregister(value string) {
	if value == "" {
		return
	}
	s.mu.Lock()
	delete(s.values, value)
	s.mu.Unlock()
}

// RegisterMap walks a decoded configuration map and registers every string
// value whose key looks sensitive. Nested maps and lists are walked
// recursively.
func (s *Sanitizer) RegisterMap(data map[string]any) {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if isSensitiveKey(key) {
				s.Register(v)
			}
		case map[string]any:
			s.RegisterMap(v)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					s.RegisterMap(m)
				}
			}
		}
	}
}

// Redact replaces every registered value occurring in text with a masked
// form that keeps the first four characters.
func (s *Sanitizer) Redact(text string) string {
	if text == "" {
		return text
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	redacted := text
	for value := range s.values {
		if strings.Contains(redacted, value) {
			redacted = strings.ReplaceAll(redacted, value, Mask(value))
		}
	}
	return redacted
}

// Len returns the number of tracked values.
func (s *Sanitizer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Clear drops all tracked values.
func (s *Sanitizer) Clear() {
	s.mu.Lock()
	s.values = make(map[string]struct{})
	s.mu.Unlock()
}

// Mask returns the redacted representation of a secret: the first four
// characters followed by "****", or "****" alone for short values.
func Mask(value string) string {
	if len(value) <= minSecretLength {
		return "****"
	}
	return value[:minSecretLength] + "****"
}

func isSensitiveKey(key string) bool {
	for _, pattern := range sensitiveKeyPatterns {
		if pattern.MatchString(key) {
			return true
		}
	}
	return false
}
