// Package registry is the authoritative, concurrency-safe store of
// service definitions and the derived bearer-token index. It is the
// single source of truth for which caller may obtain which credentials.
package registry

import (
	"sync"

	"credproxy/internal/config"
	"credproxy/pkg/logging"
	"credproxy/pkg/sanitize"
)

// Definition identifies one downstream consumer: the role it may assume,
// how the assume-role call authenticates, the bearer token it presents,
// and where the definition came from.
type Definition struct {
	Name string

	// BearerToken authenticates inbound requests. Unique across all
	// registered services.
	BearerToken string

	// SourceCredentials are the service's own source-credential settings.
	// Process-wide defaults are merged in at issue time.
	SourceCredentials config.SourceCredentials

	// RoleSpec carries the assume-role parameters.
	RoleSpec config.AssumedRole

	// Provenance is the absolute path of the configuration source that
	// defined this service, or config.ProvenanceStatic. Only the same
	// source may later update the definition.
	Provenance string
}

// ActiveServicesReporter receives the active service count after every
// successful mutation. The metrics package provides the production
// implementation.
type ActiveServicesReporter interface {
	SetActiveServices(count int)
}

// Registry maps service names to definitions and maintains a token→name
// index for O(1) authentication lookups. One mutex guards both maps so
// readers never observe an index entry pointing at a missing definition.
type Registry struct {
	mu         sync.RWMutex
	services   map[string]Definition
	tokenIndex map[string]string

	sanitizer *sanitize.Sanitizer
	reporter  ActiveServicesReporter
}

// New creates an empty registry. The sanitizer receives every bearer
// token on registration; the reporter receives the active count after
// each mutation. Either may be nil in tests.
func New(sanitizer *sanitize.Sanitizer, reporter ActiveServicesReporter) *Registry {
	return &Registry{
		services:   make(map[string]Definition),
		tokenIndex: make(map[string]string),
		sanitizer:  sanitizer,
		reporter:   reporter,
	}
}

// LookupByToken resolves a bearer token to a service name. Safe to call
// from the request path; it takes only a shared read lock.
func (r *Registry) LookupByToken(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.tokenIndex[token]
	return name, ok
}

// Get returns a copy of a service definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.services[name]
	return def, ok
}

// Add inserts a definition if the name is not taken. Existing definitions
// always win: a later attempt to reuse a name is rejected regardless of
// which source supplied it. A bearer token already registered to another
// service is rejected the same way.
func (r *Registry) Add(name string, def Definition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.services[name]; exists {
		logging.Warn("Registry", "Service %q already defined by %s, ignoring definition from %s",
			name, existing.Provenance, def.Provenance)
		return false
	}
	if holder, exists := r.tokenIndex[def.BearerToken]; exists {
		logging.Warn("Registry", "Bearer token for service %q already registered to %q, rejecting",
			name, holder)
		return false
	}

	def.Name = name
	r.services[name] = def
	r.rebuildTokenIndex()
	if r.sanitizer != nil {
		r.sanitizer.Register(def.BearerToken)
	}
	r.reportActive()

	logging.Info("Registry", "Added service %q from %s, %d services active",
		name, def.Provenance, len(r.services))
	return true
}

// Update replaces an existing definition in place. It succeeds only when
// the stored definition's provenance exactly equals the new one: the
// same file that created a service is the only source allowed to change
// it. Any other outcome leaves the store untouched.
func (r *Registry) Update(name string, def Definition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.services[name]
	if !exists {
		logging.Warn("Registry", "Service %q not found for update", name)
		return false
	}
	if existing.Provenance != def.Provenance {
		logging.Warn("Registry", "Service %q owned by %s, rejecting update from %s",
			name, existing.Provenance, def.Provenance)
		return false
	}
	if holder, taken := r.tokenIndex[def.BearerToken]; taken && holder != name {
		logging.Warn("Registry", "Bearer token in update for %q already registered to %q, rejecting",
			name, holder)
		return false
	}

	def.Name = name
	r.services[name] = def
	r.rebuildTokenIndex()
	if r.sanitizer != nil && existing.BearerToken != def.BearerToken {
		r.sanitizer.Unregister(existing.BearerToken)
		r.sanitizer.Register(def.BearerToken)
	}

	logging.Info("Registry", "Updated service %q from %s", name, def.Provenance)
	return true
}

// Remove deletes a definition if present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.services[name]
	if !exists {
		logging.Warn("Registry", "Service %q not found for removal", name)
		return false
	}

	delete(r.services, name)
	r.rebuildTokenIndex()
	if r.sanitizer != nil {
		r.sanitizer.Unregister(existing.BearerToken)
	}
	r.reportActive()

	logging.Info("Registry", "Removed service %q, %d services active", name, len(r.services))
	return true
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Names returns the registered service names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// rebuildTokenIndex recomputes the token index from the definition map.
// O(len(services)); mutation is rare relative to lookup, so rebuilding
// keeps the index trivially consistent. Callers hold the write lock.
func (r *Registry) rebuildTokenIndex() {
	r.tokenIndex = make(map[string]string, len(r.services))
	for name, def := range r.services {
		r.tokenIndex[def.BearerToken] = name
	}
}

func (r *Registry) reportActive() {
	if r.reporter != nil {
		r.reporter.SetActiveServices(len(r.services))
	}
}
