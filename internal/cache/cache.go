// Package cache holds the most recently issued credential set per service
// so a request does not trigger an assume-role call while a valid set
// exists. Validity is checked on every read; a background reaper evicts
// expired entries and releases their secret material.
package cache

import (
	"context"
	"sync"
	"time"

	"credproxy/internal/api"
	"credproxy/internal/config"
	"credproxy/internal/issuer"
	"credproxy/internal/registry"
	"credproxy/pkg/logging"
	"credproxy/pkg/sanitize"
)

// DefaultReapInterval is how often the reaper sweeps for expired entries.
// The sweep is hygiene only; GetCredentials re-checks expiry on every read.
const DefaultReapInterval = time.Minute

// Options configures optional cache behavior.
type Options struct {
	// Defaults are the process-wide source credentials merged under
	// each service's own settings before the issuer call.
	Defaults *config.SourceCredentials

	// RequestTimeout bounds each issuer call. Zero means no timeout.
	RequestTimeout time.Duration

	// ReapInterval overrides DefaultReapInterval.
	ReapInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache caches issued credentials keyed by service name.
//
// Concurrent misses for the same service may each call the issuer; the
// later write wins. Assume-role calls are idempotent, so this is cheaper
// than the locking needed for single-flight de-duplication.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]issuer.Credentials

	registry  *registry.Registry
	issuer    issuer.Client
	sanitizer *sanitize.Sanitizer

	defaults       *config.SourceCredentials
	requestTimeout time.Duration
	reapInterval   time.Duration
	now            func() time.Time

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// New creates a cache. Start must be called to run the reaper; the cache
// serves requests without it.
func New(reg *registry.Registry, client issuer.Client, sanitizer *sanitize.Sanitizer, opts Options) *Cache {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		entries:        make(map[string]issuer.Credentials),
		registry:       reg,
		issuer:         client,
		sanitizer:      sanitizer,
		defaults:       opts.Defaults,
		requestTimeout: opts.RequestTimeout,
		reapInterval:   opts.ReapInterval,
		now:            opts.Now,
	}
}

// GetCredentials returns a valid credential set for the named service,
// reusing the cached set while it has not expired. On a miss or an
// expired entry it resolves the service definition, calls the issuer
// outside any lock, and stores the result keyed by the issuer's exact
// expiry. Issuer failures are propagated and never cached.
func (c *Cache) GetCredentials(ctx context.Context, serviceName string) (issuer.Credentials, error) {
	c.mu.RLock()
	if entry, ok := c.entries[serviceName]; ok && c.now().Before(entry.ExpiresAt) {
		c.mu.RUnlock()
		logging.Debug("CredentialCache", "Cache hit for %s", serviceName)
		return entry, nil
	}
	c.mu.RUnlock()

	// A concurrent removal can legitimately race a read; it resolves
	// here as NotFound rather than by blocking the removal.
	def, ok := c.registry.Get(serviceName)
	if !ok {
		return issuer.Credentials{}, api.NewServiceNotFoundError(serviceName)
	}

	source := def.SourceCredentials.Merge(c.defaults)

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	logging.Info("CredentialCache", "Issuing new credentials for %s", serviceName)
	creds, err := c.issuer.AssumeRole(ctx, def.RoleSpec, source)
	if err != nil {
		return issuer.Credentials{}, api.NewIssuerError(serviceName, err)
	}

	c.store(serviceName, creds)
	return creds, nil
}

func (c *Cache) store(serviceName string, creds issuer.Credentials) {
	c.mu.Lock()
	prior, hadPrior := c.entries[serviceName]
	c.entries[serviceName] = creds
	c.mu.Unlock()

	if c.sanitizer != nil {
		if hadPrior {
			c.unregisterSecrets(prior)
		}
		c.sanitizer.Register(creds.AccessKeyID)
		c.sanitizer.Register(creds.SecretAccessKey)
		c.sanitizer.Register(creds.SessionToken)
	}
}

// Start launches the background reaper. It is a no-op when already
// running.
func (c *Cache) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true

	go c.reapLoop(c.stopCh, c.doneCh)
	logging.Debug("CredentialCache", "Started cache reaper, interval %s", c.reapInterval)
}

// Stop signals the reaper and waits for it to exit.
func (c *Cache) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.running {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.running = false
	logging.Info("CredentialCache", "Stopped cache reaper")
}

func (c *Cache) reapLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.Reap()
		}
	}
}

// Reap evicts every expired entry and unregisters its secret values.
func (c *Cache) Reap() {
	now := c.now()

	c.mu.Lock()
	var expired []issuer.Credentials
	for name, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			expired = append(expired, entry)
			delete(c.entries, name)
		}
	}
	c.mu.Unlock()

	for _, entry := range expired {
		c.unregisterSecrets(entry)
	}
	if len(expired) > 0 {
		logging.Info("CredentialCache", "Reaped %d expired credential entries", len(expired))
	}
}

// Flush removes all entries and releases their secrets. Called on
// graceful shutdown.
func (c *Cache) Flush() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]issuer.Credentials)
	c.mu.Unlock()

	for _, entry := range entries {
		c.unregisterSecrets(entry)
	}
	if len(entries) > 0 {
		logging.Info("CredentialCache", "Flushed %d cached credential entries", len(entries))
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) unregisterSecrets(entry issuer.Credentials) {
	if c.sanitizer == nil {
		return
	}
	c.sanitizer.Unregister(entry.AccessKeyID)
	c.sanitizer.Unregister(entry.SecretAccessKey)
	c.sanitizer.Unregister(entry.SessionToken)
}
