// Package watcher keeps the service registry synchronized with
// directories of dynamic configuration fragments. Each watched directory
// gets its own filesystem listener and debounce timer; fragment failures
// are isolated per file and never destabilize already-registered
// services.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"credproxy/internal/api"
	"credproxy/internal/config"
	"credproxy/internal/registry"
	"credproxy/pkg/logging"
	"credproxy/pkg/sanitize"
)

// Watcher monitors the configured directories and applies fragment
// changes to the registry.
type Watcher struct {
	cfg       *config.DynamicServices
	registry  *registry.Registry
	sanitizer *sanitize.Sanitizer
	defaults  *config.SourceCredentials

	interval time.Duration

	mu      sync.Mutex
	running bool
	watches []*directoryWatch
}

// directoryWatch is the listener state for one watched directory.
type directoryWatch struct {
	path    string
	filter  *fileFilter
	fsw     *fsnotify.Watcher
	deb     *debouncer
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a watcher for cfg. Start must be called to scan the
// directories and begin listening.
func New(cfg *config.DynamicServices, reg *registry.Registry, sanitizer *sanitize.Sanitizer, defaults *config.SourceCredentials) *Watcher {
	return &Watcher{
		cfg:       cfg,
		registry:  reg,
		sanitizer: sanitizer,
		defaults:  defaults,
		interval:  cfg.ReloadIntervalDuration(),
	}
}

// Start scans every configured directory synchronously, then starts a
// filesystem listener per directory. A directory that cannot be
// prepared or watched loses only its own watch; the others proceed. If
// no watch can be established at all, Start fails so a process whose
// only service source is dynamic does not come up serving nothing.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	for _, dir := range w.cfg.Directories {
		dw, err := w.startDirectory(dir)
		if err != nil {
			logging.Error("Watcher", err, "Cannot watch directory %s, skipping", dir.Path)
			continue
		}
		w.watches = append(w.watches, dw)
	}

	if len(w.watches) == 0 && len(w.cfg.Directories) > 0 {
		return fmt.Errorf("none of the %d configured dynamic directories could be watched",
			len(w.cfg.Directories))
	}

	w.running = true
	logging.Info("Watcher", "Watching %d of %d configured directories",
		len(w.watches), len(w.cfg.Directories))
	return nil
}

func (w *Watcher) startDirectory(dir config.DirectoryConfig) (*directoryWatch, error) {
	// A sidecar often starts before its dynamic volume is populated.
	if _, err := os.Stat(dir.Path); os.IsNotExist(err) {
		logging.Info("Watcher", "Creating dynamic services directory %s", dir.Path)
		if err := os.MkdirAll(dir.Path, 0o755); err != nil {
			return nil, api.NewIOError(dir.Path, err)
		}
	}

	absPath, err := filepath.Abs(dir.Path)
	if err != nil {
		return nil, api.NewIOError(dir.Path, err)
	}

	dw := &directoryWatch{
		path:   absPath,
		filter: newFileFilter(dir.IncludePatterns, dir.ExcludePatterns),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	dw.deb = newDebouncer(w.interval, func(paths []string) {
		w.applyBatch(paths)
	})

	w.scanDirectory(dw)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(absPath); err != nil {
		fsw.Close()
		return nil, err
	}
	dw.fsw = fsw

	go dw.run(w)
	logging.Debug("Watcher", "Watching directory %s", absPath)
	return dw, nil
}

// scanDirectory processes the directory's existing matching files as if
// freshly created. Runs before the listener so startup state is complete
// when Start returns.
func (w *Watcher) scanDirectory(dw *directoryWatch) {
	entries, err := os.ReadDir(dw.path)
	if err != nil {
		logging.Error("Watcher", api.NewIOError(dw.path, err), "Cannot scan directory %s", dw.path)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dw.path, entry.Name())
		if !dw.filter.Matches(path) {
			continue
		}
		w.processFragment(path)
	}
}

func (dw *directoryWatch) run(w *Watcher) {
	defer close(dw.doneCh)

	for {
		select {
		case <-dw.stopCh:
			return

		case event, ok := <-dw.fsw.Events:
			if !ok {
				return
			}
			dw.handleEvent(event)

		case err, ok := <-dw.fsw.Errors:
			if !ok {
				return
			}
			logging.Error("Watcher", err, "Filesystem watcher error in %s", dw.path)
		}
	}
}

func (dw *directoryWatch) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	path := event.Name
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if !dw.filter.Matches(path) {
		return
	}
	logging.Debug("Watcher", "Recorded %s event for %s", event.Op, path)
	dw.deb.Record(path)
}

// applyBatch drains one debounced batch. Paths that still exist are
// processed as fragments; paths that no longer exist are treated as
// deletions. Failures affect only their own file.
func (w *Watcher) applyBatch(paths []string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				w.removeFragment(path)
			} else {
				logging.Error("Watcher", api.NewIOError(path, err), "Cannot stat %s, skipping", path)
			}
			continue
		}
		w.processFragment(path)
	}
}

// processFragment reads, parses, validates, and applies one fragment
// file. The registry enforces the name and provenance rules; a rejected
// apply leaves the previously-registered service untouched.
func (w *Watcher) processFragment(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Error("Watcher", api.NewIOError(path, err), "Cannot read fragment %s, skipping", path)
		return
	}

	name, spec, err := config.ParseFragment(data)
	if err != nil {
		logging.Error("Watcher", api.NewParseError(path, err), "Invalid fragment %s, skipping", path)
		return
	}

	merged := spec.SourceCredentials.Merge(w.defaults)
	if err := config.ValidateServiceSpec(name, spec, merged); err != nil {
		logging.Error("Watcher", api.NewValidationError(path, err.Error()),
			"Fragment %s failed validation, skipping", path)
		return
	}

	def := registry.Definition{
		BearerToken:       spec.AuthToken,
		SourceCredentials: merged,
		RoleSpec:          spec.AssumedRole,
		Provenance:        config.ResolveProvenance(path),
	}

	var applied bool
	if _, exists := w.registry.Get(name); exists {
		applied = w.registry.Update(name, def)
	} else {
		applied = w.registry.Add(name, def)
	}

	// The registry owns the bearer token's sanitizer lifecycle; the
	// credential material is registered here, and only for fragments
	// that actually took effect, so a rejected file leaves no trace.
	if applied && w.sanitizer != nil {
		config.RegisterServiceCredentialSecrets(spec, w.sanitizer)
	}
}

// removeFragment handles a deleted fragment file. The content is gone, so
// the file name stem is used as a best-effort service name.
func (w *Watcher) removeFragment(path string) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if !w.registry.Remove(stem) {
		logging.Warn("Watcher", "No service %q registered for deleted fragment %s", stem, path)
	}
}

// Stop signals every directory listener and waits for them to join,
// bounded by the configured stop timeout.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false

	for _, dw := range w.watches {
		close(dw.stopCh)
		dw.deb.Stop()
		if err := dw.fsw.Close(); err != nil {
			logging.Error("Watcher", err, "Error closing watcher for %s", dw.path)
		}
	}

	deadline := time.After(w.cfg.StopTimeoutDuration())
	for _, dw := range w.watches {
		select {
		case <-dw.doneCh:
		case <-deadline:
			logging.Warn("Watcher", "Timed out waiting for directory listeners to stop")
			w.watches = nil
			return
		}
	}
	w.watches = nil
	logging.Info("Watcher", "Stopped all directory listeners")
}

// fileFilter applies a directory's exclude and include regexes to the
// file's resolved path, so patterns can constrain directories as well as
// file names. Exclude wins; an empty include list admits everything not
// excluded. Patterns must match from the start of the path. Invalid
// regexes are logged once at compile time and treated as matching
// nothing.
type fileFilter struct {
	include          []*regexp.Regexp
	exclude          []*regexp.Regexp
	includeSpecified bool
}

func newFileFilter(includePatterns, excludePatterns []string) *fileFilter {
	return &fileFilter{
		include:          compilePatterns(includePatterns),
		exclude:          compilePatterns(excludePatterns),
		includeSpecified: len(includePatterns) > 0,
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			logging.Warn("Watcher", "Invalid pattern %q, treating as non-matching: %v", pattern, err)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// Matches reports whether path passes the filter. Separators are
// normalized to forward slashes before matching.
func (f *fileFilter) Matches(path string) bool {
	normalized := filepath.ToSlash(path)

	for _, re := range f.exclude {
		if re.MatchString(normalized) {
			return false
		}
	}
	if !f.includeSpecified {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}
