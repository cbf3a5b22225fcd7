package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Registry holds the registered service templates, keyed by name@version.
// It is read-mostly: templates are loaded at startup from a directory and
// refreshed when the directory changes.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template

	parser  *Parser
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewRegistry creates an empty template registry.
func NewRegistry(logger zerolog.Logger) (*Registry, error) {
	parser, err := NewParser()
	if err != nil {
		return nil, err
	}

	return &Registry{
		templates: make(map[string]*Template),
		parser:    parser,
		logger:    logger.With().Str("component", "catalog").Logger(),
	}, nil
}

// Register adds a template to the registry, replacing any previous
// template with the same name and version.
func (r *Registry) Register(tmpl *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.Key()] = tmpl
}

// Get returns the template with the given name and version.
func (r *Registry) Get(name, version string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, ok := r.templates[Key(name, version)]
	return tmpl, ok
}

// List returns all registered templates.
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Template, 0, len(r.templates))
	for _, tmpl := range r.templates {
		out = append(out, tmpl)
	}
	return out
}

// LoadDir parses every .yaml/.yml file in dir and registers the result.
// Invalid templates are logged and skipped so one bad file does not take
// down the whole catalog.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		tmpl, err := r.parser.ParseFile(filepath.Join(dir, name))
		if err != nil {
			r.logger.Error().Err(err).Str("file", name).Msg("Skipping invalid template")
			continue
		}

		r.Register(tmpl)
		loaded++
	}

	r.logger.Info().Int("templates", loaded).Str("dir", dir).Msg("Template catalog loaded")
	return nil
}

// Watch reloads the template directory whenever a template file changes.
// It returns after starting the background watcher; the watcher stops
// when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	r.watcher = watcher
	go r.processEvents(ctx, dir)

	r.logger.Info().Str("dir", dir).Msg("Watching template directory")
	return nil
}

// processEvents handles file system events and triggers debounced reloads.
func (r *Registry) processEvents(ctx context.Context, dir string) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = r.watcher.Close()
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}

			r.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Template file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := r.LoadDir(dir); err != nil {
					r.logger.Error().Err(err).Msg("Failed to reload templates")
				}
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("Template watcher error")
		}
	}
}
