package effect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Registry holds the effect scripts found in the configured directory,
// keyed by file name without the .lua suffix.
type Registry struct {
	dir string
	log zerolog.Logger

	mu      sync.RWMutex
	scripts map[string]string
}

func NewRegistry(dir string, logger zerolog.Logger) *Registry {
	return &Registry{
		dir:     dir,
		log:     logger.With().Str("component", "effects").Logger(),
		scripts: make(map[string]string),
	}
}

// Load reads every *.lua file in the directory, replacing the current set.
// Unreadable files are skipped with a warning.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read effects dir: %w", err)
	}

	scripts := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		code, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable effect script")
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lua")
		scripts[name] = string(code)
	}

	r.mu.Lock()
	r.scripts = scripts
	r.mu.Unlock()
	r.log.Info().Int("count", len(scripts)).Str("dir", r.dir).Msg("effect scripts loaded")
	return nil
}

// Watch reloads the registry whenever the directory changes, until ctx is
// cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("effects watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch effects dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".lua") {
				continue
			}
			r.log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("effects dir changed")
			if err := r.Load(); err != nil {
				r.log.Warn().Err(err).Msg("effect reload failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("effects watcher error")
		}
	}
}

// Get returns the script code for name.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.scripts[name]
	return code, ok
}

// Names lists the known effects, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
