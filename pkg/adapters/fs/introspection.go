package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// DirState exposes internal state for observability.
type DirState struct {
	Path          string     `json:"path"`
	Pattern       string     `json:"pattern"`
	IndexedFiles  int        `json:"indexed_files"`
	WatcherActive bool       `json:"watcher_active"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
}

// State implements introspection.Introspectable.
func (d *SchemaDir) State() any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DirState{
		Path:          d.Path,
		Pattern:       d.config.Pattern,
		IndexedFiles:  d.cache.Len(),
		WatcherActive: d.watcherActive,
		LastSync:      d.lastSync,
	}
}

// ComponentType implements introspection.Component.
func (d *SchemaDir) ComponentType() string {
	return "schema-dir"
}

var _ introspection.Introspectable = (*SchemaDir)(nil)
var _ introspection.Component = (*SchemaDir)(nil)

func (d *SchemaDir) setWatcherActive(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watcherActive = active
}
