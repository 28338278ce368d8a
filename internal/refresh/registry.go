// Package refresh maintains derived views: a debounced durable queue of
// refresh demands and a polling worker that drains them through registered
// view functions.
package refresh

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ViewFunc recomputes one derived view and reports how many rows it touched.
type ViewFunc func(ctx context.Context) (rowsAffected int64, err error)

// Registry maps view names to their refresh functions.
type Registry struct {
	mu    sync.RWMutex
	views map[string]ViewFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]ViewFunc)}
}

// Register binds a view name to its refresh function. Registering a name
// twice is a wiring mistake and is rejected.
func (r *Registry) Register(name string, fn ViewFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("view name is required")
	}
	if fn == nil {
		return fmt.Errorf("view function is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.views[name]; exists {
		return fmt.Errorf("view %s already registered", name)
	}
	r.views[name] = fn
	return nil
}

// Lookup returns the refresh function for a view name.
func (r *Registry) Lookup(name string) (ViewFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.views[name]
	return fn, ok
}

// Names lists registered view names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.views))
	for name := range r.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
