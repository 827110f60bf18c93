// Package plugins hosts optional features. Plugins register themselves from
// init() and are loaded once at startup, in the order given by the
// plugins.enabled configuration list.
package plugins

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/config"
	"github.com/routedesk/routedesk/internal/routetable"
	"github.com/routedesk/routedesk/internal/settings"
)

// Plugin is an optional feature loaded at startup.
type Plugin interface {
	Name() string
	Description() string
	Load(info *Info) error
}

// Info is what the host hands to each plugin's Load.
type Info struct {
	Config   *config.Config
	Audit    *audit.Channel
	Writer   *audit.Dispatcher // nil when the audit store is disabled
	Settings *settings.Service
	Webroots *Webroots
}

// Descriptor describes a loaded plugin for the admin API.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds the available plugins and tracks which have been loaded.
type Registry struct {
	mu        sync.Mutex
	available map[string]Plugin
	loaded    []Plugin
	isLoaded  map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		available: make(map[string]Plugin),
		isLoaded:  make(map[string]bool),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the registry plugins register into from init().
func Default() *Registry { return defaultRegistry }

// Register adds p to the default registry.
func Register(p Plugin) { defaultRegistry.Register(p) }

// Register adds p. Registering two plugins with the same name panics.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.available[p.Name()]; dup {
		panic("plugins: Register called twice for plugin " + p.Name())
	}
	r.available[p.Name()] = p
}

// Available returns the names of every registered plugin, sorted.
func (r *Registry) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.available))
	for name := range r.available {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load loads each named plugin in order. A plugin that is already loaded is
// skipped; an unknown name is an error and stops loading.
func (r *Registry) Load(enabled []string, info *Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range enabled {
		p, ok := r.available[name]
		if !ok {
			return fmt.Errorf("unknown plugin %q", name)
		}
		if r.isLoaded[name] {
			continue
		}
		if err := p.Load(info); err != nil {
			return fmt.Errorf("failed to load plugin %s: %w", name, err)
		}
		r.isLoaded[name] = true
		r.loaded = append(r.loaded, p)
		slog.Info("plugin loaded", "plugin", name)
	}
	return nil
}

// Loaded describes the loaded plugins in load order.
func (r *Registry) Loaded() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.loaded))
	for _, p := range r.loaded {
		out = append(out, Descriptor{Name: p.Name(), Description: p.Description()})
	}
	return out
}

// Webroots lets plugins serve HTTP under a route-table entry.
type Webroots struct {
	dispatcher *routetable.Dispatcher

	mu       sync.RWMutex
	defaults routetable.Table
}

// NewWebroots mounts plugin webroots on d.
func NewWebroots(d *routetable.Dispatcher) *Webroots {
	return &Webroots{dispatcher: d, defaults: routetable.Table{}}
}

// Mount serves h under route ID id. defaultRoute is the route used until an
// admin saves a route table that places the webroot elsewhere.
func (w *Webroots) Mount(id, defaultRoute string, h http.Handler) {
	w.mu.Lock()
	w.defaults[id] = defaultRoute
	w.mu.Unlock()
	w.dispatcher.Mount(id, h)
}

// Defaults returns the default route of every mounted webroot.
func (w *Webroots) Defaults() routetable.Table {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.defaults.Clone()
}
