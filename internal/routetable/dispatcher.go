package routetable

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Dispatcher serves requests by longest-prefix match against the active
// route table. The table can be replaced at any time; in-flight requests
// finish against the table they started with.
type Dispatcher struct {
	table atomic.Pointer[Table]

	mu       sync.RWMutex
	handlers map[string]http.Handler
}

// NewDispatcher returns a dispatcher serving t.
func NewDispatcher(t Table) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]http.Handler)}
	d.SetTable(t)
	return d
}

// Mount attaches h to route ID id, replacing any handler already mounted there.
func (d *Dispatcher) Mount(id string, h http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[id] = h
}

// Mounted reports whether a handler is attached to id.
func (d *Dispatcher) Mounted(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[id]
	return ok
}

// SetTable makes t the active table. t is copied.
func (d *Dispatcher) SetTable(t Table) {
	c := t.Clone()
	d.table.Store(&c)
	slog.Info("route table installed", "routes", c.String())
}

// Table returns a copy of the active table.
func (d *Dispatcher) Table() Table {
	return d.table.Load().Clone()
}

// Resolve finds the route ID whose path is the longest prefix of p. rest is
// the remainder of p below the route, always starting with "/".
// Unrouted IDs and absolute-URL routes never match.
func (d *Dispatcher) Resolve(p string) (id, rest string, ok bool) {
	t := *d.table.Load()
	best := -1
	for rid, route := range t {
		if route == "" || HasScheme(route) {
			continue
		}
		if !matches(route, p) || len(route) <= best {
			continue
		}
		// equal-length ties cannot happen: validated routes are unique
		best = len(route)
		id = rid
	}
	if best < 0 {
		return "", "", false
	}

	route := t[id]
	if route == "/" {
		rest = p
	} else {
		rest = strings.TrimPrefix(p, strings.TrimSuffix(route, "/"))
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return id, rest, true
}

func matches(route, p string) bool {
	if route == "/" {
		return true
	}
	route = strings.TrimSuffix(route, "/")
	return p == route || strings.HasPrefix(p, route+"/")
}

// ServeHTTP dispatches r to the handler mounted for the matching route, with
// the route prefix stripped from the URL path.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := d.Resolve(r.URL.Path)
	if !ok {
		notFound(w)
		return
	}

	d.mu.RLock()
	h := d.handlers[id]
	d.mu.RUnlock()
	if h == nil {
		notFound(w)
		return
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = rest
	r2.URL.RawPath = ""
	h.ServeHTTP(w, r2)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Not found"})
}
