// Package routetable validates and serves the route table: the mapping from
// route IDs to the URL path prefixes under which the primary application, the
// static asset root and plugin webroots are served.
//
// The table is stored as the core.route_table system setting. Validate runs
// before every commit; Dispatcher serves requests against the committed table.
package routetable

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Reserved route IDs. Both must always be present and routed.
const (
	AppID        = "core_app"
	StaticRootID = "core_static_root"
)

// Table maps a route ID to its path. An empty path means the ID is not routed.
type Table map[string]string

// ValidationError is returned for every rejected table. Message is suitable
// for showing to an administrator as-is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is matches validation errors by message so callers can compare against the
// sentinels below with errors.Is.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Message == e.Message
}

var (
	ErrNotRouteable = &ValidationError{Message: "Primary and static roots must be routeable."}
	ErrNotUnique    = &ValidationError{Message: "Routes must be unique."}
	ErrRouteShape   = &ValidationError{Message: "Routes must begin with a forward slash."}
	ErrStaticShape  = &ValidationError{Message: "Static root must begin with a forward slash or contain a URL scheme."}
	ErrNotObject    = &ValidationError{Message: "Route table must be a JSON object."}
	ErrNotString    = &ValidationError{Message: "Route values must be strings."}
)

// Default returns the table used before any route table has been saved:
// the primary app at "/" and static assets at "/static".
func Default() Table {
	return Table{AppID: "/", StaticRootID: "/static"}
}

// Validate checks, in order: the reserved IDs are present and routed, routed
// paths are unique, and every path has the right shape. Shape problems are
// reported for the first offending ID in sorted order.
func Validate(t Table) error {
	if t[AppID] == "" || t[StaticRootID] == "" {
		return ErrNotRouteable
	}

	seen := make(map[string]struct{}, len(t))
	for _, route := range t {
		if route == "" {
			continue
		}
		if _, dup := seen[route]; dup {
			return ErrNotUnique
		}
		seen[route] = struct{}{}
	}

	for _, id := range t.IDs() {
		route := t[id]
		if route == "" {
			continue
		}
		if id == StaticRootID {
			if !strings.HasPrefix(route, "/") && !HasScheme(route) {
				return ErrStaticShape
			}
			continue
		}
		if !strings.HasPrefix(route, "/") {
			return ErrRouteShape
		}
	}
	return nil
}

// HasScheme reports whether route is an absolute URL such as
// http://cdn.example.com/static.
func HasScheme(route string) bool {
	if !strings.Contains(route, "://") {
		return false
	}
	u, err := url.Parse(route)
	return err == nil && u.Scheme != ""
}

// FromValue converts a decoded JSON value into a Table.
func FromValue(v any) (Table, error) {
	switch m := v.(type) {
	case Table:
		return m.Clone(), nil
	case map[string]string:
		return Table(m).Clone(), nil
	case map[string]any:
		t := make(Table, len(m))
		for id, raw := range m {
			s, ok := raw.(string)
			if !ok {
				return nil, ErrNotString
			}
			t[id] = s
		}
		return t, nil
	default:
		return nil, ErrNotObject
	}
}

// IDs returns the table's route IDs in sorted order.
func (t Table) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a copy of t.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Value returns the table as a JSON-compatible map.
func (t Table) Value() map[string]any {
	out := make(map[string]any, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (t Table) String() string {
	parts := make([]string, 0, len(t))
	for _, id := range t.IDs() {
		parts = append(parts, fmt.Sprintf("%s=%q", id, t[id]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
