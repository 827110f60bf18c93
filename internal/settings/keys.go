package settings

import (
	"context"
	"errors"
	"strings"

	"github.com/routedesk/routedesk/internal/routetable"
)

// Core setting keys.
const (
	KeyRouteTable        = "core.route_table"
	KeyBrandName         = "core.brand_name"
	KeyLogReadOperations = "audit.log_read_operations"
)

// DefaultBrandName is shown on the index page until an admin changes it.
const DefaultBrandName = "routedesk"

// DefineCore registers the core keys. webroots supplies the default routes of
// loaded webroot plugins; it is consulted each time the default is needed so
// plugins loaded later are included.
func DefineCore(s *Service, webroots func() routetable.Table) {
	s.Define(Definition{
		Key: KeyRouteTable,
		Default: func() any {
			t := routetable.Default()
			if webroots != nil {
				for id, route := range webroots() {
					if _, reserved := t[id]; !reserved {
						t[id] = route
					}
				}
			}
			return t.Value()
		},
		Validate: validateRouteTable,
	})

	s.Define(Definition{
		Key:     KeyBrandName,
		Default: func() any { return DefaultBrandName },
		Validate: func(v any) (any, error) {
			name, ok := v.(string)
			if !ok || strings.TrimSpace(name) == "" {
				return nil, Invalid("The brand name may not be empty.")
			}
			return strings.TrimSpace(name), nil
		},
	})

	s.Define(Definition{
		Key:     KeyLogReadOperations,
		Default: func() any { return false },
		Validate: func(v any) (any, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, Invalid("Audit read logging must be a boolean.")
			}
			return b, nil
		},
	})
}

func validateRouteTable(v any) (any, error) {
	t, err := routetable.FromValue(v)
	if err == nil {
		err = routetable.Validate(t)
	}
	var rve *routetable.ValidationError
	if errors.As(err, &rve) {
		return nil, Invalid("%s", rve.Message)
	}
	if err != nil {
		return nil, err
	}
	return t.Value(), nil
}

// RouteTable returns the committed route table.
func (s *Service) RouteTable(ctx context.Context) (routetable.Table, error) {
	v, err := s.Get(ctx, KeyRouteTable)
	if err != nil {
		return nil, err
	}
	return routetable.FromValue(v)
}

// BrandName returns the configured brand name, or the default when it cannot
// be read.
func (s *Service) BrandName(ctx context.Context) string {
	v, err := s.Get(ctx, KeyBrandName)
	if name, ok := v.(string); err == nil && ok {
		return name
	}
	return DefaultBrandName
}

// LogReadOperations reports whether GET requests are audited.
func (s *Service) LogReadOperations(ctx context.Context) bool {
	v, err := s.Get(ctx, KeyLogReadOperations)
	b, ok := v.(bool)
	return err == nil && ok && b
}
