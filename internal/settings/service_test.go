package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/routetable"
)

type memRepo struct {
	mu        sync.Mutex
	values    map[string]json.RawMessage
	updatedBy map[string]*string
	err       error
	gets      int
}

func newMemRepo() *memRepo {
	return &memRepo{values: map[string]json.RawMessage{}, updatedBy: map[string]*string{}}
}

func (m *memRepo) GetSetting(_ context.Context, key string) (*models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return &models.Setting{Key: key, Value: v}, nil
}

func (m *memRepo) ListSettings(context.Context) ([]*models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Setting
	for k, v := range m.values {
		out = append(out, &models.Setting{Key: k, Value: v})
	}
	return out, nil
}

func (m *memRepo) UpsertSetting(_ context.Context, key string, value json.RawMessage, updatedBy *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	m.updatedBy[key] = updatedBy
	return nil
}

func (m *memRepo) UpsertSettings(_ context.Context, values map[string]json.RawMessage, updatedBy *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for k, v := range values {
		m.values[k] = v
		m.updatedBy[k] = updatedBy
	}
	return nil
}

func (m *memRepo) DeleteSetting(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.values, key)
	return nil
}

type emitted struct {
	ev     audit.Event
	caller audit.Caller
}

type fakeEmitter struct {
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, ev audit.Event, caller audit.Caller) {
	f.events = append(f.events, emitted{ev, caller})
}

func newTestService(t *testing.T) (*Service, *memRepo, *fakeEmitter) {
	t.Helper()
	repo := newMemRepo()
	em := &fakeEmitter{}
	s := NewService(repo, em)
	DefineCore(s, func() routetable.Table { return routetable.Table{"status_page": "/status_page"} })
	return s, repo, em
}

var admin = audit.NewCaller("127.0.0.1", "admin-id")

func TestService_GetDefaults(t *testing.T) {
	s, repo, _ := newTestService(t)
	ctx := context.Background()

	v, err := s.Get(ctx, KeyRouteTable)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		routetable.AppID:        "/",
		routetable.StaticRootID: "/static",
		"status_page":           "/status_page",
	}, v)

	assert.Equal(t, DefaultBrandName, s.BrandName(ctx))
	assert.False(t, s.LogReadOperations(ctx))

	_, _ = s.Get(ctx, KeyBrandName)
	assert.Equal(t, 3, repo.gets, "second read of a key is served from cache")
}

func TestService_UnknownKey(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.Get(context.Background(), "nope")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, `Invalid setting key "nope".`, ve.Message)
	assert.Equal(t, "key", ve.Field)

	_, err = s.Set(context.Background(), "nope", 1, admin)
	assert.ErrorAs(t, err, &ve)
	_, err = s.Unset(context.Background(), "nope", admin)
	assert.ErrorAs(t, err, &ve)
}

func TestService_SetRouteTable(t *testing.T) {
	s, repo, em := newTestService(t)
	ctx := context.Background()

	var got routetable.Table
	s.OnChange(KeyRouteTable, func(_ context.Context, _ string, v any) {
		got, _ = routetable.FromValue(v)
	})

	in := map[string]any{"core_app": "/", "core_static_root": "/static", "status_page": "/status_page"}
	_, err := s.Set(ctx, KeyRouteTable, in, admin)
	require.NoError(t, err)

	assert.Equal(t, "/status_page", got["status_page"])
	assert.JSONEq(t, `{"core_app":"/","core_static_root":"/static","status_page":"/status_page"}`, string(repo.values[KeyRouteTable]))
	require.NotNil(t, repo.updatedBy[KeyRouteTable])
	assert.Equal(t, "admin-id", *repo.updatedBy[KeyRouteTable])

	require.Len(t, em.events, 1)
	sc, ok := em.events[0].ev.(audit.SettingChanged)
	require.True(t, ok)
	assert.Equal(t, KeyRouteTable, sc.Key)
	assert.Equal(t, "127.0.0.1", em.events[0].caller.IP)

	table, err := s.RouteTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/status_page", table["status_page"])
}

func TestService_SetRouteTableRejected(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"empty", map[string]any{}, "Primary and static roots must be routeable."},
		{"no static", map[string]any{"core_app": "/"}, "Primary and static roots must be routeable."},
		{"duplicate", map[string]any{"core_app": "/some_route", "core_static_root": "/static", "other": "/some_route"}, "Routes must be unique."},
		{"no slash", map[string]any{"core_app": "/", "core_static_root": "/static", "other": "route_without_a_leading_slash"}, "Routes must begin with a forward slash."},
		{"relative static", map[string]any{"core_app": "/", "core_static_root": "relative/static"}, "Static root must begin with a forward slash or contain a URL scheme."},
		{"not an object", []any{"/"}, "Route table must be a JSON object."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, repo, em := newTestService(t)
			_, err := s.Set(context.Background(), KeyRouteTable, tt.value, admin)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.want, ve.Message)
			assert.Equal(t, "value", ve.Field)
			assert.Empty(t, repo.values)
			assert.Empty(t, em.events)
		})
	}
}

func TestService_SetBrandNameNormalised(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	v, err := s.Set(ctx, KeyBrandName, "  Acme  ", admin)
	require.NoError(t, err)
	assert.Equal(t, "Acme", v)
	assert.Equal(t, "Acme", s.BrandName(ctx))

	_, err = s.Set(ctx, KeyBrandName, "   ", admin)
	assert.Error(t, err)
	_, err = s.Set(ctx, KeyLogReadOperations, "yes", admin)
	assert.Error(t, err)
}

func TestService_SetRepositoryError(t *testing.T) {
	s, repo, em := newTestService(t)
	repo.err = errors.New("db down")

	_, err := s.Set(context.Background(), KeyBrandName, "Acme", admin)
	require.Error(t, err)
	var ve *ValidationError
	assert.False(t, errors.As(err, &ve))
	assert.Empty(t, em.events)
}

func TestService_SetManyAllOrNothing(t *testing.T) {
	s, repo, em := newTestService(t)
	ctx := context.Background()

	_, err := s.SetMany(ctx, []Item{
		{Key: KeyBrandName, Value: "Acme"},
		{Key: KeyLogReadOperations, Value: "not a bool"},
	}, admin)
	require.Error(t, err)
	assert.Empty(t, repo.values)
	assert.Equal(t, DefaultBrandName, s.BrandName(ctx))

	out, err := s.SetMany(ctx, []Item{
		{Key: KeyBrandName, Value: "Acme"},
		{Key: KeyLogReadOperations, Value: true},
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{KeyBrandName: "Acme", KeyLogReadOperations: true}, out)
	assert.True(t, s.LogReadOperations(ctx))
	assert.Len(t, em.events, 2)
}

func TestService_Unset(t *testing.T) {
	s, repo, em := newTestService(t)
	ctx := context.Background()

	_, err := s.Set(ctx, KeyBrandName, "Acme", admin)
	require.NoError(t, err)

	v, err := s.Unset(ctx, KeyBrandName, admin)
	require.NoError(t, err)
	assert.Equal(t, DefaultBrandName, v)
	assert.Equal(t, DefaultBrandName, s.BrandName(ctx))
	assert.NotContains(t, repo.values, KeyBrandName)

	require.Len(t, em.events, 2)
	assert.Nil(t, em.events[1].ev.(audit.SettingChanged).Value)
}

func TestService_LoadFiresListeners(t *testing.T) {
	s, repo, _ := newTestService(t)
	repo.values[KeyBrandName] = json.RawMessage(`"Stored"`)
	repo.values[KeyRouteTable] = json.RawMessage(`{"core_app":"relative"}`)

	seen := map[string]any{}
	for _, k := range s.Keys() {
		s.OnChange(k, func(_ context.Context, key string, v any) { seen[key] = v })
	}

	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, "Stored", seen[KeyBrandName])
	assert.Equal(t, false, seen[KeyLogReadOperations])
	table, err := routetable.FromValue(seen[KeyRouteTable])
	require.NoError(t, err)
	assert.Equal(t, "/", table[routetable.AppID], "invalid stored table falls back to the default")
}

func TestService_LoadError(t *testing.T) {
	s, repo, _ := newTestService(t)
	repo.err = errors.New("db down")
	assert.Error(t, s.Load(context.Background()))
}

func TestService_DefineWithoutHooks(t *testing.T) {
	s := NewService(newMemRepo(), nil)
	s.Define(Definition{Key: "plugin.flag"})

	v, err := s.Set(context.Background(), "plugin.flag", 3.0, audit.Caller{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	d, err := s.Default("plugin.flag")
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Equal(t, []string{"plugin.flag"}, s.Keys())
}
