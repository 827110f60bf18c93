package statuspage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/plugins"
	"github.com/routedesk/routedesk/internal/routetable"
	"github.com/routedesk/routedesk/internal/settings"
)

type emptyRepo struct{}

func (emptyRepo) GetSetting(context.Context, string) (*models.Setting, error) { return nil, nil }
func (emptyRepo) ListSettings(context.Context) ([]*models.Setting, error)     { return nil, nil }
func (emptyRepo) UpsertSetting(context.Context, string, json.RawMessage, *string) error {
	return nil
}
func (emptyRepo) UpsertSettings(context.Context, map[string]json.RawMessage, *string) error {
	return nil
}
func (emptyRepo) DeleteSetting(context.Context, string) error { return nil }

func newInfo() (*plugins.Info, *routetable.Dispatcher) {
	d := routetable.NewDispatcher(routetable.Default())
	webroots := plugins.NewWebroots(d)
	svc := settings.NewService(emptyRepo{}, nil)
	settings.DefineCore(svc, webroots.Defaults)
	return &plugins.Info{Settings: svc, Webroots: webroots}, d
}

func TestPlugin_MountsDefaultRoute(t *testing.T) {
	info, d := newInfo()
	require.NoError(t, (&Plugin{}).Load(info))

	assert.Equal(t, routetable.Table{Name: DefaultRoute}, info.Webroots.Defaults())

	table, err := info.Settings.RouteTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultRoute, table[Name])
	d.SetTable(table)

	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status_page", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "routedesk status")
	assert.Contains(t, body, "<td>status_page</td><td>/status_page</td>")
	assert.NotContains(t, body, "audit-queue-depth")
}

func TestHandler_RejectsOtherPathsAndMethods(t *testing.T) {
	info, _ := newInfo()
	h := &handler{info: info}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nested", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestPlugin_LoadRequiresWebroots(t *testing.T) {
	assert.Error(t, (&Plugin{}).Load(&plugins.Info{}))
}
