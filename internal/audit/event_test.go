package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKinds(t *testing.T) {
	assert.Equal(t, KindRESTRequest, RESTRequest{}.Kind())
	assert.Equal(t, KindSettingChanged, SettingChanged{}.Kind())
	assert.Equal(t, KindLogin, Login{}.Kind())
	assert.Equal(t, Kind("custom.thing"), Generic{Type: "custom.thing"}.Kind())
}

func TestDetails_RESTRequest(t *testing.T) {
	d, err := details(RESTRequest{
		Method: "GET",
		Route:  "/api/v1/audit/records",
		Path:   "/api/v1/audit/records",
		Params: map[string]any{"filter.type": "x", "limit": "10"},
		Status: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, "GET", d["method"])
	assert.Equal(t, 200, d["status"])
	assert.Equal(t, map[string]any{"filter%2Etype": "x", "limit": "10"}, d["params"])
	assert.NotContains(t, d, "requestId")
}

func TestDetails_RESTRequestWithRequestID(t *testing.T) {
	d, err := details(&RESTRequest{Method: "POST", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", d["requestId"])
	assert.Equal(t, map[string]any{}, d["params"])
}

func TestDetails_OtherVariants(t *testing.T) {
	d, err := details(SettingChanged{Key: "core.brand_name", Value: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "core.brand_name", "value": "Acme"}, d)

	d, err = details(&Login{Login: "alice", Method: "password", Success: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"login": "alice", "method": "password", "success": true}, d)

	src := map[string]any{"a": 1}
	d, err = details(Generic{Type: "x", Details: src})
	require.NoError(t, err)
	d["b"] = 2
	assert.NotContains(t, src, "b", "details must be a copy")
}

type unknownEvent struct{}

func (unknownEvent) Kind() Kind { return "unknown" }

func TestDetails_Errors(t *testing.T) {
	_, err := details(Generic{})
	assert.Error(t, err)

	_, err = details(nil)
	assert.Error(t, err)

	_, err = details(unknownEvent{})
	assert.ErrorContains(t, err, "unsupported audit event")
}
