// settings.go implements the system setting endpoints. Values travel as JSON:
// form and query inputs carry JSON-encoded text, JSON bodies carry the value
// itself.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/middleware"
	"github.com/routedesk/routedesk/internal/settings"
)

// SettingsService is implemented by *settings.Service.
type SettingsService interface {
	Keys() []string
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any, caller audit.Caller) (any, error)
	SetMany(ctx context.Context, items []settings.Item, caller audit.Caller) (map[string]any, error)
	Unset(ctx context.Context, key string, caller audit.Caller) (any, error)
}

// SettingsHandlers serves /api/v1/system/setting
type SettingsHandlers struct {
	svc SettingsService
}

func NewSettingsHandlers(svc SettingsService) *SettingsHandlers {
	return &SettingsHandlers{svc: svc}
}

func caller(c *gin.Context) audit.Caller {
	return audit.NewCaller(c.ClientIP(), c.GetString(middleware.ContextUserID))
}

func validationError(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"type": "validation", "field": field, "message": message})
}

// writeSettingError maps a settings error to a response. action completes
// "Failed to ..." for unexpected errors.
func writeSettingError(c *gin.Context, err error, action string) {
	var ve *settings.ValidationError
	if errors.As(err, &ve) {
		validationError(c, ve.Field, ve.Message)
		return
	}
	slog.Error("settings request failed", "action", action, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
}

// formOrQuery prefers the request body over the query string, the same
// precedence the audit middleware records.
func formOrQuery(c *gin.Context, name string) (string, bool) {
	if v, ok := c.GetPostForm(name); ok {
		return v, true
	}
	return c.GetQuery(name)
}

// @Summary      Get system settings
// @Description  Returns one setting (?key=), several (?list=["k1","k2"]), or all of them.
// @Tags         System
// @Security     Bearer
// @Produce      json
// @Param        key   query  string  false  "Setting key"
// @Param        list  query  string  false  "JSON array of setting keys"
// @Success      200  {object}  map[string]interface{}  "key and value, or values"
// @Failure      400  {object}  map[string]interface{}  "Unknown key or malformed list"
// @Router       /api/v1/system/setting [get]
// GetHandler reads settings
// GET /api/v1/system/setting
func (h *SettingsHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if key, ok := c.GetQuery("key"); ok {
			v, err := h.svc.Get(ctx, key)
			if err != nil {
				writeSettingError(c, err, "read setting")
				return
			}
			c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
			return
		}

		keys := h.svc.Keys()
		if raw, ok := c.GetQuery("list"); ok {
			keys = nil
			if err := json.Unmarshal([]byte(raw), &keys); err != nil {
				validationError(c, "list", "The list must be a JSON array of setting keys.")
				return
			}
		}

		values := make(map[string]any, len(keys))
		for _, key := range keys {
			v, err := h.svc.Get(ctx, key)
			if err != nil {
				writeSettingError(c, err, "read settings")
				return
			}
			values[key] = v
		}
		c.JSON(http.StatusOK, gin.H{"values": values})
	}
}

type settingBody struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	List  []settings.Item `json:"list"`
}

// settingInput is a decoded PUT request: either one key/value or a list.
type settingInput struct {
	key     string
	value   any
	list    []settings.Item
	hasList bool
}

func readSettingInput(c *gin.Context) (*settingInput, bool) {
	in := &settingInput{}

	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body settingBody
		if err := c.ShouldBindJSON(&body); err != nil {
			validationError(c, "body", "The request body must be a JSON object.")
			return nil, false
		}
		if body.List != nil {
			in.list, in.hasList = body.List, true
			return in, true
		}
		in.key = body.Key
		if len(body.Value) == 0 {
			validationError(c, "value", "A value is required.")
			return nil, false
		}
		if err := json.Unmarshal(body.Value, &in.value); err != nil {
			validationError(c, "value", "The value must be valid JSON.")
			return nil, false
		}
		return in, true
	}

	if raw, ok := formOrQuery(c, "list"); ok {
		if err := json.Unmarshal([]byte(raw), &in.list); err != nil {
			validationError(c, "list", "The list must be a JSON array of {key, value} objects.")
			return nil, false
		}
		in.hasList = true
		return in, true
	}

	in.key, _ = formOrQuery(c, "key")
	raw, ok := formOrQuery(c, "value")
	if !ok {
		validationError(c, "value", "A value is required.")
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw), &in.value); err != nil {
		validationError(c, "value", "The value must be valid JSON.")
		return nil, false
	}
	return in, true
}

// @Summary      Update system settings
// @Description  Stores one setting (key and JSON-encoded value) or a list of {key, value}. A list is all-or-nothing.
// @Tags         System
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "key and normalised value, or values"
// @Failure      400  {object}  map[string]interface{}  "type: validation, field, message"
// @Failure      403  {object}  map[string]interface{}  "Missing settings:write scope"
// @Router       /api/v1/system/setting [put]
// PutHandler stores settings
// PUT /api/v1/system/setting
func (h *SettingsHandlers) PutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		in, ok := readSettingInput(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		if in.hasList {
			values, err := h.svc.SetMany(ctx, in.list, caller(c))
			if err != nil {
				writeSettingError(c, err, "save settings")
				return
			}
			c.JSON(http.StatusOK, gin.H{"values": values})
			return
		}

		v, err := h.svc.Set(ctx, in.key, in.value, caller(c))
		if err != nil {
			writeSettingError(c, err, "save setting")
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": in.key, "value": v})
	}
}

// @Summary      Reset a system setting
// @Description  Deletes the stored value so the setting reverts to its default.
// @Tags         System
// @Security     Bearer
// @Produce      json
// @Param        key  query  string  true  "Setting key"
// @Success      200  {object}  map[string]interface{}  "key and default value"
// @Failure      400  {object}  map[string]interface{}  "Unknown key"
// @Router       /api/v1/system/setting [delete]
// DeleteHandler resets a setting to its default
// DELETE /api/v1/system/setting?key=...
func (h *SettingsHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, _ := formOrQuery(c, "key")
		v, err := h.svc.Unset(c.Request.Context(), key, caller(c))
		if err != nil {
			writeSettingError(c, err, "reset setting")
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
	}
}
