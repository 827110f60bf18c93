package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/plugins"
)

// PluginLister is implemented by *plugins.Registry.
type PluginLister interface {
	Loaded() []plugins.Descriptor
	Available() []string
}

// @Summary      List plugins
// @Description  Lists loaded plugins in load order and the names of every registered plugin.
// @Tags         System
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "plugins, available"
// @Router       /api/v1/system/plugins [get]
// PluginsHandler lists plugins
// GET /api/v1/system/plugins
func PluginsHandler(registry PluginLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"plugins":   registry.Loaded(),
			"available": registry.Available(),
		})
	}
}
