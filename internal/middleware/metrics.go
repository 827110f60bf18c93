package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/telemetry"
)

// RouteLabelKey lets a handler name the request for metrics when gin has no
// route template, e.g. requests dispatched through the route table.
const RouteLabelKey = "route_label"

// UnmatchedRouteLabel is the path label for requests nothing claimed.
const UnmatchedRouteLabel = "unmatched"

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds for every request.
//
// The path label is the gin route template (/api/v1/audit/records/:id), the
// value a handler stored under RouteLabelKey (webroot:status_page), or
// UnmatchedRouteLabel. Raw URLs never become label values.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.GetString(RouteLabelKey)
		}
		if path == "" {
			path = UnmatchedRouteLabel
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
