// audit.go emits a rest.request audit event for API calls. Events go to the
// process-wide audit channel; persistence happens off the request path.
package middleware

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/config"
)

// AuditEmitter receives audit events. *audit.Channel implements it.
type AuditEmitter interface {
	Emit(ctx context.Context, ev audit.Event, caller audit.Caller)
}

// ReadLoggingPolicy decides per request whether GET requests are audited.
// *settings.Service implements it.
type ReadLoggingPolicy interface {
	LogReadOperations(ctx context.Context) bool
}

// probe paths never produce audit events
var probePaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/version": true,
	"/metrics": true,
}

var secretParam = regexp.MustCompile(`(?i)(password|passwd|secret|token|credential)`)

const redacted = "[REDACTED]"

// AuditMiddleware emits one audit.RESTRequest per request after the handler
// has run.
//
//   - OPTIONS requests and probe endpoints are skipped.
//   - GET and HEAD are recorded only while policy reports read logging on.
//   - Responses with status >= 400 are recorded only with
//     audit.log_failed_requests.
//
// The caller IP and user ID are passed explicitly so the record does not
// depend on any request-scoped state once it is queued.
func AuditMiddleware(emitter AuditEmitter, policy ReadLoggingPolicy, cfg *config.AuditConfig) gin.HandlerFunc {
	logFailed := cfg != nil && cfg.LogFailedRequests

	return func(c *gin.Context) {
		r := c.Request
		if r.Method == http.MethodOptions || probePaths[r.URL.Path] {
			c.Next()
			return
		}

		// Parse url-encoded bodies before the handler consumes them; the
		// parsed form is cached on the request for later binding.
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch || r.Method == http.MethodDelete {
			_ = r.ParseForm()
		}

		c.Next()

		isRead := r.Method == http.MethodGet || r.Method == http.MethodHead
		if isRead && (policy == nil || !policy.LogReadOperations(r.Context())) {
			return
		}
		status := c.Writer.Status()
		if status >= http.StatusBadRequest && !logFailed {
			return
		}

		ev := audit.RESTRequest{
			Method:    r.Method,
			Route:     c.FullPath(),
			Path:      r.URL.Path,
			Params:    RequestParams(r),
			Status:    status,
			RequestID: c.GetString(RequestIDKey),
		}
		caller := audit.NewCaller(clientIP(c), c.GetString(ContextUserID))
		emitter.Emit(context.WithoutCancel(r.Context()), ev, caller)
	}
}

// RequestParams merges query and form parameters. Form values win over query
// values with the same name. A parameter given once is a string; repeated
// parameters become a list. Secret-looking parameters are redacted.
func RequestParams(r *http.Request) map[string]any {
	params := make(map[string]any)
	merge := func(vals url.Values) {
		for k, vs := range vals {
			switch {
			case secretParam.MatchString(k):
				params[k] = redacted
			case len(vs) == 1:
				params[k] = vs[0]
			default:
				list := make([]any, len(vs))
				for i, v := range vs {
					list[i] = v
				}
				params[k] = list
			}
		}
	}
	merge(r.URL.Query())
	if r.PostForm != nil {
		merge(r.PostForm)
	}
	return params
}

// clientIP is the address recorded for a request when gin has no proxy
// information.
func clientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return strings.Trim(c.Request.RemoteAddr, "[]")
	}
	return host
}
