// security.go sets protective response headers. API responses and webroot
// pages (the route table) get different policies: pages load their own
// stylesheets, scripts and images, the JSON API loads nothing.
package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds configuration for security headers
type SecurityHeadersConfig struct {
	// EnableHSTS is only honoured when the server terminates TLS itself
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// FrameOptionsValue is DENY or SAMEORIGIN; empty omits the header
	FrameOptionsValue     string
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
	// CrossOriginIsolation adds the COEP/COOP/CORP trio
	CrossOriginIsolation bool
}

// WebrootSecurityHeadersConfig is used for pages served through the route table.
func WebrootSecurityHeadersConfig(tls bool) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            tls,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptionsValue:     "SAMEORIGIN",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; connect-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "geolocation=(), microphone=(), camera=()",
	}
}

// APISecurityHeadersConfig is used for everything under the API root.
func APISecurityHeadersConfig(tls bool) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            tls,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptionsValue:     "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		CrossOriginIsolation:  true,
	}
}

func (cfg SecurityHeadersConfig) apply(c *gin.Context) {
	if cfg.EnableHSTS {
		v := "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubdomains {
			v += "; includeSubDomains"
		}
		c.Header("Strict-Transport-Security", v)
	}
	if cfg.FrameOptionsValue != "" {
		c.Header("X-Frame-Options", cfg.FrameOptionsValue)
	}
	c.Header("X-Content-Type-Options", "nosniff")
	if cfg.ContentSecurityPolicy != "" {
		c.Header("Content-Security-Policy", cfg.ContentSecurityPolicy)
	}
	if cfg.ReferrerPolicy != "" {
		c.Header("Referrer-Policy", cfg.ReferrerPolicy)
	}
	if cfg.PermissionsPolicy != "" {
		c.Header("Permissions-Policy", cfg.PermissionsPolicy)
	}
	if cfg.CrossOriginIsolation {
		c.Header("Cross-Origin-Embedder-Policy", "require-corp")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")
	}
}

// SecurityHeadersMiddleware adds the same headers to every response.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg.apply(c)
		c.Next()
	}
}

// SplitSecurityHeadersMiddleware applies api to requests under apiRoot and
// web to everything else.
func SplitSecurityHeadersMiddleware(apiRoot string, api, web SecurityHeadersConfig) gin.HandlerFunc {
	apiRoot = strings.TrimSuffix(apiRoot, "/")
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if p == apiRoot || strings.HasPrefix(p, apiRoot+"/") {
			api.apply(c)
		} else {
			web.apply(c)
		}
		c.Next()
	}
}
