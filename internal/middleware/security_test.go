package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// applySecurityHeaders runs a GET / through SecurityHeadersMiddleware and returns
// the response recorder so callers can inspect headers.
func applySecurityHeaders(cfg SecurityHeadersConfig) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeadersMiddleware_HSTS(t *testing.T) {
	t.Run("with subdomains", func(t *testing.T) {
		w := applySecurityHeaders(SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 31536000, HSTSIncludeSubdomains: true})
		hsts := w.Header().Get("Strict-Transport-Security")
		if hsts != "max-age=31536000; includeSubDomains" {
			t.Errorf("HSTS = %q", hsts)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		w := applySecurityHeaders(SecurityHeadersConfig{HSTSMaxAge: 100})
		if got := w.Header().Get("Strict-Transport-Security"); got != "" {
			t.Errorf("HSTS should be absent when disabled, got %q", got)
		}
	})

	t.Run("follows tls", func(t *testing.T) {
		if APISecurityHeadersConfig(false).EnableHSTS || WebrootSecurityHeadersConfig(false).EnableHSTS {
			t.Error("HSTS enabled without TLS")
		}
		if !APISecurityHeadersConfig(true).EnableHSTS || !WebrootSecurityHeadersConfig(true).EnableHSTS {
			t.Error("HSTS disabled with TLS")
		}
	})
}

func TestSecurityHeadersMiddleware_OptionalHeaders(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SecurityHeadersConfig
		header string
		want   string
	}{
		{"frame options", SecurityHeadersConfig{FrameOptionsValue: "DENY"}, "X-Frame-Options", "DENY"},
		{"frame options empty", SecurityHeadersConfig{}, "X-Frame-Options", ""},
		{"csp", SecurityHeadersConfig{ContentSecurityPolicy: "default-src 'self'"}, "Content-Security-Policy", "default-src 'self'"},
		{"csp empty", SecurityHeadersConfig{}, "Content-Security-Policy", ""},
		{"referrer", SecurityHeadersConfig{ReferrerPolicy: "no-referrer"}, "Referrer-Policy", "no-referrer"},
		{"permissions", SecurityHeadersConfig{PermissionsPolicy: "geolocation=()"}, "Permissions-Policy", "geolocation=()"},
		{"permissions empty", SecurityHeadersConfig{}, "Permissions-Policy", ""},
		{"corp", SecurityHeadersConfig{CrossOriginIsolation: true}, "Cross-Origin-Resource-Policy", "same-origin"},
		{"corp off", SecurityHeadersConfig{}, "Cross-Origin-Resource-Policy", ""},
		{"nosniff always", SecurityHeadersConfig{}, "X-Content-Type-Options", "nosniff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := applySecurityHeaders(tt.cfg)
			if got := w.Header().Get(tt.header); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestSplitSecurityHeadersMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(SplitSecurityHeadersMiddleware("/api/v1/", APISecurityHeadersConfig(false), WebrootSecurityHeadersConfig(false)))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/api/v1", ok)
	r.GET("/api/v1/system/setting", ok)
	r.GET("/api/v10", ok)
	r.GET("/status_page", ok)

	tests := []struct {
		path string
		api  bool
	}{
		{"/api/v1", true},
		{"/api/v1/system/setting", true},
		{"/api/v10", false},
		{"/status_page", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			csp := w.Header().Get("Content-Security-Policy")
			isAPI := strings.HasPrefix(csp, "default-src 'none'")
			if isAPI != tt.api {
				t.Errorf("CSP = %q, api policy = %v, want %v", csp, isAPI, tt.api)
			}
			if tt.api && w.Header().Get("X-Frame-Options") != "DENY" {
				t.Errorf("X-Frame-Options = %q, want DENY", w.Header().Get("X-Frame-Options"))
			}
		})
	}
}
