// Package webroot provides the handlers mounted on the reserved route IDs:
// the application index on core_app and static assets on core_static_root.
package webroot

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/routedesk/routedesk/internal/routetable"
	"github.com/routedesk/routedesk/internal/storage"
)

// APIRoot is the path the index page advertises to the client application.
const APIRoot = "/api/v1"

// Site is implemented by *settings.Service.
type Site interface {
	BrandName(ctx context.Context) string
	RouteTable(ctx context.Context) (routetable.Table, error)
}

var index = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Brand}}</title>
<link rel="stylesheet" href="{{.StaticRoot}}/app.css">
</head>
<body>
<div id="app-global-info-apiroot" class="hide">{{.APIRoot}}</div>
<div id="app-global-info-staticroot" class="hide">{{.StaticRoot}}</div>
<div id="app"></div>
<script src="{{.StaticRoot}}/app.js"></script>
</body>
</html>
`))

type indexData struct {
	Brand      string
	APIRoot    string
	StaticRoot string
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Not found"})
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// AppHandler serves the index page of the client application.
type AppHandler struct {
	site Site
}

func NewAppHandler(site Site) *AppHandler {
	return &AppHandler{site: site}
}

func (h *AppHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		notFound(w)
		return
	}
	if !allowRead(w, r) {
		return
	}

	ctx := r.Context()
	data := indexData{Brand: h.site.BrandName(ctx), APIRoot: APIRoot}
	table, err := h.site.RouteTable(ctx)
	if err != nil {
		slog.Error("index: failed to read route table", "error", err)
		table = routetable.Default()
	}
	data.StaticRoot = strings.TrimSuffix(table[routetable.StaticRootID], "/")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := index.Execute(w, data); err != nil {
		slog.Error("index: render failed", "error", err)
	}
}

// StaticHandler streams objects stored below a key prefix.
type StaticHandler struct {
	store  storage.Storage
	prefix string
	maxAge time.Duration
}

// NewStaticHandler serves objects from store under prefix. maxAge is sent as
// Cache-Control max-age; zero disables caching.
func NewStaticHandler(store storage.Storage, prefix string, maxAge time.Duration) *StaticHandler {
	return &StaticHandler{store: store, prefix: strings.Trim(prefix, "/"), maxAge: maxAge}
}

// key maps a request path to an object key, rejecting traversal and
// directory requests.
func (h *StaticHandler) key(p string) (string, bool) {
	clean := path.Clean("/" + p)
	if clean == "/" || strings.HasSuffix(p, "/") {
		return "", false
	}
	if h.prefix == "" {
		return strings.TrimPrefix(clean, "/"), true
	}
	return h.prefix + clean, true
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	key, ok := h.key(r.URL.Path)
	if !ok {
		notFound(w)
		return
	}

	ctx := r.Context()
	meta, err := h.store.GetMetadata(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		notFound(w)
		return
	}
	if err != nil {
		slog.Error("static: metadata lookup failed", "key", key, "error", err)
		http.Error(w, "storage error", http.StatusBadGateway)
		return
	}

	contentType := meta.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentType(key)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if !meta.LastModified.IsZero() {
		w.Header().Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	}
	if h.maxAge > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.maxAge.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := h.store.Download(ctx, key)
	if err != nil {
		slog.Error("static: download failed", "key", key, "error", err)
		w.Header().Del("Content-Length")
		http.Error(w, "storage error", http.StatusBadGateway)
		return
	}
	defer body.Close()

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("static: stream interrupted", "key", key, "error", err)
	}
}
