// Package statuspage is the status_page plugin: a small HTML webroot showing
// the brand name, the active routes and the audit queue depth.
package statuspage

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/routedesk/routedesk/internal/plugins"
	"github.com/routedesk/routedesk/internal/routetable"
)

const (
	// Name is the plugin name and its route ID.
	Name = "status_page"
	// DefaultRoute is where the page is served until the route table moves it.
	DefaultRoute = "/status_page"
)

func init() {
	plugins.Register(&Plugin{})
}

var page = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Brand}} status</title></head>
<body>
<h1>{{.Brand}} status</h1>
<p id="status">ok</p>
{{if .Audited}}<p>Audit queue depth: <span id="audit-queue-depth">{{.QueueDepth}}</span></p>{{end}}
<table id="routes">
<tr><th>Route ID</th><th>Path</th></tr>
{{range .Routes}}<tr><td>{{.ID}}</td><td>{{.Path}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type route struct {
	ID   string
	Path string
}

type pageData struct {
	Brand      string
	Audited    bool
	QueueDepth int
	Routes     []route
}

// Plugin serves the status page webroot.
type Plugin struct{}

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Status page" }

func (*Plugin) Load(info *plugins.Info) error {
	if info.Webroots == nil || info.Settings == nil {
		return fmt.Errorf("webroots and settings are required")
	}
	info.Webroots.Mount(Name, DefaultRoute, &handler{info: info})
	return nil
}

type handler struct {
	info *plugins.Info
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	data := pageData{Brand: h.info.Settings.BrandName(ctx)}
	if h.info.Writer != nil {
		data.Audited = true
		data.QueueDepth = h.info.Writer.Depth()
	}

	table, err := h.info.Settings.RouteTable(ctx)
	if err != nil {
		slog.Error("status page: failed to read route table", "error", err)
		table = routetable.Default()
	}
	for _, id := range table.IDs() {
		data.Routes = append(data.Routes, route{ID: id, Path: table[id]})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, data); err != nil {
		slog.Error("status page: render failed", "error", err)
	}
}
