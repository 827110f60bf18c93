// Package auditlogs is the audit_logs plugin. Loading it attaches the
// persistent record handler to the audit channel so every audit event is
// written to the configured record store.
package auditlogs

import (
	"context"
	"fmt"
	"time"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/plugins"
)

// Name is the plugin name used in plugins.enabled.
const Name = "audit_logs"

func init() {
	plugins.Register(&Plugin{})
}

// Plugin attaches an audit.RecordHandler to the audit channel.
type Plugin struct{}

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Audit logging" }

// Load ensures the store's indices and attaches the record handler.
func (*Plugin) Load(info *plugins.Info) error {
	if info.Audit == nil || info.Writer == nil {
		return fmt.Errorf("audit channel and record writer are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := info.Writer.Sink().Store().EnsureIndices(ctx); err != nil {
		return fmt.Errorf("failed to ensure audit record indices: %w", err)
	}

	info.Audit.AddHandler(audit.NewRecordHandler(info.Writer.Sink(), info.Writer))
	return nil
}
