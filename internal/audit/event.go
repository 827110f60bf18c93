// Package audit records security-relevant events as write-once audit records.
//
// Events are emitted on a Channel, a process-wide slog.Handler that fans out to
// attached handlers. The audit_logs plugin attaches a RecordHandler, which turns
// each event into a models.AuditRecord and hands it to a Dispatcher. The
// dispatcher's writers persist records through a RecordStore and forward them
// to any configured Shippers (webhook, file, archive).
//
// Audit records are separate from application logs: application logs are
// ephemeral debug output, while audit records are immutable and are consumed
// by security teams.
package audit

import (
	"fmt"
	"maps"
)

// Kind tags an audit event. It becomes the record's type.
type Kind string

const (
	KindRESTRequest    Kind = "rest.request"
	KindSettingChanged Kind = "setting.changed"
	KindLogin          Kind = "auth.login"
)

// Event is an audit event payload. The set of implementations is closed:
// RESTRequest, SettingChanged, Login and Generic.
type Event interface {
	Kind() Kind
}

// RESTRequest is emitted once per handled API request.
type RESTRequest struct {
	Method    string         `json:"method"`
	Route     string         `json:"route"`
	Path      string         `json:"path"`
	Params    map[string]any `json:"params"`
	Status    int            `json:"status"`
	RequestID string         `json:"requestId,omitempty"`
}

// SettingChanged is emitted when a system setting is set or unset.
// Value is nil when the setting was reverted to its default.
type SettingChanged struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Login is emitted for every sign-in attempt.
type Login struct {
	Login   string `json:"login"`
	Method  string `json:"method"` // "password" or "oidc"
	Success bool   `json:"success"`
}

// Generic carries events that arrive untyped, for example a message logged
// straight onto the channel's *slog.Logger. Details are persisted as-is.
type Generic struct {
	Type    string         `json:"type"`
	Details map[string]any `json:"details"`
}

func (RESTRequest) Kind() Kind    { return KindRESTRequest }
func (SettingChanged) Kind() Kind { return KindSettingChanged }
func (Login) Kind() Kind          { return KindLogin }
func (g Generic) Kind() Kind      { return Kind(g.Type) }

// details renders an event as the record's details map. REST request params
// have their keys escaped.
func details(ev Event) (map[string]any, error) {
	switch e := ev.(type) {
	case RESTRequest:
		d := map[string]any{
			"method": e.Method,
			"route":  e.Route,
			"path":   e.Path,
			"params": EscapeParams(e.Params),
			"status": e.Status,
		}
		if e.RequestID != "" {
			d["requestId"] = e.RequestID
		}
		return d, nil
	case *RESTRequest:
		return details(*e)
	case SettingChanged:
		return map[string]any{"key": e.Key, "value": e.Value}, nil
	case *SettingChanged:
		return details(*e)
	case Login:
		return map[string]any{"login": e.Login, "method": e.Method, "success": e.Success}, nil
	case *Login:
		return details(*e)
	case Generic:
		if e.Type == "" {
			return nil, fmt.Errorf("audit event has no type")
		}
		d := make(map[string]any, len(e.Details))
		maps.Copy(d, e.Details)
		// a rest.request logged without the typed event still gets safe keys
		if Kind(e.Type) == KindRESTRequest {
			if p, ok := d["params"]; ok {
				d["params"] = escapeParamsValue(p)
			}
		}
		return d, nil
	case *Generic:
		return details(*e)
	case nil:
		return nil, fmt.Errorf("nil audit event")
	default:
		return nil, fmt.Errorf("unsupported audit event %T", ev)
	}
}

// escapeParamsValue escapes the keys of an untyped params value. Values
// without keys pass through.
func escapeParamsValue(v any) any {
	switch p := v.(type) {
	case map[string]any:
		return EscapeParams(p)
	case map[string]string:
		out := make(map[string]any, len(p))
		for k, e := range p {
			out[EscapeKey(k)] = e
		}
		return out
	case map[string][]string:
		out := make(map[string]any, len(p))
		for k, e := range p {
			out[EscapeKey(k)] = e
		}
		return out
	default:
		return v
	}
}
