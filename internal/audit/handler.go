package audit

import (
	"context"
	"log/slog"

	"github.com/routedesk/routedesk/internal/db/models"
)

// Enqueuer accepts built records for asynchronous writing.
type Enqueuer interface {
	Enqueue(rec *models.AuditRecord) bool
}

// RecordHandler is the slog.Handler the audit_logs plugin attaches to the
// audit channel. It converts each record into a models.AuditRecord and queues
// it for writing.
//
// Records carrying an "event" attribute are converted from the typed event.
// Any other record becomes a Generic event whose type is the message and whose
// details are the "details" attribute, or else the record's attributes.
type RecordHandler struct {
	sink  *Sink
	queue Enqueuer
	attrs []slog.Attr
}

// NewRecordHandler creates a handler that builds records with sink and hands
// them to queue.
func NewRecordHandler(sink *Sink, queue Enqueuer) *RecordHandler {
	return &RecordHandler{sink: sink, queue: queue}
}

func (h *RecordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *RecordHandler) Handle(_ context.Context, r slog.Record) error {
	var (
		ev      Event
		caller  Caller
		details map[string]any
		extra   map[string]any
	)

	visit := func(a slog.Attr) bool {
		switch a.Key {
		case AttrEvent:
			if e, ok := a.Value.Any().(Event); ok {
				ev = e
			}
		case AttrIP:
			caller.IP = a.Value.String()
		case AttrUserID:
			caller.UserID = userIDFrom(a.Value)
		case AttrDetails:
			if m, ok := a.Value.Any().(map[string]any); ok {
				details = m
			}
		default:
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[a.Key] = a.Value.Resolve().Any()
		}
		return true
	}

	for _, a := range h.attrs {
		visit(a)
	}
	r.Attrs(visit)

	if ev == nil {
		if details == nil {
			details = extra
		}
		ev = Generic{Type: r.Message, Details: details}
	}

	rec, err := h.sink.Build(ev, caller)
	if err != nil {
		return err
	}
	h.queue.Enqueue(rec)
	return nil
}

func (h *RecordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup is a no-op: audit attributes are always read at the top level.
func (h *RecordHandler) WithGroup(string) slog.Handler { return h }

func userIDFrom(v slog.Value) *string {
	switch u := v.Any().(type) {
	case *string:
		if u == nil || *u == "" {
			return nil
		}
		id := *u
		return &id
	case string:
		if u == "" {
			return nil
		}
		return &u
	}
	return nil
}
