package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Attribute keys carried by records on the audit channel.
const (
	AttrEvent   = "event"
	AttrIP      = "ip"
	AttrUserID  = "user_id"
	AttrDetails = "details"
)

// Caller identifies who triggered an event. It is supplied explicitly by the
// emitter; nothing reads request-scoped globals.
type Caller struct {
	IP     string
	UserID *string // nil when anonymous
}

// NewCaller builds a Caller, treating an empty userID as anonymous.
func NewCaller(ip, userID string) Caller {
	c := Caller{IP: ip}
	if userID != "" {
		c.UserID = &userID
	}
	return c
}

// Channel is the process-wide audit channel. It is an slog.Handler that fans
// each record out to every attached handler. A failing handler is logged and
// never affects the emitter or the other handlers.
type Channel struct {
	mu       sync.RWMutex
	handlers []slog.Handler
}

// NewChannel returns a channel with no handlers attached.
func NewChannel() *Channel {
	return &Channel{}
}

// AddHandler attaches h. Handlers are never removed.
func (c *Channel) AddHandler(h slog.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// HandlerCount reports how many handlers are attached.
func (c *Channel) HandlerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

// Logger returns a *slog.Logger that writes onto the channel.
func (c *Channel) Logger() *slog.Logger {
	return slog.New(c)
}

// Emit logs ev on the channel with the caller's identity attached.
func (c *Channel) Emit(ctx context.Context, ev Event, caller Caller) {
	r := slog.NewRecord(time.Now(), slog.LevelInfo, string(ev.Kind()), 0)
	r.AddAttrs(
		slog.Any(AttrEvent, ev),
		slog.String(AttrIP, caller.IP),
		slog.Any(AttrUserID, caller.UserID),
	)
	_ = c.Handle(ctx, r)
}

func (c *Channel) snapshot() []slog.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]slog.Handler(nil), c.handlers...)
}

// Enabled reports whether any attached handler wants records at level.
func (c *Channel) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range c.snapshot() {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes r to every enabled handler.
func (c *Channel) Handle(ctx context.Context, r slog.Record) error {
	return dispatchRecord(ctx, c.snapshot(), nil, r)
}

// WithAttrs returns a handler that adds attrs to every record. Handlers
// attached to the channel later still receive its records.
func (c *Channel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derived{root: c, ops: []func(slog.Handler) slog.Handler{
		func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) },
	}}
}

// WithGroup returns a handler that qualifies later attributes with name.
func (c *Channel) WithGroup(name string) slog.Handler {
	if name == "" {
		return c
	}
	return &derived{root: c, ops: []func(slog.Handler) slog.Handler{
		func(h slog.Handler) slog.Handler { return h.WithGroup(name) },
	}}
}

// derived replays WithAttrs/WithGroup calls onto the channel's current
// handlers at Handle time.
type derived struct {
	root *Channel
	ops  []func(slog.Handler) slog.Handler
}

func (d *derived) Enabled(ctx context.Context, level slog.Level) bool {
	return d.root.Enabled(ctx, level)
}

func (d *derived) Handle(ctx context.Context, r slog.Record) error {
	return dispatchRecord(ctx, d.root.snapshot(), d.ops, r)
}

func (d *derived) WithAttrs(attrs []slog.Attr) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (d *derived) WithGroup(name string) slog.Handler {
	if name == "" {
		return d
	}
	return d.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (d *derived) with(op func(slog.Handler) slog.Handler) *derived {
	ops := make([]func(slog.Handler) slog.Handler, len(d.ops), len(d.ops)+1)
	copy(ops, d.ops)
	return &derived{root: d.root, ops: append(ops, op)}
}

func dispatchRecord(ctx context.Context, handlers []slog.Handler, ops []func(slog.Handler) slog.Handler, r slog.Record) error {
	var errs []error
	for _, h := range handlers {
		for _, op := range ops {
			h = op(h)
		}
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			slog.Error("audit handler failed", "type", r.Message, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
