package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/telemetry"
)

// RecordStore persists audit records. Implementations: the Postgres
// repositories.AuditRecordRepository and mongostore.Store.
type RecordStore interface {
	// Name identifies the store in metrics ("postgres", "mongo")
	Name() string
	Save(ctx context.Context, rec *models.AuditRecord) error
	List(ctx context.Context, filter models.AuditRecordFilter, limit, offset int) ([]*models.AuditRecord, int, error)
	Get(ctx context.Context, id string) (*models.AuditRecord, error)
	EnsureIndices(ctx context.Context) error
}

// Sink turns events into records and writes them.
type Sink struct {
	store   RecordStore
	shipper Shipper
	now     func() time.Time
}

// NewSink creates a sink writing to store. shipper may be nil.
func NewSink(store RecordStore, shipper Shipper) *Sink {
	return &Sink{store: store, shipper: shipper, now: time.Now}
}

// Store returns the sink's record store.
func (s *Sink) Store() RecordStore { return s.store }

// Build creates the record for ev. REST request params keys are escaped and
// When is the current UTC time.
func (s *Sink) Build(ev Event, caller Caller) (*models.AuditRecord, error) {
	d, err := details(ev)
	if err != nil {
		return nil, err
	}
	return &models.AuditRecord{
		Type:    string(ev.Kind()),
		Details: d,
		IP:      caller.IP,
		UserID:  caller.UserID,
		When:    s.now().UTC(),
	}, nil
}

// Handle builds and writes the record for ev synchronously.
func (s *Sink) Handle(ctx context.Context, ev Event, caller Caller) error {
	rec, err := s.Build(ev, caller)
	if err != nil {
		return err
	}
	return s.Write(ctx, rec)
}

// Write saves rec and then ships it. Only a failed save is returned; shipper
// failures are logged.
func (s *Sink) Write(ctx context.Context, rec *models.AuditRecord) error {
	if err := s.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}
	telemetry.AuditRecordsWrittenTotal.WithLabelValues(rec.Type, s.store.Name()).Inc()

	if s.shipper != nil {
		if err := s.shipper.Ship(ctx, rec); err != nil {
			telemetry.AuditShipErrorsTotal.Inc()
			slog.Warn("audit shipper failed", "record_id", rec.ID, "type", rec.Type, "error", err)
		}
	}
	return nil
}

// Close releases the shippers.
func (s *Sink) Close() error {
	if s.shipper == nil {
		return nil
	}
	return s.shipper.Close()
}
