package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/safego"
	"github.com/routedesk/routedesk/internal/telemetry"
)

// DispatcherConfig sizes the write queue and controls retries
type DispatcherConfig struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
}

func (c *DispatcherConfig) withDefaults() DispatcherConfig {
	out := *c
	if out.QueueSize < 1 {
		out.QueueSize = 1024
	}
	if out.Workers < 1 {
		out.Workers = 1
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	return out
}

// Dispatcher decouples record writes from the goroutines that emit events.
// Records wait in a bounded queue and are written by a fixed pool of writers.
// Enqueue never blocks: when the queue is full the record is dropped.
type Dispatcher struct {
	sink  *Sink
	cfg   DispatcherConfig
	queue chan *models.AuditRecord
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// NewDispatcher starts cfg.Workers writers for sink.
func NewDispatcher(sink *Sink, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan *models.AuditRecord, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		safego.GoWait(&d.wg, "audit-writer", d.run)
	}
	return d
}

// Sink returns the dispatcher's sink.
func (d *Dispatcher) Sink() *Sink { return d.sink }

// Enqueue queues rec for writing. It reports false when the record was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(rec *models.AuditRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		telemetry.AuditRecordsDroppedTotal.Inc()
		slog.Warn("audit record dropped: dispatcher closed", "type", rec.Type)
		return false
	}

	select {
	case d.queue <- rec:
		telemetry.AuditQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		telemetry.AuditRecordsDroppedTotal.Inc()
		slog.Warn("audit record dropped: queue full", "type", rec.Type, "queue_size", d.cfg.QueueSize)
		return false
	}
}

// Depth reports the number of queued records.
func (d *Dispatcher) Depth() int {
	return len(d.queue)
}

// Close stops intake, drains the queue, and closes the sink's shippers.
// It returns ctx.Err() if the writers have not finished when ctx expires; the
// shippers are then closed in the background once they do.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.closeErr = d.sink.Close()
		case <-ctx.Done():
			d.closeErr = ctx.Err()
			slog.Error("audit dispatcher did not drain before shutdown deadline", "remaining", len(d.queue))
			// shippers stay open until the last writer returns
			safego.Go("audit-sink-close", func() {
				<-done
				if err := d.sink.Close(); err != nil {
					slog.Error("failed to close audit shippers", "error", err)
				}
			})
		}
	})
	return d.closeErr
}

func (d *Dispatcher) run() {
	for rec := range d.queue {
		telemetry.AuditQueueDepth.Set(float64(len(d.queue)))
		d.write(rec)
	}
}

func (d *Dispatcher) write(rec *models.AuditRecord) {
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.RetryBackoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
		err = d.sink.Write(ctx, rec)
		cancel()
		if err == nil {
			return
		}
		slog.Debug("audit record write failed", "type", rec.Type, "attempt", attempt+1, "error", err)
	}

	telemetry.AuditRecordWriteErrorsTotal.WithLabelValues(d.sink.Store().Name()).Inc()
	slog.Error("audit record lost after retries",
		"type", rec.Type, "when", rec.When, "attempts", d.cfg.MaxRetries+1, "error", err)
}
