package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/storage"
)

// ErrShipperClosed is returned by Ship once the shipper has been closed.
var ErrShipperClosed = errors.New("audit shipper closed")

// Shipper forwards persisted records to a secondary destination
type Shipper interface {
	// Ship sends a record to the destination
	Ship(ctx context.Context, rec *models.AuditRecord) error
	// Close flushes buffered records and releases resources
	Close() error
}

// ShipperConfig holds configuration for audit record shippers
type ShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool
	// Type is the shipper type (webhook, file, archive)
	Type    string
	Webhook *WebhookConfig
	File    *FileConfig
	Archive *ArchiveConfig
}

// WebhookConfig holds webhook shipper configuration
type WebhookConfig struct {
	// URL is the webhook endpoint
	URL string
	// Headers are additional HTTP headers to send
	Headers map[string]string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// BatchSize is how many records to batch before sending (0 = no batching)
	BatchSize int
	// FlushInterval is how often to flush batched records
	FlushInterval time.Duration
}

// FileConfig holds file shipper configuration
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ArchiveConfig holds archive shipper configuration
type ArchiveConfig struct {
	// Prefix is the storage key prefix segments are written under
	Prefix        string
	BatchSize     int
	FlushInterval time.Duration
}

// Uploader is the part of storage.Storage the archive shipper needs
type Uploader interface {
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error)
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper creates a new multi-shipper from configs. uploader is only
// required when an archive shipper is enabled.
func NewMultiShipper(configs []ShipperConfig, uploader Uploader) (*MultiShipper, error) {
	ms := &MultiShipper{
		shippers: make([]Shipper, 0),
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		case "archive":
			if cfg.Archive == nil {
				return nil, fmt.Errorf("archive config is required for archive shipper")
			}
			if uploader == nil {
				return nil, fmt.Errorf("archive shipper requires a storage backend")
			}
			shipper = NewArchiveShipper(cfg.Archive, uploader)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Len reports the number of active shippers
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends a record to all configured shippers
func (ms *MultiShipper) Ship(ctx context.Context, rec *models.AuditRecord) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, rec); err != nil {
			lastErr = err
			// Log error but continue to other shippers
			slog.Warn("audit shipper error", "shipper", fmt.Sprintf("%T", shipper), "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper ships audit records to a webhook
type WebhookShipper struct {
	cfg       *WebhookConfig
	client    *http.Client
	batchCh   chan *models.AuditRecord
	batch     []*models.AuditRecord
	batchMu   sync.Mutex
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		batchCh: make(chan *models.AuditRecord, 1000),
		batch:   make([]*models.AuditRecord, 0),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	// Start batch processor if batching is enabled
	if cfg.BatchSize > 0 {
		go ws.processBatches()
	} else {
		close(ws.doneCh)
	}

	return ws, nil
}

// processBatches handles batched sending
func (ws *WebhookShipper) processBatches() {
	defer close(ws.doneCh)

	flushInterval := ws.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, rec)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			ws.flushBatch()
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			// Drain anything still queued, then flush
			ws.batchMu.Lock()
			for {
				select {
				case rec := <-ws.batchCh:
					ws.batch = append(ws.batch, rec)
					continue
				default:
				}
				break
			}
			ws.flushBatch()
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch. Caller holds batchMu.
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		ws.batch = ws.batch[:0]
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		slog.Error("failed to send audit batch", "records", len(ws.batch), "error", err)
	}

	ws.batch = ws.batch[:0]
}

// Ship sends a record to the webhook
func (ws *WebhookShipper) Ship(ctx context.Context, rec *models.AuditRecord) error {
	if ws.closed.Load() {
		return ErrShipperClosed
	}

	// If batching is enabled, queue the record
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- rec:
			return nil
		default:
			// Channel full, send directly
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	return ws.sendRequest(ctx, data)
}

// sendRequest sends the HTTP request
func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close flushes pending batches and stops the batch processor
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		ws.closed.Store(true)
		close(ws.closeCh)
	})
	<-ws.doneCh
	return nil
}

// FileShipper appends records as JSON lines to a size-rotated file
type FileShipper struct {
	out *lumberjack.Logger
	mu  sync.Mutex
}

// NewFileShipper creates a new file shipper
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &FileShipper{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

// Ship writes a record to the file
func (fs *FileShipper) Ship(_ context.Context, rec *models.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.out.Close()
}

// ArchiveShipper buffers records as NDJSON and uploads each segment to object
// storage under <prefix>/YYYY/MM/DD/<unix-nanos>-<uuid>.ndjson.
// A segment is uploaded when it reaches BatchSize records, on every
// FlushInterval tick, and on Close.
type ArchiveShipper struct {
	cfg      *ArchiveConfig
	uploader Uploader
	now      func() time.Time

	mu     sync.Mutex
	buf    bytes.Buffer
	count  int
	closed bool

	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewArchiveShipper creates an archive shipper writing through uploader
func NewArchiveShipper(cfg *ArchiveConfig, uploader Uploader) *ArchiveShipper {
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}

	as := &ArchiveShipper{
		cfg:      cfg,
		uploader: uploader,
		now:      time.Now,
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go as.loop()
	return as
}

func (as *ArchiveShipper) loop() {
	defer close(as.doneCh)

	ticker := time.NewTicker(as.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := as.Flush(context.Background()); err != nil {
				slog.Error("failed to upload audit archive segment", "error", err)
			}
		case <-as.closeCh:
			return
		}
	}
}

// Ship appends a record to the current segment
func (as *ArchiveShipper) Ship(ctx context.Context, rec *models.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	as.mu.Lock()
	if as.closed {
		as.mu.Unlock()
		return ErrShipperClosed
	}
	as.buf.Write(data)
	as.buf.WriteByte('\n')
	as.count++
	full := as.count >= as.cfg.BatchSize
	as.mu.Unlock()

	if full {
		return as.Flush(ctx)
	}
	return nil
}

// Flush uploads the current segment, if any
func (as *ArchiveShipper) Flush(ctx context.Context) error {
	as.mu.Lock()
	if as.count == 0 {
		as.mu.Unlock()
		return nil
	}
	segment := append([]byte(nil), as.buf.Bytes()...)
	as.buf.Reset()
	as.count = 0
	as.mu.Unlock()

	key := as.segmentKey()
	if _, err := as.uploader.Upload(ctx, key, bytes.NewReader(segment), int64(len(segment))); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	slog.Debug("audit archive segment uploaded", "path", key, "bytes", len(segment))
	return nil
}

func (as *ArchiveShipper) segmentKey() string {
	t := as.now().UTC()
	return path.Join(as.cfg.Prefix, t.Format("2006/01/02"),
		fmt.Sprintf("%d-%s.ndjson", t.UnixNano(), uuid.New().String()))
}

// Close stops the flush loop and uploads the final segment
func (as *ArchiveShipper) Close() error {
	as.closeOnce.Do(func() {
		as.mu.Lock()
		as.closed = true
		as.mu.Unlock()
		close(as.closeCh)
	})
	<-as.doneCh
	return as.Flush(context.Background())
}
