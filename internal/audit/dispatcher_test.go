package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routedesk/internal/db/models"
)

func TestDispatcher_DrainsOnClose(t *testing.T) {
	store := &memStore{}
	ship := &recordingShipper{}
	d := NewDispatcher(NewSink(store, ship), DispatcherConfig{QueueSize: 100, Workers: 3})

	for i := 0; i < 50; i++ {
		require.True(t, d.Enqueue(&models.AuditRecord{Type: "rest.request"}))
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, store.saved(), 50)
	assert.True(t, ship.closed, "Close must close the shippers")
}

func TestDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	store := &memStore{block: make(chan struct{}), entered: make(chan struct{}, 10)}
	d := NewDispatcher(NewSink(store, nil), DispatcherConfig{QueueSize: 1, Workers: 1})

	require.True(t, d.Enqueue(&models.AuditRecord{Type: "first"}))
	select {
	case <-store.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("writer never picked up the first record")
	}

	require.True(t, d.Enqueue(&models.AuditRecord{Type: "second"}))

	done := make(chan bool)
	go func() { done <- d.Enqueue(&models.AuditRecord{Type: "third"}) }()
	select {
	case ok := <-done:
		assert.False(t, ok, "third record should be dropped")
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	assert.Equal(t, 1, d.Depth())

	close(store.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, store.saved(), 2)
}

func TestDispatcher_RetriesFailedWrites(t *testing.T) {
	store := &memStore{failN: 2}
	d := NewDispatcher(NewSink(store, nil), DispatcherConfig{
		QueueSize:    4,
		Workers:      1,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})

	require.True(t, d.Enqueue(&models.AuditRecord{Type: "retry"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, store.saved(), 1)
	assert.Equal(t, 3, store.calls)
}

func TestDispatcher_GivesUpAfterMaxRetries(t *testing.T) {
	store := &memStore{failN: 10}
	d := NewDispatcher(NewSink(store, nil), DispatcherConfig{
		QueueSize:    4,
		Workers:      1,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	})

	d.Enqueue(&models.AuditRecord{Type: "lost"})
	require.NoError(t, d.Close(context.Background()))

	assert.Empty(t, store.saved())
	assert.Equal(t, 2, store.calls)
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(NewSink(&memStore{}, nil), DispatcherConfig{})
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Enqueue(&models.AuditRecord{Type: "late"}))
	assert.NoError(t, d.Close(context.Background()), "Close is idempotent")
}

func TestDispatcher_CloseHonoursDeadline(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	d := NewDispatcher(NewSink(store, nil), DispatcherConfig{QueueSize: 4, Workers: 1})
	d.Enqueue(&models.AuditRecord{Type: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(store.block)
}

// orderShipper records the sequence of Ship and Close calls.
type orderShipper struct {
	mu     sync.Mutex
	events []string
}

func (o *orderShipper) Ship(context.Context, *models.AuditRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "ship")
	return nil
}

func (o *orderShipper) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "close")
	return nil
}

func (o *orderShipper) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func TestDispatcher_LateWriteShipsBeforeShippersClose(t *testing.T) {
	store := &memStore{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	ship := &orderShipper{}
	d := NewDispatcher(NewSink(store, ship), DispatcherConfig{QueueSize: 4, Workers: 1})
	require.True(t, d.Enqueue(&models.AuditRecord{Type: "slow"}))
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	assert.Empty(t, ship.seen(), "shippers must stay open while a writer is mid-write")

	close(store.block)
	assert.Eventually(t, func() bool { return len(ship.seen()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ship", "close"}, ship.seen())
	assert.Len(t, store.saved(), 1)
}

func TestDispatcherConfig_Defaults(t *testing.T) {
	cfg := (&DispatcherConfig{MaxRetries: -1}).withDefaults()
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}
