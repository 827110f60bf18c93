package auditlogs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/plugins"
)

type fakeStore struct {
	saved      chan *models.AuditRecord
	indexCalls int
	indexErr   error
}

func (s *fakeStore) Name() string { return "fake" }
func (s *fakeStore) Save(_ context.Context, rec *models.AuditRecord) error {
	s.saved <- rec
	return nil
}
func (s *fakeStore) List(context.Context, models.AuditRecordFilter, int, int) ([]*models.AuditRecord, int, error) {
	return nil, 0, nil
}
func (s *fakeStore) Get(context.Context, string) (*models.AuditRecord, error) { return nil, nil }
func (s *fakeStore) EnsureIndices(context.Context) error {
	s.indexCalls++
	return s.indexErr
}

func TestPlugin_Registered(t *testing.T) {
	assert.Contains(t, plugins.Default().Available(), Name)
}

func TestPlugin_AttachesOneHandler(t *testing.T) {
	store := &fakeStore{saved: make(chan *models.AuditRecord, 4)}
	writer := audit.NewDispatcher(audit.NewSink(store, nil), audit.DispatcherConfig{QueueSize: 4, Workers: 1})
	ch := audit.NewChannel()
	info := &plugins.Info{Audit: ch, Writer: writer}

	reg := plugins.NewRegistry()
	reg.Register(&Plugin{})
	require.NoError(t, reg.Load([]string{Name, Name}, info))
	require.NoError(t, reg.Load([]string{Name}, info))

	assert.Equal(t, 1, ch.HandlerCount())
	assert.Equal(t, 1, store.indexCalls)
	assert.Equal(t, []plugins.Descriptor{{Name: "audit_logs", Description: "Audit logging"}}, reg.Loaded())

	ch.Emit(context.Background(), audit.Login{Login: "alice", Method: "password", Success: true}, audit.NewCaller("10.0.0.1", ""))
	require.NoError(t, writer.Close(context.Background()))

	rec := <-store.saved
	assert.Equal(t, "auth.login", rec.Type)
	assert.Equal(t, "10.0.0.1", rec.IP)
	assert.Nil(t, rec.UserID)
}

func TestPlugin_LoadErrors(t *testing.T) {
	p := &Plugin{}
	assert.Error(t, p.Load(&plugins.Info{}))

	store := &fakeStore{indexErr: errors.New("no permission")}
	writer := audit.NewDispatcher(audit.NewSink(store, nil), audit.DispatcherConfig{})
	defer writer.Close(context.Background())
	ch := audit.NewChannel()

	err := p.Load(&plugins.Info{Audit: ch, Writer: writer})
	assert.ErrorContains(t, err, "no permission")
	assert.Equal(t, 0, ch.HandlerCount())
}
