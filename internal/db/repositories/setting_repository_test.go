package repositories

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var settingCols = []string{"key", "value", "updated_at", "updated_by"}

func newSettingRepo(t *testing.T) (*SettingRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSettingRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// GetSetting
// ---------------------------------------------------------------------------

func TestGetSetting_Found(t *testing.T) {
	repo, mock := newSettingRepo(t)
	mock.ExpectQuery("SELECT key, value.*FROM settings WHERE key").
		WithArgs("core.brand_name").
		WillReturnRows(sqlmock.NewRows(settingCols).
			AddRow("core.brand_name", []byte(`"Acme"`), time.Now(), nil))

	s, err := repo.GetSetting(context.Background(), "core.brand_name")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "core.brand_name", s.Key)
	assert.JSONEq(t, `"Acme"`, string(s.Value))
	assert.Nil(t, s.UpdatedBy)
}

func TestGetSetting_NotFound(t *testing.T) {
	repo, mock := newSettingRepo(t)
	mock.ExpectQuery("SELECT key, value.*FROM settings WHERE key").
		WillReturnRows(sqlmock.NewRows(settingCols))

	s, err := repo.GetSetting(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestGetSetting_DBError(t *testing.T) {
	repo, mock := newSettingRepo(t)
	mock.ExpectQuery("SELECT key, value.*FROM settings").WillReturnError(errDB)

	_, err := repo.GetSetting(context.Background(), "k")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// ListSettings
// ---------------------------------------------------------------------------

func TestListSettings(t *testing.T) {
	repo, mock := newSettingRepo(t)
	mock.ExpectQuery("SELECT key, value.*FROM settings ORDER BY key").
		WillReturnRows(sqlmock.NewRows(settingCols).
			AddRow("audit.log_read_operations", []byte(`true`), time.Now(), "user-1").
			AddRow("core.route_table", []byte(`{"core_app":"/"}`), time.Now(), nil))

	settings, err := repo.ListSettings(context.Background())
	require.NoError(t, err)
	require.Len(t, settings, 2)
	require.NotNil(t, settings[0].UpdatedBy)
	assert.Equal(t, "user-1", *settings[0].UpdatedBy)
}

// ---------------------------------------------------------------------------
// UpsertSetting / UpsertSettings / DeleteSetting
// ---------------------------------------------------------------------------

func TestUpsertSetting(t *testing.T) {
	repo, mock := newSettingRepo(t)
	user := "user-1"
	mock.ExpectExec("INSERT INTO settings.*ON CONFLICT").
		WithArgs("core.brand_name", []byte(`"Acme"`), sqlmock.AnyArg(), &user).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSetting(context.Background(), "core.brand_name", json.RawMessage(`"Acme"`), &user)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSettings_CommitsTogether(t *testing.T) {
	repo, mock := newSettingRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO settings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpsertSettings(context.Background(), map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`2`),
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSettings_RollsBackOnError(t *testing.T) {
	repo, mock := newSettingRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settings").WillReturnError(errDB)
	mock.ExpectRollback()

	err := repo.UpsertSettings(context.Background(), map[string]json.RawMessage{"a": json.RawMessage(`1`)}, nil)
	assert.ErrorIs(t, err, errDB)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSetting(t *testing.T) {
	repo, mock := newSettingRepo(t)
	mock.ExpectExec("DELETE FROM settings WHERE key").
		WithArgs("core.brand_name").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteSetting(context.Background(), "core.brand_name"))
}
