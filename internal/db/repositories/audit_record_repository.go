// audit_record_repository.go implements AuditRecordRepository, the PostgreSQL audit
// record store. Records are write-once: the repository inserts and reads, never updates.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/routedesk/routedesk/internal/db/models"
)

// AuditRecordRepository handles audit record database operations
type AuditRecordRepository struct {
	db *sql.DB
}

// NewAuditRecordRepository creates a new AuditRecordRepository
func NewAuditRecordRepository(db *sql.DB) *AuditRecordRepository {
	return &AuditRecordRepository{db: db}
}

// Name identifies the store in metrics and logs
func (r *AuditRecordRepository) Name() string { return "postgres" }

// EnsureIndices is a no-op: the type and when indexes are created by migrations.
func (r *AuditRecordRepository) EnsureIndices(ctx context.Context) error {
	return nil
}

// Ping checks that the database is reachable
func (r *AuditRecordRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Save inserts a record. An empty ID is assigned a new UUID.
func (r *AuditRecordRepository) Save(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	details := rec.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(stripNUL(details))
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `
		INSERT INTO audit_records (id, type, details, ip, user_id, "when")
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		stripNULString(rec.Type),
		detailsJSON,
		stripNULString(rec.IP),
		rec.UserID,
		rec.When,
	)
	return err
}

// Postgres text and jsonb reject NUL ("\u0000" in jsonb), so NUL runes in
// stored strings, map keys included, become U+FFFD.
func stripNUL(v any) any {
	switch t := v.(type) {
	case string:
		return stripNULString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[stripNULString(k)] = stripNUL(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[stripNULString(k)] = stripNULString(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = stripNUL(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = stripNULString(e)
		}
		return out
	default:
		return v
	}
}

func stripNULString(s string) string {
	return strings.ReplaceAll(s, "\x00", "\uFFFD")
}

// List retrieves records with optional filters and pagination, newest first.
// It also returns the total number of records matching the filter.
func (r *AuditRecordRepository) List(ctx context.Context, filter models.AuditRecordFilter, limit, offset int) ([]*models.AuditRecord, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filter.Type != "" {
		where += fmt.Sprintf(` AND type = $%d`, paramIndex)
		args = append(args, filter.Type)
		paramIndex++
	}

	if filter.UserID != "" {
		where += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		args = append(args, filter.UserID)
		paramIndex++
	}

	if filter.Start != nil {
		where += fmt.Sprintf(` AND "when" >= $%d`, paramIndex)
		args = append(args, *filter.Start)
		paramIndex++
	}

	if filter.End != nil {
		where += fmt.Sprintf(` AND "when" <= $%d`, paramIndex)
		args = append(args, *filter.End)
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, type, details, ip, user_id, "when" FROM audit_records` + where +
		fmt.Sprintf(` ORDER BY "when" DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]*models.AuditRecord, 0)
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}

	return records, total, rows.Err()
}

// Get retrieves a single record by ID, or nil when it does not exist
func (r *AuditRecordRepository) Get(ctx context.Context, id string) (*models.AuditRecord, error) {
	query := `SELECT id, type, details, ip, user_id, "when" FROM audit_records WHERE id = $1`

	rec, err := scanAuditRecord(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRecord(s rowScanner) (*models.AuditRecord, error) {
	rec := &models.AuditRecord{}
	var detailsJSON []byte

	if err := s.Scan(&rec.ID, &rec.Type, &detailsJSON, &rec.IP, &rec.UserID, &rec.When); err != nil {
		return nil, err
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}
	if rec.Details == nil {
		rec.Details = map[string]any{}
	}
	rec.When = rec.When.UTC()
	return rec, nil
}
