// audit.go implements read access to persisted audit records.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/db/models"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

// RecordReader is the read side of audit.RecordStore.
type RecordReader interface {
	List(ctx context.Context, filter models.AuditRecordFilter, limit, offset int) ([]*models.AuditRecord, int, error)
	Get(ctx context.Context, id string) (*models.AuditRecord, error)
}

// AuditHandlers serves /api/v1/audit/records
type AuditHandlers struct {
	store RecordReader
}

func NewAuditHandlers(store RecordReader) *AuditHandlers {
	return &AuditHandlers{store: store}
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		validationError(c, name, name+" must be an RFC3339 timestamp")
		return nil, false
	}
	return &t, true
}

// presentRecord optionally restores the original parameter names of a REST
// request record. The stored record is not modified.
func presentRecord(rec *models.AuditRecord, decodeKeys bool) *models.AuditRecord {
	if !decodeKeys || rec.Type != string(audit.KindRESTRequest) {
		return rec
	}
	params, ok := rec.Details["params"].(map[string]any)
	if !ok {
		return rec
	}
	out := *rec
	out.Details = make(map[string]any, len(rec.Details))
	for k, v := range rec.Details {
		out.Details[k] = v
	}
	out.Details["params"] = audit.UnescapeParams(params)
	return &out
}

// @Summary      List audit records
// @Description  Lists audit records, newest first. Requires audit:read scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        type         query  string  false  "Event kind, e.g. rest.request"
// @Param        user_id      query  string  false  "User ID"
// @Param        start        query  string  false  "RFC3339 lower bound on when"
// @Param        end          query  string  false  "RFC3339 upper bound on when"
// @Param        limit        query  int     false  "Page size (default 50, max 500)"
// @Param        offset       query  int     false  "Records to skip"
// @Param        decode_keys  query  bool    false  "Restore original REST parameter names"
// @Success      200  {object}  map[string]interface{}  "records, pagination"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      403  {object}  map[string]interface{}  "Missing audit:read scope"
// @Router       /api/v1/audit/records [get]
// ListHandler lists audit records
// GET /api/v1/audit/records
func (h *AuditHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRecordLimit)))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit < 1 || limit > maxRecordLimit {
			limit = defaultRecordLimit
		}
		if offset < 0 {
			offset = 0
		}

		filter := models.AuditRecordFilter{
			Type:   c.Query("type"),
			UserID: c.Query("user_id"),
		}
		if filter.UserID != "" {
			if _, err := uuid.Parse(filter.UserID); err != nil {
				validationError(c, "user_id", "user_id must be a UUID")
				return
			}
		}
		var ok bool
		if filter.Start, ok = parseTimeParam(c, "start"); !ok {
			return
		}
		if filter.End, ok = parseTimeParam(c, "end"); !ok {
			return
		}

		records, total, err := h.store.List(c.Request.Context(), filter, limit, offset)
		if err != nil {
			slog.Error("failed to list audit records", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit records"})
			return
		}

		decode := c.Query("decode_keys") == "true"
		out := make([]*models.AuditRecord, len(records))
		for i, rec := range records {
			out[i] = presentRecord(rec, decode)
		}

		c.JSON(http.StatusOK, gin.H{
			"records": out,
			"pagination": gin.H{
				"limit":  limit,
				"offset": offset,
				"total":  total,
			},
		})
	}
}

// @Summary      Get audit record
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Record ID"
// @Success      200  {object}  models.AuditRecord
// @Failure      404  {object}  map[string]interface{}  "Audit record not found"
// @Router       /api/v1/audit/records/{id} [get]
// GetHandler returns one audit record
// GET /api/v1/audit/records/:id
func (h *AuditHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := uuid.Parse(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit record not found"})
			return
		}

		rec, err := h.store.Get(c.Request.Context(), id)
		if err != nil {
			slog.Error("failed to get audit record", "id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit record"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit record not found"})
			return
		}

		c.JSON(http.StatusOK, presentRecord(rec, c.Query("decode_keys") == "true"))
	}
}
