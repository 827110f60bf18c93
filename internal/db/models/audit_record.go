// Package models - audit_record.go defines the AuditRecord persisted by the audit
// sink, and the filter used to page through stored records.
package models

import "time"

// AuditRecord is one write-once audit entry. Records are never updated or deleted.
type AuditRecord struct {
	ID      string         `db:"id" json:"id" bson:"_id"`
	Type    string         `db:"type" json:"type" bson:"type"`       // event kind, e.g. "rest.request"
	Details map[string]any `db:"details" json:"details" bson:"details"`
	IP      string         `db:"ip" json:"ip" bson:"ip"`
	UserID  *string        `db:"user_id" json:"userId" bson:"userId"` // nil when anonymous
	When    time.Time      `db:"when" json:"when" bson:"when"`
}

// AuditRecordFilter narrows a record listing. Zero-valued fields are ignored.
type AuditRecordFilter struct {
	Type   string
	UserID string
	Start  *time.Time
	End    *time.Time
}
