// Package models - setting.go defines the persisted system Setting.
package models

import (
	"encoding/json"
	"time"
)

// Setting is a single stored system setting. Value holds the JSON encoding of
// the validated value; keys without a row fall back to their registered default.
type Setting struct {
	Key       string          `db:"key" json:"key"`
	Value     json.RawMessage `db:"value" json:"value"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
	UpdatedBy *string         `db:"updated_by" json:"updated_by,omitempty"`
}
