package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appconfig "github.com/routedesk/routedesk/internal/config"
	appstorage "github.com/routedesk/routedesk/internal/storage"
)

// ---------------------------------------------------------------------------
// New(): constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket: "",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:          "my-bucket",
		AuthMethod:      "service_account",
		CredentialsFile: "",
		CredentialsJSON: "",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_ServiceAccountWithCredentialsJSON(t *testing.T) {
	// Invalid JSON credentials → GCS client creation will fail
	cfg := &appconfig.GCSStorageConfig{
		Bucket:          "my-bucket",
		AuthMethod:      "service_account",
		CredentialsJSON: `{"type":"service_account"}`, // minimal but invalid for actual auth
	}
	// May fail with credentials error, but not a validation error
	// We just ensure the function is called and doesn't panic
	_, _ = New(cfg)
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "my-bucket",
		AuthMethod: "not-a-valid-method",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

func TestNew_ServiceAccountWithCredentialsFile(t *testing.T) {
	// Non-existent credentials file; GCS may fail at client creation or later.
	// We just ensure it follows the credentials-file code path without panicking.
	cfg := &appconfig.GCSStorageConfig{
		Bucket:          "my-bucket",
		AuthMethod:      "service_account",
		CredentialsFile: "/nonexistent/credentials.json",
	}
	_, _ = New(cfg)
}

func TestNew_NoneRequiresEndpoint(t *testing.T) {
	_, err := New(&appconfig.GCSStorageConfig{Bucket: "b", AuthMethod: "none"})
	if err == nil {
		t.Error("New() = nil error, want error for auth_method none without endpoint")
	}
}

// ---------------------------------------------------------------------------
// JSON API operations against a fake server
// ---------------------------------------------------------------------------

const objectPrefix = "/storage/v1/b/test-bucket/o/"

func newFakeGCS(t *testing.T, objects map[string]map[string]any) *GCSStorage {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, objectPrefix)
		obj, ok := objects[name]
		if !ok || !strings.HasPrefix(r.URL.Path, objectPrefix) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
			return
		}
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(obj)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.GCSStorageConfig{
		Bucket:     "test-bucket",
		AuthMethod: "none",
		Endpoint:   srv.URL + "/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGCS_GetMetadata(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newFakeGCS(t, map[string]map[string]any{
		"static/app.css": {
			"bucket":      "test-bucket",
			"name":        "static/app.css",
			"size":        "6",
			"contentType": "text/css",
			"updated":     updated.Format(time.RFC3339),
		},
	})

	meta, err := s.GetMetadata(context.Background(), "static/app.css")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if meta.Size != 6 {
		t.Errorf("Size = %d, want 6", meta.Size)
	}
	if meta.ContentType != "text/css" {
		t.Errorf("ContentType = %q", meta.ContentType)
	}
	if !meta.LastModified.Equal(updated) {
		t.Errorf("LastModified = %v, want %v", meta.LastModified, updated)
	}

	ok, err := s.Exists(context.Background(), "static/app.css")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true, nil", ok, err)
	}
}

func TestGCS_GetMetadata_NotFound(t *testing.T) {
	s := newFakeGCS(t, map[string]map[string]any{})

	_, err := s.GetMetadata(context.Background(), "missing.css")
	if !errors.Is(err, appstorage.ErrNotFound) {
		t.Errorf("GetMetadata() error = %v, want ErrNotFound", err)
	}
	ok, err := s.Exists(context.Background(), "missing.css")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false, nil", ok, err)
	}
}
