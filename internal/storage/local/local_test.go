package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/routedesk/routedesk/internal/config"
	"github.com/routedesk/routedesk/internal/storage"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func upload(t *testing.T, s *LocalStorage, path, content string) *storage.UploadResult {
	t.Helper()
	res, err := s.Upload(context.Background(), path, strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload(%q) error: %v", path, err)
	}
	return res
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	if _, err := New(&config.LocalStorageConfig{BasePath: dir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Errorf("base path %s was not created", dir)
	}
}

func TestNew_EmptyBasePath(t *testing.T) {
	if _, err := New(&config.LocalStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for empty base_path")
	}
}

func TestUpload(t *testing.T) {
	s := newTestStorage(t)
	res := upload(t, s, "static/css/app.css", "body{}")

	if res.Path != "static/css/app.css" {
		t.Errorf("Path = %q", res.Path)
	}
	if res.Size != 6 {
		t.Errorf("Size = %d, want 6", res.Size)
	}
	sum := sha256.Sum256([]byte("body{}"))
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum = %q", res.Checksum)
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "static", "css", "app.css")); err != nil {
		t.Errorf("file not written: %v", err)
	}
}

func TestUpload_Overwrites(t *testing.T) {
	s := newTestStorage(t)
	upload(t, s, "a.txt", "first")
	upload(t, s, "a.txt", "second")

	rc, err := s.Download(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}
}

func TestUpload_NoTempFilesLeft(t *testing.T) {
	s := newTestStorage(t)
	upload(t, s, "dir/a.txt", "x")

	entries, err := os.ReadDir(filepath.Join(s.basePath, "dir"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.txt" {
		t.Errorf("dir entries = %v, want only a.txt", entries)
	}
}

func TestPathEscape(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{"../outside.txt", "a/../../outside.txt", "", "."} {
		t.Run(p, func(t *testing.T) {
			_, err := s.Upload(ctx, p, bytes.NewReader(nil), 0)
			if !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Upload(%q) error = %v, want ErrInvalidPath", p, err)
			}
			_, err = s.Download(ctx, p)
			if !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Download(%q) error = %v, want ErrInvalidPath", p, err)
			}
		})
	}
}

func TestDownload(t *testing.T) {
	s := newTestStorage(t)
	upload(t, s, "static/index.html", "<html></html>")

	rc, err := s.Download(context.Background(), "static/index.html")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "<html></html>" {
		t.Errorf("content = %q", got)
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Download(context.Background(), "missing.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestDownload_Directory(t *testing.T) {
	s := newTestStorage(t)
	upload(t, s, "static/a.txt", "x")

	_, err := s.Download(context.Background(), "static")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download(dir) error = %v, want ErrNotFound", err)
	}
}

func TestExists(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	upload(t, s, "static/a.txt", "x")

	tests := []struct {
		path string
		want bool
	}{
		{"static/a.txt", true},
		{"static/b.txt", false},
		{"static", false},
	}
	for _, tt := range tests {
		got, err := s.Exists(ctx, tt.path)
		if err != nil {
			t.Errorf("Exists(%q) error: %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("Exists(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestGetMetadata(t *testing.T) {
	s := newTestStorage(t)
	upload(t, s, "static/app.css", "body{}")

	meta, err := s.GetMetadata(context.Background(), "static/app.css")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if meta.Size != 6 {
		t.Errorf("Size = %d, want 6", meta.Size)
	}
	if meta.ContentType != "text/css; charset=utf-8" {
		t.Errorf("ContentType = %q", meta.ContentType)
	}
	if meta.LastModified.IsZero() {
		t.Error("LastModified is zero")
	}
}

func TestGetMetadata_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetMetadata(context.Background(), "missing.css")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetMetadata() error = %v, want ErrNotFound", err)
	}
}
