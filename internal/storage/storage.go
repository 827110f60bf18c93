// Package storage defines the Storage interface shared by the object storage
// backends. routedesk uses a backend for two things: serving the static root
// and holding audit archive segments.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Storage.MyBackend)
//	    })
//	}
//
// cmd/server blank-imports each backend so the registrations run.
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"time"
)

// ErrNotFound is returned (wrapped) by Download and GetMetadata when no
// object exists at the requested path.
var ErrNotFound = errors.New("object not found")

// Storage is implemented by every backend.
type Storage interface {
	// Upload stores reader at path, replacing any existing object.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object at path. The caller closes the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata returns size, content type and modification time without
	// reading the object body.
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path string
	Size int64

	// Checksum is the hex SHA256 of the stored bytes
	Checksum string
}

// FileMetadata describes a stored object
type FileMetadata struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ContentType guesses a MIME type from the extension of p, falling back to
// application/octet-stream.
func ContentType(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
