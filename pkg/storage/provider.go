// Package storage defines the blob storage capability used to offload large log payloads.
//
// Callers code against Provider only. Implementations:
//   - s3.Provider: AWS S3 or any S3-compatible service (MinIO)
//   - local.Provider: a directory on the local filesystem
//
// All Provider implementations must be safe for concurrent use and must not keep
// per-request state between calls.
package storage

import (
	"context"
	"time"

	"github.com/dukex/nodelog/pkg/models"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"

	// DefaultMaxKeys caps a single List page.
	DefaultMaxKeys = 1000
)

type Provider interface {
	// Backend identifies the implementation recorded in storage pointers.
	Backend() models.StorageBackend

	// Upload stores data at key. Strings and []byte are stored as-is, any other
	// value is encoded as JSON.
	Upload(ctx context.Context, key string, data any, opts *UploadOptions) (*UploadResult, error)

	// Download returns the stored value, decoding JSON content back into a
	// structured value. Returns ErrNotFound when the key does not exist.
	Download(ctx context.Context, key string, opts *DownloadOptions) (*DownloadResult, error)

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes every key and reports one result per key.
	DeleteMany(ctx context.Context, keys []string) []DeleteResult

	Exists(ctx context.Context, key string) bool

	// GetMetadata returns ErrNotFound when the key does not exist.
	GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error)

	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// SignedURL returns a time-limited URL for out-of-band access to key.
	SignedURL(ctx context.Context, key string, expires time.Duration) (string, error)

	// HealthCheck is a cheap, non-mutating probe of the backend.
	HealthCheck(ctx context.Context) error
}

type UploadOptions struct {
	ContentType    string
	CustomMetadata map[string]string
}

type UploadResult struct {
	Key  string
	Size int64
	ETag string
}

type DownloadOptions struct {
	// Raw skips JSON decoding and returns the stored bytes as a string.
	Raw bool
}

type DownloadResult struct {
	Data        any
	Size        int64
	ContentType string
}

type DeleteResult struct {
	Key string
	Err error
}

type ObjectMetadata struct {
	Key            string            `json:"key"`
	Size           int64             `json:"size"`
	ContentType    string            `json:"content_type"`
	ETag           string            `json:"etag,omitempty"`
	LastModified   time.Time         `json:"last_modified"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

type ListOptions struct {
	Prefix            string
	MaxKeys           int
	ContinuationToken string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

type ListResult struct {
	Objects           []ObjectInfo
	IsTruncated       bool
	ContinuationToken string
}

// FailedDeletes returns the results that carry an error.
func FailedDeletes(results []DeleteResult) []DeleteResult {
	var failed []DeleteResult

	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}

	return failed
}
