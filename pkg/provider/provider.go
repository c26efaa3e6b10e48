// Package provider defines abstractions for cloud object storage operations.
//
// A Provider is scoped to a single bucket (or Azure container) and exposes
// paginated listing plus metadata lookup. Transfer operations are optional
// capabilities detected by type assertion (see capabilities.go). Backends
// live in sub-packages (s3, azure, gcs, file) and map their native SDK
// primitives onto these types.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider abstracts bucket-scoped listing operations.
//
// Implementations should:
//   - Support pagination via continuation tokens
//   - Omit nothing from a page except what the backend itself hides
//   - Be safe for concurrent use
type Provider interface {
	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the object summaries for this page.
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag as reported by the backend. Not a content
	// hash in general (multipart uploads, Azure).
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head operations.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies a storage backend. It is also the scheme used
// in object identifiers (s3://bucket/key).
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderAzure represents Azure Blob storage.
	ProviderAzure ProviderType = "azure"

	// ProviderGCS represents Google Cloud Storage accessed through its
	// S3-interoperable XML API.
	ProviderGCS ProviderType = "gcs"

	// ProviderFile represents a local directory.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// Identifier builds the scheme-qualified identifier for a key,
// e.g. s3://bucket/path/to/key.
func (p ProviderType) Identifier(bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", p, bucket, strings.TrimPrefix(key, "/"))
}

// IsDirectoryMarker reports whether a listing entry is a zero-byte
// directory placeholder rather than a file.
func IsDirectoryMarker(key string, size int64) bool {
	return size == 0 && strings.HasSuffix(key, "/")
}
