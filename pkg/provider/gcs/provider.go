package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/q99/cloudservices/pkg/provider"
)

// Client holds the minio client shared by every bucket-scoped Provider.
type Client struct {
	client  *minio.Client
	maxKeys int
}

// Provider implements provider.Provider for a single GCS bucket.
type Provider struct {
	client  *minio.Client
	bucket  string
	maxKeys int
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.ObjectGetter  = (*Provider)(nil)
	_ provider.ObjectPutter  = (*Provider)(nil)
	_ provider.ObjectDeleter = (*Provider)(nil)
)

// NewClient creates a client for the GCS XML API.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint, secure := splitEndpoint(cfg.endpoint(), !cfg.Insecure)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.region(),
	})
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderGCS, Err: err}
	}

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Client{client: client, maxKeys: maxKeys}, nil
}

// splitEndpoint strips an optional URL scheme, which minio does not accept,
// and lets the scheme decide TLS when present.
func splitEndpoint(endpoint string, secure bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimSuffix(endpoint, "/"), secure
	}
}

// Bucket returns a provider scoped to the named bucket.
func (c *Client) Bucket(name string) *Provider {
	return &Provider{client: c.client, bucket: name, maxKeys: c.maxKeys}
}

// Close releases any resources held by the client.
func (c *Client) Close() error {
	return nil
}

// Type reports the backend type.
func (c *Client) Type() provider.ProviderType { return provider.ProviderGCS }

// Open returns the bucket-scoped provider as a provider.Provider.
func (c *Client) Open(bucket string) (provider.Provider, error) {
	if bucket == "" {
		return nil, &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	return c.Bucket(bucket), nil
}

// List returns a page of objects. minio pages internally, so a page here is
// cut after MaxKeys entries and the last key becomes the start-after token.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = p.maxKeys
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := p.client.ListObjects(listCtx, p.bucket, minio.ListObjectsOptions{
		Prefix:     opts.Prefix,
		Recursive:  true,
		StartAfter: opts.ContinuationToken,
		MaxKeys:    maxKeys,
	})

	result := &provider.ListResult{}
	seen := 0
	for obj := range ch {
		if obj.Err != nil {
			return nil, p.wrapError("List", "", obj.Err)
		}
		seen++
		if !provider.IsDirectoryMarker(obj.Key, obj.Size) {
			result.Objects = append(result.Objects, provider.ObjectSummary{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         strings.Trim(obj.ETag, "\""),
				LastModified: obj.LastModified,
			})
		}
		if seen == maxKeys {
			result.IsTruncated = true
			result.ContinuationToken = obj.Key
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	info, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         info.Size,
			ETag:         strings.Trim(info.ETag, "\""),
			LastModified: info.LastModified,
		},
		ContentType: info.ContentType,
		Metadata:    info.UserMetadata,
	}, nil
}

// GetObject opens the object body as a stream.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	// GetObject is lazy; Stat forces the request so missing keys fail here.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return obj, info.Size, nil
}

// PutObject uploads an object; contentLength -1 streams a multipart upload.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	if _, err := p.client.PutObject(ctx, p.bucket, key, body, contentLength, minio.PutObjectOptions{}); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject deletes an object.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// Close is a no-op; the shared client is owned by Client.
func (p *Provider) Close() error {
	return nil
}

// wrapError converts minio error responses to provider sentinel errors.
func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderGCS,
		Bucket:   p.bucket,
		Key:      key,
		Err:      err,
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case "NoSuchBucket":
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	case "AccessDenied", "Forbidden":
		wrapped.Err = provider.ErrAccessDenied
		return wrapped
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		wrapped.Err = provider.ErrInvalidCredentials
		return wrapped
	case "SlowDown", "TooManyRequests":
		wrapped.Err = provider.ErrThrottled
		return wrapped
	case "ServiceUnavailable", "InternalError":
		wrapped.Err = provider.ErrProviderUnavailable
		return wrapped
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		wrapped.Err = provider.ErrNotFound
	case http.StatusForbidden:
		wrapped.Err = provider.ErrAccessDenied
	case http.StatusTooManyRequests:
		wrapped.Err = provider.ErrThrottled
	case http.StatusServiceUnavailable:
		wrapped.Err = provider.ErrProviderUnavailable
	}
	return wrapped
}
