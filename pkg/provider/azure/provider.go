package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/q99/cloudservices/pkg/provider"
)

// Client holds the SDK client shared by every container-scoped Provider.
type Client struct {
	client     *azblob.Client
	maxResults int
}

// Provider implements provider.Provider for a single blob container.
type Provider struct {
	client     *azblob.Client
	container  string
	maxResults int
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.ObjectGetter  = (*Provider)(nil)
	_ provider.ObjectPutter  = (*Provider)(nil)
	_ provider.ObjectDeleter = (*Provider)(nil)
)

// NewClient creates an Azure Blob client from a connection string.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderAzure, Err: err}
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	return &Client{client: client, maxResults: maxResults}, nil
}

// Container returns a provider scoped to the named container.
func (c *Client) Container(name string) *Provider {
	return &Provider{client: c.client, container: name, maxResults: c.maxResults}
}

// Close releases any resources held by the client.
func (c *Client) Close() error {
	return nil
}

// Type reports the backend type.
func (c *Client) Type() provider.ProviderType { return provider.ProviderAzure }

// Open returns the container-scoped provider as a provider.Provider.
func (c *Client) Open(container string) (provider.Provider, error) {
	if container == "" {
		return nil, &ConfigError{Field: "Container", Message: "container name is required"}
	}
	return c.Container(container), nil
}

// List returns one page of the flat blob listing. The service marker is
// used as the continuation token.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxResults := opts.MaxKeys
	if maxResults <= 0 || maxResults > DefaultMaxResults {
		maxResults = p.maxResults
	}
	pageSize := int32(maxResults)

	listOpts := &azblob.ListBlobsFlatOptions{MaxResults: &pageSize}
	if opts.Prefix != "" {
		prefix := opts.Prefix
		listOpts.Prefix = &prefix
	}
	if opts.ContinuationToken != "" {
		marker := opts.ContinuationToken
		listOpts.Marker = &marker
	}

	pager := p.client.NewListBlobsFlatPager(p.container, listOpts)
	if !pager.More() {
		return &provider.ListResult{}, nil
	}

	page, err := pager.NextPage(ctx)
	if err != nil {
		return nil, p.wrapError("List", "", err)
	}

	result := &provider.ListResult{}
	if page.Segment != nil {
		result.Objects = make([]provider.ObjectSummary, 0, len(page.Segment.BlobItems))
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			obj := provider.ObjectSummary{Key: *item.Name}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					obj.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					obj.LastModified = *props.LastModified
				}
				if props.ETag != nil {
					obj.ETag = strings.Trim(string(*props.ETag), "\"")
				}
			}
			if provider.IsDirectoryMarker(obj.Key, obj.Size) {
				continue
			}
			result.Objects = append(result.Objects, obj)
		}
	}

	if page.NextMarker != nil && *page.NextMarker != "" {
		result.ContinuationToken = *page.NextMarker
		result.IsTruncated = true
	}

	return result, nil
}

// Head returns metadata for a single blob.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	blobClient := p.client.ServiceClient().NewContainerClient(p.container).NewBlobClient(key)
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}

	meta := &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{Key: key}}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		meta.ETag = strings.Trim(string(*props.ETag), "\"")
	}
	if props.ContentType != nil {
		meta.ContentType = *props.ContentType
	}
	if len(props.Metadata) > 0 {
		meta.Metadata = make(map[string]string, len(props.Metadata))
		for k, v := range props.Metadata {
			if v != nil {
				meta.Metadata[k] = *v
			}
		}
	}
	return meta, nil
}

// GetObject opens the blob body as a stream.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	resp, err := p.client.DownloadStream(ctx, p.container, key, nil)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	var n int64
	if resp.ContentLength != nil {
		n = *resp.ContentLength
	}
	return resp.Body, n, nil
}

// PutObject uploads a blob as a stream of block-sized buffers, so the
// content length is not needed.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = contentLength
	if _, err := p.client.UploadStream(ctx, p.container, key, body, nil); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject deletes a blob.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if _, err := p.client.DeleteBlob(ctx, p.container, key, nil); err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// Close is a no-op; the shared client is owned by Client.
func (p *Provider) Close() error {
	return nil
}

// wrapError converts Azure errors to provider errors with sentinel errors.
func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderAzure,
		Bucket:   p.container,
		Key:      key,
		Err:      err,
	}

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound):
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.AuthorizationPermissionMismatch, bloberror.InsufficientAccountPermissions):
		wrapped.Err = provider.ErrAccessDenied
		return wrapped
	case bloberror.HasCode(err, bloberror.AuthenticationFailed):
		wrapped.Err = provider.ErrInvalidCredentials
		return wrapped
	case bloberror.HasCode(err, bloberror.ServerBusy):
		wrapped.Err = provider.ErrThrottled
		return wrapped
	case bloberror.HasCode(err, bloberror.InternalError, bloberror.OperationTimedOut):
		wrapped.Err = provider.ErrProviderUnavailable
		return wrapped
	}

	// Fall back to the HTTP status when the service gave no error code.
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			wrapped.Err = provider.ErrNotFound
		case http.StatusForbidden:
			wrapped.Err = provider.ErrAccessDenied
		case http.StatusUnauthorized:
			wrapped.Err = provider.ErrInvalidCredentials
		case http.StatusTooManyRequests:
			wrapped.Err = provider.ErrThrottled
		case http.StatusServiceUnavailable, http.StatusInternalServerError:
			wrapped.Err = provider.ErrProviderUnavailable
		}
	}

	return wrapped
}
