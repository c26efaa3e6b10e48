// Package storage provides the uniform storage service used by every cloud
// backend.
//
// A Backend only knows how to open bucket-scoped providers. The single
// Service implementation in this package layers transfers, directory
// downloads and discovery on top of them, so none of that logic is
// repeated per cloud.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/preflight"
	"github.com/q99/cloudservices/pkg/provider"
)

// Backend opens bucket-scoped providers that share one transport.
type Backend interface {
	Type() provider.ProviderType
	Open(bucket string) (provider.Provider, error)
	Close() error
}

// Service is the capability set exposed for every cloud.
type Service interface {
	// GetFile opens an object for reading. The caller closes the stream.
	GetFile(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// UploadFile uploads the file at localPath.
	UploadFile(ctx context.Context, localPath, bucket, key string) error

	// UploadStream uploads r without knowing its size in advance.
	UploadStream(ctx context.Context, r io.Reader, bucket, key string) error

	// DeleteFile removes an object.
	DeleteFile(ctx context.Context, bucket, key string) error

	// DownloadStream copies an object into w and returns the bytes written.
	DownloadStream(ctx context.Context, bucket, key string, w io.Writer) (int64, error)

	// DownloadAll mirrors every object under prefix into localDir.
	DownloadAll(ctx context.Context, bucket, localDir, prefix string, opts DownloadOptions) (*DownloadSummary, error)

	// Discover runs an incremental discovery pass.
	Discover(ctx context.Context, req discovery.Request) (*discovery.Result, error)

	// Preflight checks which operations bucket permits under prefix.
	Preflight(ctx context.Context, bucket, prefix string, mode preflight.Mode) (*preflight.Report, error)

	Type() provider.ProviderType
	Close() error
}

// Options configures a Service.
type Options struct {
	Logger *zap.Logger

	// Discovery options applied to every engine the service creates.
	Discovery []discovery.Option
}

type service struct {
	backend       Backend
	logger        *zap.Logger
	discoveryOpts []discovery.Option
}

var _ Service = (*service)(nil)

// New returns the Service for backend.
func New(backend Backend, opts Options) Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", backend.Type().String()))
	return &service{
		backend:       backend,
		logger:        logger,
		discoveryOpts: append([]discovery.Option{discovery.WithLogger(logger)}, opts.Discovery...),
	}
}

func (s *service) Type() provider.ProviderType { return s.backend.Type() }

func (s *service) Close() error { return s.backend.Close() }

func (s *service) GetFile(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	p, getter, err := s.getter(bucket, "GetFile")
	if err != nil {
		return nil, err
	}
	body, _, err := getter.GetObject(ctx, key)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return &providerBody{ReadCloser: body, provider: p}, nil
}

// providerBody closes the provider that produced the stream along with it.
type providerBody struct {
	io.ReadCloser
	provider provider.Provider
}

func (b *providerBody) Close() error {
	err := b.ReadCloser.Close()
	if perr := b.provider.Close(); err == nil {
		err = perr
	}
	return err
}

func (s *service) UploadFile(ctx context.Context, localPath, bucket, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}

	p, putter, err := s.putter(bucket, "UploadFile")
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	if err := putter.PutObject(ctx, key, f, st.Size()); err != nil {
		return err
	}
	s.logger.Debug("uploaded file",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("bytes", st.Size()),
	)
	return nil
}

func (s *service) UploadStream(ctx context.Context, r io.Reader, bucket, key string) error {
	p, putter, err := s.putter(bucket, "UploadStream")
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	return putter.PutObject(ctx, key, r, -1)
}

func (s *service) DeleteFile(ctx context.Context, bucket, key string) error {
	p, err := s.backend.Open(bucket)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	deleter, ok := p.(provider.ObjectDeleter)
	if !ok {
		return s.unsupported("DeleteFile", bucket)
	}
	return deleter.DeleteObject(ctx, key)
}

func (s *service) DownloadStream(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	body, err := s.GetFile(ctx, bucket, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()
	return io.Copy(w, body)
}

func (s *service) Discover(ctx context.Context, req discovery.Request) (*discovery.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.backend.Open(req.Bucket)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()
	return discovery.New(p, s.backend.Type(), s.discoveryOpts...).Discover(ctx, req)
}

func (s *service) Preflight(ctx context.Context, bucket, prefix string, mode preflight.Mode) (*preflight.Report, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", discovery.ErrInvalidRequest)
	}
	p, err := s.backend.Open(bucket)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()
	rep, err := preflight.Run(ctx, p, s.backend.Type(), bucket, prefix, mode)
	s.logger.Debug("preflight finished",
		zap.String("bucket", bucket),
		zap.String("mode", string(mode)),
		zap.Bool("ok", err == nil),
	)
	return rep, err
}

// getter opens bucket and returns the provider with its read capability.
// The caller closes the provider; it is already closed when err is set.
func (s *service) getter(bucket, op string) (provider.Provider, provider.ObjectGetter, error) {
	p, err := s.backend.Open(bucket)
	if err != nil {
		return nil, nil, err
	}
	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		_ = p.Close()
		return nil, nil, s.unsupported(op, bucket)
	}
	return p, getter, nil
}

// putter is getter for the write capability.
func (s *service) putter(bucket, op string) (provider.Provider, provider.ObjectPutter, error) {
	p, err := s.backend.Open(bucket)
	if err != nil {
		return nil, nil, err
	}
	putter, ok := p.(provider.ObjectPutter)
	if !ok {
		_ = p.Close()
		return nil, nil, s.unsupported(op, bucket)
	}
	return p, putter, nil
}

func (s *service) unsupported(op, bucket string) error {
	return &provider.ProviderError{Op: op, Provider: s.backend.Type(), Bucket: bucket, Err: provider.ErrNotSupported}
}
