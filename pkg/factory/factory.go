// Package factory resolves a (cloud, capability) pair to a configured
// service instance.
//
// Configuration is passed explicitly through Config; nothing here reads
// the process environment. Storage is registered for every cloud. The
// logging capability is modelled but has no default implementation, so
// resolving it yields a *ConfigurationError until one is registered.
package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/provider/azure"
	"github.com/q99/cloudservices/pkg/provider/file"
	"github.com/q99/cloudservices/pkg/provider/gcs"
	"github.com/q99/cloudservices/pkg/provider/s3"
	"github.com/q99/cloudservices/pkg/storage"
)

// Cloud identifies a cloud vendor.
type Cloud string

const (
	AWS   Cloud = "aws"
	Azure Cloud = "azure"
	GCP   Cloud = "gcp"
	Local Cloud = "local"
)

// Clouds lists every known cloud.
var Clouds = []Cloud{AWS, Azure, GCP, Local}

// Capability identifies a service kind offered by a cloud.
type Capability string

const (
	Storage Capability = "storage"
	Logging Capability = "logging"
)

// ParseCloud parses a cloud name, case-insensitively.
func ParseCloud(s string) (Cloud, error) {
	c := Cloud(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Clouds {
		if c == known {
			return c, nil
		}
	}
	return "", &ConfigurationError{Cloud: Cloud(s), Err: fmt.Errorf("%w: unknown cloud", ErrUnsupported)}
}

// ParseCapability parses a capability name, case-insensitively.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case Storage, Logging:
		return c, nil
	}
	return "", &ConfigurationError{Capability: Capability(s), Err: fmt.Errorf("%w: unknown capability", ErrUnsupported)}
}

// ErrUnsupported is wrapped by ConfigurationError when no implementation is
// registered for the requested pair.
var ErrUnsupported = errors.New("unsupported cloud/capability")

// ConfigurationError reports a pair that cannot be resolved or a backend
// whose configuration is invalid. It is never retryable.
type ConfigurationError struct {
	Cloud      Cloud
	Capability Capability
	Err        error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Cloud != "" && e.Capability != "":
		return fmt.Sprintf("configuration error: %s/%s: %v", e.Cloud, e.Capability, e.Err)
	case e.Cloud != "":
		return fmt.Sprintf("configuration error: cloud %q: %v", e.Cloud, e.Err)
	case e.Capability != "":
		return fmt.Sprintf("configuration error: capability %q: %v", e.Capability, e.Err)
	}
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config carries every recognized option for all clouds.
type Config struct {
	AWS       s3.Config
	Azure     azure.Config
	GCP       gcs.Config
	Local     file.Config
	Discovery DiscoveryConfig
}

// DiscoveryConfig tunes discovery engines created by storage services.
type DiscoveryConfig struct {
	ChunkSize int
	PageSize  int
	RateLimit float64
}

// Deps are shared collaborators handed to constructors.
type Deps struct {
	Logger  *zap.Logger
	Metrics *discovery.Metrics
}

// Constructor builds the service for one (cloud, capability) pair.
type Constructor func(ctx context.Context, cfg Config, deps Deps) (any, error)

type key struct {
	cloud      Cloud
	capability Capability
}

// Registry maps (cloud, capability) pairs to constructors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	cfg   Config
	deps  Deps
	ctors map[key]Constructor
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger handed to constructors.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.deps.Logger = l
		}
	}
}

// WithMetrics sets the discovery metrics handed to constructors.
func WithMetrics(m *discovery.Metrics) Option {
	return func(r *Registry) { r.deps.Metrics = m }
}

// NewRegistry returns a registry with storage registered for every cloud.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:   cfg,
		deps:  Deps{Logger: zap.NewNop()},
		ctors: make(map[key]Constructor),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Register(AWS, Storage, newAWSStorage)
	r.Register(Azure, Storage, newAzureStorage)
	r.Register(GCP, Storage, newGCPStorage)
	r.Register(Local, Storage, newLocalStorage)
	return r
}

// Register installs or replaces the constructor for a pair.
func (r *Registry) Register(cloud Cloud, capability Capability, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[key{cloud, capability}] = ctor
}

// Resolve builds the service for a pair.
func (r *Registry) Resolve(ctx context.Context, cloud Cloud, capability Capability) (any, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[key{cloud, capability}]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Cloud: cloud, Capability: capability, Err: ErrUnsupported}
	}

	svc, err := ctor(ctx, r.cfg, r.deps)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &ConfigurationError{Cloud: cloud, Capability: capability, Err: err}
	}
	return svc, nil
}

// Storage resolves the storage service for cloud.
func (r *Registry) Storage(ctx context.Context, cloud Cloud) (storage.Service, error) {
	svc, err := r.Resolve(ctx, cloud, Storage)
	if err != nil {
		return nil, err
	}
	s, ok := svc.(storage.Service)
	if !ok {
		return nil, &ConfigurationError{Cloud: cloud, Capability: Storage, Err: fmt.Errorf("constructor returned %T", svc)}
	}
	return s, nil
}

func storageOptions(cfg Config, deps Deps) storage.Options {
	return storage.Options{
		Logger: deps.Logger,
		Discovery: []discovery.Option{
			discovery.WithChunkSize(cfg.Discovery.ChunkSize),
			discovery.WithPageSize(cfg.Discovery.PageSize),
			discovery.WithRateLimit(cfg.Discovery.RateLimit),
			discovery.WithMetrics(deps.Metrics),
		},
	}
}

func newAWSStorage(ctx context.Context, cfg Config, deps Deps) (any, error) {
	client, err := s3.NewClient(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return storage.New(client, storageOptions(cfg, deps)), nil
}

func newAzureStorage(_ context.Context, cfg Config, deps Deps) (any, error) {
	client, err := azure.NewClient(cfg.Azure)
	if err != nil {
		return nil, err
	}
	return storage.New(client, storageOptions(cfg, deps)), nil
}

func newGCPStorage(_ context.Context, cfg Config, deps Deps) (any, error) {
	client, err := gcs.NewClient(cfg.GCP)
	if err != nil {
		return nil, err
	}
	return storage.New(client, storageOptions(cfg, deps)), nil
}

func newLocalStorage(_ context.Context, cfg Config, deps Deps) (any, error) {
	client, err := file.NewClient(cfg.Local)
	if err != nil {
		return nil, err
	}
	return storage.New(client, storageOptions(cfg, deps)), nil
}
