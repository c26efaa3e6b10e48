package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/q99/cloudservices/pkg/provider"
)

// Engine runs discovery passes against one bucket-scoped provider.
//
// An Engine holds no per-pass state, so concurrent Discover calls are safe
// as long as the provider is.
type Engine struct {
	provider  provider.Provider
	scheme    provider.ProviderType
	logger    *zap.Logger
	chunkSize int
	pageSize  int
	limiter   *rate.Limiter
	metrics   *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithChunkSize sets the digest read buffer size.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithPageSize sets the listing page size. Zero uses the provider default.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithRateLimit caps listing page requests per second. Zero is unlimited.
func WithRateLimit(rps float64) Option {
	return func(e *Engine) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithMetrics records pass statistics on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine over p. scheme is used to build identifiers.
func New(p provider.Provider, scheme provider.ProviderType, opts ...Option) *Engine {
	e := &Engine{
		provider:  p,
		scheme:    scheme,
		logger:    zap.NewNop(),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover runs one pass and returns the newly discovered identifiers.
//
// A listing failure or context cancellation aborts the pass and no partial
// result is returned. A failure to digest a single object only skips that
// object; it is reported in Result.Skipped.
func (e *Engine) Discover(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var digester *Digester
	if req.UseContentDedup {
		getter, ok := e.provider.(provider.ObjectGetter)
		if !ok {
			return nil, &provider.ProviderError{Op: "Discover", Provider: e.scheme, Bucket: req.Bucket, Err: provider.ErrNotSupported}
		}
		digester = NewDigester(getter, e.chunkSize)
	}

	start := time.Now()
	runID := uuid.New().String()
	log := e.logger.With(
		zap.String("run_id", runID),
		zap.String("provider", e.scheme.String()),
		zap.String("bucket", req.Bucket),
		zap.String("prefix", req.Prefix),
	)
	log.Debug("discovery pass starting",
		zap.Int("ingested", req.Ingested.Len()),
		zap.Time("watermark", req.Watermark),
		zap.Int64("max_size_bytes", req.maxSize()),
		zap.Bool("content_dedup", req.UseContentDedup),
	)

	result, err := e.run(ctx, req, newPipeline(req, digester), runID, log)
	if err != nil {
		e.metrics.observeFailure(e.scheme.String(), time.Since(start))
		log.Warn("discovery pass failed", zap.Error(err))
		return nil, err
	}
	result.Stats.Duration = time.Since(start)
	e.metrics.observe(e.scheme.String(), result.Stats)

	log.Info("discovery pass complete",
		zap.Int64("pages", result.Stats.Pages),
		zap.Int64("listed", result.Stats.Listed),
		zap.Int64("accepted", result.Stats.Accepted),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("duration", result.Stats.Duration),
	)
	return result, nil
}

func (e *Engine) run(ctx context.Context, req Request, pl *pipeline, runID string, log *zap.Logger) (*Result, error) {
	result := &Result{
		RunID:       runID,
		Identifiers: []string{},
		Stats:       Stats{Rejected: make(map[Reason]int64)},
	}

	var token string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		page, err := e.provider.List(ctx, provider.ListOptions{
			Prefix:            req.Prefix,
			ContinuationToken: token,
			MaxKeys:           e.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", result.Stats.Pages+1, err)
		}
		result.Stats.Pages++

		for _, obj := range page.Objects {
			d := Descriptor{
				Identifier:   e.scheme.Identifier(req.Bucket, obj.Key),
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
			}
			result.Stats.Listed++

			v, err := pl.evaluate(ctx, d)
			if err != nil {
				return nil, err
			}
			result.Stats.DigestedBytes += v.digestedBytes

			if !v.accepted() {
				result.Stats.Rejected[v.reason]++
				if v.reason == ReasonDigestFailed {
					log.Warn("digest failed, skipping object",
						zap.String("identifier", d.Identifier),
						zap.Error(v.err),
					)
					result.Skipped = append(result.Skipped, Skipped{Identifier: d.Identifier, Reason: v.reason, Err: v.err})
				}
				continue
			}

			result.Identifiers = append(result.Identifiers, d.Identifier)
			result.Stats.Accepted++
			if d.LastModified.After(result.MaxLastModified) {
				result.MaxLastModified = d.LastModified
			}
		}

		if !page.IsTruncated || page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}

	return result, nil
}
