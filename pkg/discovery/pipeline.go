package discovery

import (
	"context"
	"time"

	"github.com/q99/cloudservices/pkg/provider"
)

// verdict is the filter chain's decision for one descriptor.
type verdict struct {
	// reason is empty when the descriptor was accepted.
	reason Reason

	// err is set when reason is ReasonDigestFailed.
	err error

	digestedBytes int64
}

func (v verdict) accepted() bool { return v.reason == "" }

// pipeline evaluates descriptors for a single pass. The seen-content set
// lives here, so a pipeline must not be shared between passes.
type pipeline struct {
	ingested    IdentifierSet
	emitted     IdentifierSet
	watermark   time.Time
	maxSize     int64
	digester    *Digester
	seenContent map[string]struct{}
}

func newPipeline(req Request, digester *Digester) *pipeline {
	p := &pipeline{
		ingested:  req.Ingested,
		emitted:   make(IdentifierSet),
		watermark: req.Watermark,
		maxSize:   req.maxSize(),
	}
	if req.UseContentDedup {
		p.digester = digester
		p.seenContent = make(map[string]struct{})
	}
	return p
}

// evaluate runs the filter chain in order, cheapest first. The returned
// error is non-nil only when the pass itself must stop.
func (p *pipeline) evaluate(ctx context.Context, d Descriptor) (verdict, error) {
	if provider.IsDirectoryMarker(d.Key, d.Size) {
		return verdict{reason: ReasonDirectoryMarker}, nil
	}
	// A listing that repeats a key must not yield it twice.
	if p.ingested.Has(d.Identifier) || p.emitted.Has(d.Identifier) {
		return verdict{reason: ReasonAlreadyIngested}, nil
	}
	if !p.watermark.IsZero() && !d.LastModified.After(p.watermark) {
		return verdict{reason: ReasonWatermark}, nil
	}
	if d.Size > p.maxSize {
		return verdict{reason: ReasonSizeCeiling}, nil
	}
	if p.digester == nil {
		p.emitted.Add(d.Identifier)
		return verdict{}, nil
	}

	sum, n, err := p.digester.Digest(ctx, d.Key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return verdict{}, ctxErr
		}
		return verdict{reason: ReasonDigestFailed, err: err, digestedBytes: n}, nil
	}
	if _, dup := p.seenContent[sum]; dup {
		return verdict{reason: ReasonDuplicateContent, digestedBytes: n}, nil
	}
	p.seenContent[sum] = struct{}{}
	p.emitted.Add(d.Identifier)
	return verdict{digestedBytes: n}, nil
}
