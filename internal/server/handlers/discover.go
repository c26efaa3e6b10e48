package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/q99/cloudservices/internal/errors"
	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/ledger"
	"github.com/q99/cloudservices/pkg/output"
	"github.com/q99/cloudservices/pkg/storage"
)

// maxDiscoverBody bounds the request body; ingested lists can be large.
const maxDiscoverBody = 64 << 20

// StorageResolver builds a storage service for a cloud.
type StorageResolver interface {
	Storage(ctx context.Context, cloud factory.Cloud) (storage.Service, error)
}

// Ledger supplies and records incremental state.
type Ledger interface {
	Apply(ctx context.Context, scope ledger.Scope, req discovery.Request) (discovery.Request, error)
	Commit(ctx context.Context, scope ledger.Scope, batch ledger.Batch) error
}

// DiscoverRequest is the POST /v1/discover body.
type DiscoverRequest struct {
	Cloud           string     `json:"cloud"`
	Bucket          string     `json:"bucket"`
	Prefix          string     `json:"prefix,omitempty"`
	Ingested        []string   `json:"ingested,omitempty"`
	Watermark       *time.Time `json:"watermark,omitempty"`
	MaxSizeMB       int64      `json:"max_size_mb,omitempty"`
	UseContentDedup bool       `json:"use_content_dedup,omitempty"`

	// UseLedger merges the stored state for (cloud, bucket, prefix) into
	// the request. Commit records the result afterwards.
	UseLedger bool `json:"use_ledger,omitempty"`
	Commit    bool `json:"commit,omitempty"`
}

// DiscoverHandler runs discovery passes over HTTP.
type DiscoverHandler struct {
	resolver     StorageResolver
	ledger       Ledger
	defaultMaxMB int64
	logger       *zap.Logger
}

// NewDiscoverHandler returns a handler. ledger may be nil, in which case
// requests asking for it are rejected.
func NewDiscoverHandler(resolver StorageResolver, l Ledger, defaultMaxMB int64, logger *zap.Logger) *DiscoverHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultMaxMB <= 0 {
		defaultMaxMB = discovery.DefaultMaxSizeMB
	}
	return &DiscoverHandler{resolver: resolver, ledger: l, defaultMaxMB: defaultMaxMB, logger: logger}
}

// ServeHTTP decodes the request, runs one pass and writes the report.
func (h *DiscoverHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body DiscoverRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxDiscoverBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid JSON body", err))
		return
	}

	cloud, err := factory.ParseCloud(body.Cloud)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if (body.UseLedger || body.Commit) && h.ledger == nil {
		respondWithError(w, r, apperrors.New(http.StatusServiceUnavailable, apperrors.CodeConfiguration, "ledger is not configured"))
		return
	}

	if err := discovery.CheckMaxSizeMB(body.MaxSizeMB); err != nil {
		respondWithError(w, r, err)
		return
	}
	maxMB := body.MaxSizeMB
	if maxMB == 0 {
		maxMB = h.defaultMaxMB
	}
	req := discovery.Request{
		Bucket:          body.Bucket,
		Prefix:          body.Prefix,
		Ingested:        discovery.NewIdentifierSet(body.Ingested...),
		MaxSizeBytes:    discovery.MaxSizeMB(maxMB),
		UseContentDedup: body.UseContentDedup,
	}
	if body.Watermark != nil {
		req.Watermark = *body.Watermark
	}

	scope := ledger.Scope{Cloud: string(cloud), Bucket: body.Bucket, Prefix: body.Prefix}
	if body.UseLedger {
		if req, err = h.ledger.Apply(ctx, scope, req); err != nil {
			respondWithError(w, r, err)
			return
		}
	}

	svc, err := h.resolver.Storage(ctx, cloud)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer func() { _ = svc.Close() }()

	res, err := svc.Discover(ctx, req)
	if err != nil {
		h.logger.Warn("Discovery failed",
			zap.String("cloud", string(cloud)),
			zap.String("bucket", body.Bucket),
			zap.Error(err))
		respondWithError(w, r, err)
		return
	}

	if body.Commit {
		if err := h.ledger.Commit(ctx, scope, ledger.BatchFromResult(res)); err != nil {
			respondWithError(w, r, fmt.Errorf("commit ledger: %w", err))
			return
		}
	}

	apperrors.WriteJSON(w, http.StatusOK, output.NewReport(string(svc.Type()), body.Bucket, body.Prefix, res))
}
