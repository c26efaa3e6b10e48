// Package discovery finds objects added to a bucket since a previous scan.
//
// An Engine walks a bucket-scoped provider listing page by page and runs
// every entry through an ordered filter chain:
//
//  1. directory markers are dropped
//  2. identifiers already ingested are dropped
//  3. objects not newer than the watermark are dropped
//  4. objects larger than the size ceiling are dropped
//  5. with content dedup on, objects whose SHA-256 was already seen in
//     this pass are dropped
//
// Accepted identifiers are returned in listing order. Listings are never
// materialized; memory is bounded by the page size plus the number of
// distinct digests seen in one pass.
package discovery

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultMaxSizeMB is the size ceiling applied when a request leaves it unset.
const DefaultMaxSizeMB = 500

// MaxSizeMBLimit is the largest ceiling in mebibytes whose byte count fits
// in an int64.
const MaxSizeMBLimit = math.MaxInt64 >> 20

// MaxSizeMB converts a ceiling in mebibytes to bytes, saturating at
// math.MaxInt64.
func MaxSizeMB(mb int64) int64 {
	if mb > MaxSizeMBLimit {
		return math.MaxInt64
	}
	return mb << 20
}

// CheckMaxSizeMB rejects ceilings that are negative or too large to
// express in bytes.
func CheckMaxSizeMB(mb int64) error {
	if mb < 0 || mb > MaxSizeMBLimit {
		return fmt.Errorf("%w: max size %d MB must be between 0 and %d", ErrInvalidRequest, mb, int64(MaxSizeMBLimit))
	}
	return nil
}

// ErrInvalidRequest is returned for requests that cannot describe a pass.
var ErrInvalidRequest = errors.New("invalid discovery request")

// IdentifierSet is a set of scheme-qualified object identifiers.
type IdentifierSet map[string]struct{}

// NewIdentifierSet returns a set holding ids.
func NewIdentifierSet(ids ...string) IdentifierSet {
	s := make(IdentifierSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Has reports whether id is in the set. A nil set is empty.
func (s IdentifierSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IdentifierSet) Add(id string) {
	s[id] = struct{}{}
}

// Len returns the number of identifiers.
func (s IdentifierSet) Len() int {
	return len(s)
}

// Request fully describes one discovery pass. It is owned by the caller
// and never modified by the engine.
type Request struct {
	// Bucket is the bucket or container name used in identifiers.
	Bucket string

	// Ingested holds identifiers the caller has already processed.
	Ingested IdentifierSet

	// Watermark is the last-modified time of the newest object ingested by
	// the previous pass. Only strictly newer objects are accepted. The zero
	// time admits everything.
	Watermark time.Time

	// MaxSizeBytes is the inclusive size ceiling. Zero or negative means
	// DefaultMaxSizeMB.
	MaxSizeBytes int64

	// UseContentDedup enables SHA-256 dedup across the pass.
	UseContentDedup bool

	// Prefix restricts the listing.
	Prefix string
}

// Validate reports whether r can describe a pass.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Bucket) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("bucket is required"))
	}
	return nil
}

func (r Request) maxSize() int64 {
	if r.MaxSizeBytes <= 0 {
		return MaxSizeMB(DefaultMaxSizeMB)
	}
	return r.MaxSizeBytes
}

// Descriptor is one listing entry as seen by the filter chain.
type Descriptor struct {
	Identifier   string
	Key          string
	Size         int64
	LastModified time.Time
}

// Reason names the filter stage that rejected a descriptor.
type Reason string

const (
	ReasonDirectoryMarker  Reason = "directory_marker"
	ReasonAlreadyIngested  Reason = "already_ingested"
	ReasonWatermark        Reason = "watermark"
	ReasonSizeCeiling      Reason = "size_ceiling"
	ReasonDuplicateContent Reason = "duplicate_content"
	ReasonDigestFailed     Reason = "digest_failed"
)

// Reasons lists every rejection reason in filter order.
var Reasons = []Reason{
	ReasonDirectoryMarker,
	ReasonAlreadyIngested,
	ReasonWatermark,
	ReasonSizeCeiling,
	ReasonDuplicateContent,
	ReasonDigestFailed,
}

// Skipped records a candidate that passed the cheap filters but could not
// be digested.
type Skipped struct {
	Identifier string
	Reason     Reason
	Err        error
}

// Stats counts what happened during a pass.
type Stats struct {
	Pages         int64
	Listed        int64
	Accepted      int64
	Rejected      map[Reason]int64
	DigestedBytes int64
	Duration      time.Duration
}

// Result is the outcome of a successful pass.
type Result struct {
	// RunID correlates log lines and output records for this pass.
	RunID string

	// Identifiers are the accepted identifiers in listing order.
	Identifiers []string

	// Skipped lists candidates dropped because their digest failed.
	Skipped []Skipped

	Stats Stats

	// MaxLastModified is the newest LastModified among accepted objects,
	// suitable as the next pass's watermark. Zero when nothing was accepted.
	MaxLastModified time.Time
}
