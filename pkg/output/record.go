// Package output renders discovery and transfer results.
//
// The primary format is JSONL: typed record envelopes, one per line, each
// parseable on its own. A YAML report of a whole pass is also available
// for humans and config-style consumers.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: cloudservices.<type>.v<version>
const (
	// TypeDiscovered identifies a newly discovered object.
	TypeDiscovered = "cloudservices.discovered.v1"

	// TypeSkip identifies a candidate skipped because it could not be read.
	TypeSkip = "cloudservices.skip.v1"

	// TypeSummary identifies the final summary of a pass.
	TypeSummary = "cloudservices.summary.v1"

	// TypeTransfer identifies an upload, download or delete.
	TypeTransfer = "cloudservices.transfer.v1"

	// TypeError identifies error records.
	TypeError = "cloudservices.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "cloudservices.discovered.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for the pass or command.
	RunID string `json:"run_id"`

	// Provider identifies the storage backend (e.g., "s3", "azure").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// DiscoveredRecord is one accepted identifier.
type DiscoveredRecord struct {
	Identifier string `json:"identifier"`

	// Seq is the zero-based position in listing order.
	Seq int `json:"seq"`
}

// SkipRecord is a candidate dropped because its content could not be read.
type SkipRecord struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Reason     string `json:"reason" yaml:"reason"`
	Code       string `json:"code,omitempty" yaml:"code,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	Bucket        string           `json:"bucket" yaml:"bucket"`
	Prefix        string           `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Pages         int64            `json:"pages" yaml:"pages"`
	Listed        int64            `json:"listed" yaml:"listed"`
	Accepted      int64            `json:"accepted" yaml:"accepted"`
	Skipped       int              `json:"skipped" yaml:"skipped"`
	Rejected      map[string]int64 `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	DigestedBytes int64            `json:"digested_bytes" yaml:"digested_bytes"`

	// Watermark is the value to pass to the next discovery call.
	Watermark *time.Time `json:"watermark,omitempty" yaml:"watermark,omitempty"`

	// Duration is the total pass duration.
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration" yaml:"duration"`
}

// TransferRecord describes one completed transfer.
type TransferRecord struct {
	// Op is "get", "put", "delete" or "download".
	Op     string `json:"op"`
	Bucket string `json:"bucket"`
	Key    string `json:"key,omitempty"`
	Path   string `json:"path,omitempty"`
	Bytes  int64  `json:"bytes"`
	Files  int64  `json:"files,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the object key related to this error, if applicable.
	Key string `json:"key,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
