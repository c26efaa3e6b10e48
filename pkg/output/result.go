package output

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/provider"
)

// NewSummary builds the summary payload for a discovery result.
func NewSummary(bucket, prefix string, res *discovery.Result) *SummaryRecord {
	sum := &SummaryRecord{
		Bucket:        bucket,
		Prefix:        prefix,
		Pages:         res.Stats.Pages,
		Listed:        res.Stats.Listed,
		Accepted:      res.Stats.Accepted,
		Skipped:       len(res.Skipped),
		DigestedBytes: res.Stats.DigestedBytes,
		Duration:      res.Stats.Duration,
		DurationHuman: res.Stats.Duration.Round(time.Millisecond).String(),
	}
	if len(res.Stats.Rejected) > 0 {
		sum.Rejected = make(map[string]int64, len(res.Stats.Rejected))
		for reason, n := range res.Stats.Rejected {
			sum.Rejected[string(reason)] = n
		}
	}
	if !res.MaxLastModified.IsZero() {
		wm := res.MaxLastModified.UTC()
		sum.Watermark = &wm
	}
	return sum
}

// NewSkip builds the skip payload for a skipped candidate.
func NewSkip(s discovery.Skipped) *SkipRecord {
	rec := &SkipRecord{Identifier: s.Identifier, Reason: string(s.Reason)}
	if s.Err != nil {
		rec.Code = provider.Code(s.Err)
		rec.Message = s.Err.Error()
	}
	return rec
}

// WriteResult emits one discovered record per identifier in order, then
// the skip records, then the summary.
func WriteResult(ctx context.Context, w Writer, bucket, prefix string, res *discovery.Result) error {
	for i, id := range res.Identifiers {
		if err := w.WriteDiscovered(ctx, &DiscoveredRecord{Identifier: id, Seq: i}); err != nil {
			return err
		}
	}
	for _, s := range res.Skipped {
		if err := w.WriteSkip(ctx, NewSkip(s)); err != nil {
			return err
		}
	}
	return w.WriteSummary(ctx, NewSummary(bucket, prefix, res))
}

// Report is a whole discovery pass as a single document.
type Report struct {
	RunID       string         `yaml:"run_id" json:"run_id"`
	Provider    string         `yaml:"provider" json:"provider"`
	Identifiers []string       `yaml:"identifiers" json:"identifiers"`
	Skipped     []*SkipRecord  `yaml:"skipped,omitempty" json:"skipped,omitempty"`
	Summary     *SummaryRecord `yaml:"summary" json:"summary"`
}

// NewReport builds a Report for res.
func NewReport(providerName, bucket, prefix string, res *discovery.Result) *Report {
	r := &Report{
		RunID:       res.RunID,
		Provider:    providerName,
		Identifiers: res.Identifiers,
		Summary:     NewSummary(bucket, prefix, res),
	}
	if r.Identifiers == nil {
		r.Identifiers = []string{}
	}
	for _, s := range res.Skipped {
		r.Skipped = append(r.Skipped, NewSkip(s))
	}
	return r
}

// WriteYAML encodes the report as one YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return &WriteError{Op: "marshal_yaml", Err: err}
	}
	if err := enc.Close(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// WriteText prints one identifier per line, the plain form downstream
// shell pipelines expect.
func (r *Report) WriteText(w io.Writer) error {
	for _, id := range r.Identifiers {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return &WriteError{Op: "write", Err: err}
		}
	}
	return nil
}
