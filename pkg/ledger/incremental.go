package ledger

import (
	"context"

	"github.com/q99/cloudservices/pkg/discovery"
)

// Apply returns a copy of req extended with the scope's stored state: the
// ingested set becomes the union of both, and the watermark the later of
// the two. req itself is not modified.
func (s *Store) Apply(ctx context.Context, scope Scope, req discovery.Request) (discovery.Request, error) {
	st, err := s.State(ctx, scope)
	if err != nil {
		return req, err
	}

	merged := make(discovery.IdentifierSet, req.Ingested.Len()+st.Ingested.Len())
	for id := range req.Ingested {
		merged.Add(id)
	}
	for id := range st.Ingested {
		merged.Add(id)
	}
	req.Ingested = merged

	if st.Watermark.After(req.Watermark) {
		req.Watermark = st.Watermark
	}
	return req, nil
}
