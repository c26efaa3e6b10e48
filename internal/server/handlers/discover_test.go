package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/q99/cloudservices/internal/errors"
	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/ledger"
	"github.com/q99/cloudservices/pkg/output"
	"github.com/q99/cloudservices/pkg/provider/file"
)

type discoverFixture struct {
	base    string
	handler *DiscoverHandler
	ledger  *ledger.Store
}

func newDiscoverFixture(t *testing.T, withLedger bool) *discoverFixture {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "landing"), 0o755))

	f := &discoverFixture{base: base}
	var l Ledger
	if withLedger {
		store, err := ledger.Open(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		f.ledger = store
		l = store
	}

	registry := factory.NewRegistry(factory.Config{Local: file.Config{BaseDir: base}})
	f.handler = NewDiscoverHandler(registry, l, 0, nil)
	return f
}

func (f *discoverFixture) write(t *testing.T, key, body string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(f.base, "landing", filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func (f *discoverFixture) post(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewReader(raw)))
	return rec
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) output.Report {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report output.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	return report
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorBody {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestDiscover_FiltersIngestedAndWatermark(t *testing.T) {
	f := newDiscoverFixture(t, false)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.write(t, "old.csv", "o", t0)
	f.write(t, "seen.csv", "s", t0.Add(2*time.Hour))
	f.write(t, "new.csv", "n", t0.Add(3*time.Hour))

	wm := t0.Add(time.Hour)
	report := decodeReport(t, f.post(t, DiscoverRequest{
		Cloud:     "local",
		Bucket:    "landing",
		Ingested:  []string{"file://landing/seen.csv"},
		Watermark: &wm,
	}))

	assert.Equal(t, []string{"file://landing/new.csv"}, report.Identifiers)
	assert.NotEmpty(t, report.RunID)
	require.NotNil(t, report.Summary)
	assert.Equal(t, int64(3), report.Summary.Listed)
	assert.Equal(t, int64(1), report.Summary.Rejected["watermark"])
	assert.Equal(t, int64(1), report.Summary.Rejected["already_ingested"])
}

func TestDiscover_SizeCeilingFromRequest(t *testing.T) {
	f := newDiscoverFixture(t, false)
	f.write(t, "big.bin", string(make([]byte, 2*1024*1024)), time.Now())
	f.write(t, "small.bin", "x", time.Now())

	report := decodeReport(t, f.post(t, DiscoverRequest{Cloud: "local", Bucket: "landing", MaxSizeMB: 1}))
	assert.Equal(t, []string{"file://landing/small.bin"}, report.Identifiers)
}

func TestDiscover_ContentDedup(t *testing.T) {
	f := newDiscoverFixture(t, false)
	f.write(t, "a.txt", "same", time.Now())
	f.write(t, "b.txt", "same", time.Now())
	f.write(t, "c.txt", "different", time.Now())

	report := decodeReport(t, f.post(t, DiscoverRequest{Cloud: "local", Bucket: "landing", UseContentDedup: true}))
	assert.Equal(t, []string{"file://landing/a.txt", "file://landing/c.txt"}, report.Identifiers)
}

func TestDiscover_LedgerCommitMakesNextPassIncremental(t *testing.T) {
	f := newDiscoverFixture(t, true)
	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	f.write(t, "one.csv", "1", t0)

	first := decodeReport(t, f.post(t, DiscoverRequest{Cloud: "local", Bucket: "landing", UseLedger: true, Commit: true}))
	assert.Equal(t, []string{"file://landing/one.csv"}, first.Identifiers)

	again := decodeReport(t, f.post(t, DiscoverRequest{Cloud: "local", Bucket: "landing", UseLedger: true, Commit: true}))
	assert.Empty(t, again.Identifiers)

	f.write(t, "two.csv", "2", t0.Add(30*time.Minute))
	third := decodeReport(t, f.post(t, DiscoverRequest{Cloud: "local", Bucket: "landing", UseLedger: true}))
	assert.Equal(t, []string{"file://landing/two.csv"}, third.Identifiers)

	st, err := f.ledger.State(context.Background(), ledger.Scope{Cloud: "local", Bucket: "landing"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Ingested.Len(), "third pass did not commit")
}

func TestDiscover_Errors(t *testing.T) {
	f := newDiscoverFixture(t, false)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"cloud":`, http.StatusBadRequest, apperrors.CodeBadRequest},
		{"unknown field", `{"cloud":"local","bucket":"landing","bogus":1}`, http.StatusBadRequest, apperrors.CodeBadRequest},
		{"unknown cloud", `{"cloud":"ibm","bucket":"landing"}`, http.StatusBadRequest, apperrors.CodeUnsupportedCloud},
		{"missing bucket", `{"cloud":"local"}`, http.StatusBadRequest, apperrors.CodeInvalidRequest},
		{"negative max size", `{"cloud":"local","bucket":"landing","max_size_mb":-1}`, http.StatusBadRequest, apperrors.CodeInvalidRequest},
		{"max size overflows bytes", `{"cloud":"local","bucket":"landing","max_size_mb":9223372036854775807}`, http.StatusBadRequest, apperrors.CodeInvalidRequest},
		{"missing directory", `{"cloud":"local","bucket":"absent"}`, http.StatusNotFound, "BUCKET_NOT_FOUND"},
		{"ledger not configured", `{"cloud":"local","bucket":"landing","commit":true}`, http.StatusServiceUnavailable, apperrors.CodeConfiguration},
		{"backend not configured", `{"cloud":"azure","bucket":"c"}`, http.StatusServiceUnavailable, apperrors.CodeConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewBufferString(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}
