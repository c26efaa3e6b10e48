package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q99/cloudservices/pkg/discovery"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpen_FileCreatesParentsAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	v, err := Version(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
	require.NoError(t, s.Close())

	// Reopen runs the migration again without error and keeps data.
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, Migrate(ctx, s.db))
}

func TestState_UnknownScopeIsEmpty(t *testing.T) {
	s := openTestStore(t)

	st, err := s.State(context.Background(), Scope{Cloud: "aws", Bucket: "b"})
	require.NoError(t, err)
	assert.Zero(t, st.Ingested.Len())
	assert.True(t, st.Watermark.IsZero())
}

func TestScope_Validation(t *testing.T) {
	s := openTestStore(t)

	_, err := s.State(context.Background(), Scope{Cloud: "aws"})
	assert.Error(t, err)
	assert.Error(t, s.Commit(context.Background(), Scope{Bucket: "b"}, Batch{}))
}

func TestCommit_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scope := Scope{Cloud: "aws", Bucket: "b", Prefix: "in/"}
	wm := time.Date(2024, 6, 1, 12, 30, 0, 123456789, time.UTC)

	require.NoError(t, s.Commit(ctx, scope, Batch{
		RunID:       "run-1",
		Identifiers: []string{"s3://b/in/a", "s3://b/in/b"},
		Watermark:   wm,
	}))

	st, err := s.State(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Ingested.Len())
	assert.True(t, st.Ingested.Has("s3://b/in/a"))
	assert.True(t, st.Watermark.Equal(wm))

	// Scopes are isolated.
	other, err := s.State(ctx, Scope{Cloud: "aws", Bucket: "b"})
	require.NoError(t, err)
	assert.Zero(t, other.Ingested.Len())
}

func TestCommit_WatermarkNeverMovesBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scope := Scope{Cloud: "azure", Bucket: "c"}
	late := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	early := late.Add(-time.Hour)

	require.NoError(t, s.Commit(ctx, scope, Batch{RunID: "r1", Identifiers: []string{"azure://c/x"}, Watermark: late}))
	require.NoError(t, s.Commit(ctx, scope, Batch{RunID: "r2", Identifiers: []string{"azure://c/y"}, Watermark: early}))
	require.NoError(t, s.Commit(ctx, scope, Batch{RunID: "r3"}))

	st, err := s.State(ctx, scope)
	require.NoError(t, err)
	assert.True(t, st.Watermark.Equal(late))
	assert.Equal(t, 2, st.Ingested.Len())
}

func TestCommit_DuplicateIdentifiersIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scope := Scope{Cloud: "gcp", Bucket: "g"}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Commit(ctx, scope, Batch{RunID: "r", Identifiers: []string{"gcs://g/a", "gcs://g/a"}}))
	}

	st, err := s.State(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Ingested.Len())
	assert.True(t, st.Watermark.IsZero())
}

func TestBatchFromResult(t *testing.T) {
	wm := time.Now()
	b := BatchFromResult(&discovery.Result{RunID: "r", Identifiers: []string{"s3://b/k"}, MaxLastModified: wm})
	assert.Equal(t, "r", b.RunID)
	assert.Equal(t, []string{"s3://b/k"}, b.Identifiers)
	assert.Equal(t, wm, b.Watermark)
}

func TestApply_MergesStoredState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scope := Scope{Cloud: "local", Bucket: "b"}
	stored := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Commit(ctx, scope, Batch{RunID: "r1", Identifiers: []string{"file://b/old"}, Watermark: stored}))

	req := discovery.Request{
		Bucket:    "b",
		Ingested:  discovery.NewIdentifierSet("file://b/manual"),
		Watermark: stored.Add(-time.Hour),
	}
	got, err := s.Apply(ctx, scope, req)
	require.NoError(t, err)

	assert.True(t, got.Ingested.Has("file://b/old"))
	assert.True(t, got.Ingested.Has("file://b/manual"))
	assert.True(t, got.Watermark.Equal(stored))

	// The caller's set is untouched.
	assert.Equal(t, 1, req.Ingested.Len())

	// A later caller watermark wins over the stored one.
	req.Watermark = stored.Add(time.Hour)
	got, err = s.Apply(ctx, scope, req)
	require.NoError(t, err)
	assert.True(t, got.Watermark.Equal(stored.Add(time.Hour)))
}
