package discovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/q99/cloudservices/pkg/provider"
)

// fakeObject is one entry of the in-memory bucket.
type fakeObject struct {
	key     string
	content []byte
	size    int64 // overrides len(content) when non-zero
	mod     time.Time
}

// fakeProvider serves a fixed listing in pages, in insertion order, and
// implements provider.ObjectGetter.
type fakeProvider struct {
	mu       sync.Mutex
	objects  []fakeObject
	pageSize int

	listErrAtPage int // 1-based; 0 disables
	getErr        map[string]error
	listCalls     int
	getCalls      map[string]int
	readSizes     []int
}

func newFakeProvider(pageSize int, objs ...fakeObject) *fakeProvider {
	return &fakeProvider{
		objects:  objs,
		pageSize: pageSize,
		getErr:   map[string]error{},
		getCalls: map[string]int{},
	}
}

func (f *fakeProvider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErrAtPage > 0 && f.listCalls == f.listErrAtPage {
		return nil, &provider.ProviderError{Op: "List", Provider: provider.ProviderS3, Bucket: "b", Err: provider.ErrProviderUnavailable}
	}

	pageSize := f.pageSize
	if opts.MaxKeys > 0 {
		pageSize = opts.MaxKeys
	}
	start := 0
	if opts.ContinuationToken != "" {
		n, err := strconv.Atoi(opts.ContinuationToken)
		if err != nil {
			return nil, err
		}
		start = n
	}

	var matched []fakeObject
	for _, o := range f.objects {
		if len(opts.Prefix) == 0 || (len(o.key) >= len(opts.Prefix) && o.key[:len(opts.Prefix)] == opts.Prefix) {
			matched = append(matched, o)
		}
	}

	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	res := &provider.ListResult{}
	for _, o := range matched[start:end] {
		size := o.size
		if size == 0 {
			size = int64(len(o.content))
		}
		res.Objects = append(res.Objects, provider.ObjectSummary{Key: o.key, Size: size, LastModified: o.mod})
	}
	if end < len(matched) {
		res.IsTruncated = true
		res.ContinuationToken = strconv.Itoa(end)
	}
	return res, nil
}

func (f *fakeProvider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	return nil, provider.ErrNotFound
}

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[key]++
	if err, ok := f.getErr[key]; ok {
		return nil, 0, err
	}
	for _, o := range f.objects {
		if o.key == key {
			return io.NopCloser(&recordingReader{r: bytes.NewReader(o.content), f: f}), int64(len(o.content)), nil
		}
	}
	return nil, 0, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Key: key, Err: provider.ErrNotFound}
}

// recordingReader remembers the size of every read buffer.
type recordingReader struct {
	r io.Reader
	f *fakeProvider
}

func (r *recordingReader) Read(p []byte) (int, error) {
	r.f.mu.Lock()
	r.f.readSizes = append(r.f.readSizes, len(p))
	r.f.mu.Unlock()
	return r.r.Read(p)
}

// listOnlyProvider has no GetObject.
type listOnlyProvider struct{ inner *fakeProvider }

func (l listOnlyProvider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	return l.inner.List(ctx, opts)
}
func (l listOnlyProvider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	return l.inner.Head(ctx, key)
}
func (l listOnlyProvider) Close() error { return nil }

// failingBody errors midway through a read.
type failingBody struct{ n int }

func (b *failingBody) Read(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, errors.New("connection reset")
	}
	b.n--
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func (b *failingBody) Close() error { return nil }

type getterFunc func(ctx context.Context, key string) (io.ReadCloser, int64, error)

func (g getterFunc) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return g(ctx, key)
}
