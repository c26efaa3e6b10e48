package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/q99/cloudservices/pkg/provider"
)

// ErrUnsafeKey is returned for keys that would land outside the target
// directory.
var ErrUnsafeKey = errors.New("object key escapes target directory")

// DownloadOptions configures DownloadAll.
type DownloadOptions struct {
	// Include is an optional doublestar pattern matched against the full
	// object key. Empty matches everything.
	Include string

	// SkipExisting leaves files that already exist with the same size alone.
	SkipExisting bool

	// PageSize overrides the listing page size.
	PageSize int
}

// DownloadSummary reports what DownloadAll did.
type DownloadSummary struct {
	Files    int64
	Bytes    int64
	Skipped  int64
	Excluded int64
}

func (s *service) DownloadAll(ctx context.Context, bucket, localDir, prefix string, opts DownloadOptions) (*DownloadSummary, error) {
	if opts.Include != "" && !doublestar.ValidatePattern(opts.Include) {
		return nil, fmt.Errorf("invalid include pattern %q", opts.Include)
	}

	p, err := s.backend.Open(bucket)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()
	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		return nil, s.unsupported("DownloadAll", bucket)
	}

	root, err := filepath.Abs(localDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	summary := &DownloadSummary{}
	var token string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := p.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token, MaxKeys: opts.PageSize})
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Objects {
			if provider.IsDirectoryMarker(obj.Key, obj.Size) {
				continue
			}
			if opts.Include != "" {
				if match, _ := doublestar.Match(opts.Include, obj.Key); !match {
					summary.Excluded++
					continue
				}
			}

			dest, err := localPath(root, obj.Key)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", obj.Key, err)
			}
			if opts.SkipExisting {
				if st, err := os.Stat(dest); err == nil && st.Size() == obj.Size {
					summary.Skipped++
					continue
				}
			}

			n, err := downloadTo(ctx, getter, obj.Key, dest)
			if err != nil {
				return nil, err
			}
			summary.Files++
			summary.Bytes += n
			s.logger.Debug("downloaded object",
				zap.String("bucket", bucket),
				zap.String("key", obj.Key),
				zap.String("path", dest),
				zap.Int64("bytes", n),
			)
		}

		if !page.IsTruncated || page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}

	s.logger.Info("download complete",
		zap.String("bucket", bucket),
		zap.String("prefix", prefix),
		zap.Int64("files", summary.Files),
		zap.Int64("bytes", summary.Bytes),
	)
	return summary, nil
}

// localPath maps an object key onto a path under root.
func localPath(root, key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimLeft(key, "/"))
	if rel == "" {
		return "", ErrUnsafeKey
	}
	dest := filepath.Join(root, rel)
	if !strings.HasPrefix(dest, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator)) {
		return "", ErrUnsafeKey
	}
	return dest, nil
}

// downloadTo streams key into a temp file beside dest and renames it into
// place once complete.
func downloadTo(ctx context.Context, getter provider.ObjectGetter, key, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}

	body, _, err := getter.GetObject(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return n, err
	}
	return n, nil
}
