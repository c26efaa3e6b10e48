package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/provider"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// schemes maps URI schemes onto clouds. The schemes match the identifier
// schemes produced by discovery, so identifiers can be passed back in.
var schemes = map[string]factory.Cloud{
	string(provider.ProviderS3):    factory.AWS,
	string(provider.ProviderAzure): factory.Azure,
	string(provider.ProviderGCS):   factory.GCP,
	string(provider.ProviderFile):  factory.Local,
}

// ObjectURI represents a parsed storage URI.
//
// Example URIs:
//   - s3://bucket/key/path.txt
//   - azure://container/prefix/
//   - gcs://bucket/prefix/**/*.parquet
//   - file://bucket/key
type ObjectURI struct {
	// Scheme is the URI scheme (e.g., "s3").
	Scheme string

	// Cloud is the cloud the scheme resolves to.
	Cloud factory.Cloud

	// Bucket is the bucket or container name.
	Bucket string

	// Key is the object key or prefix. May be empty for bucket root.
	Key string

	// Pattern is set if the key contains glob characters. Key then holds
	// the directory prefix before the first glob character.
	Pattern string
}

// String returns the URI in canonical form.
func (u *ObjectURI) String() string {
	if u.Pattern != "" {
		return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Pattern)
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Key)
}

// IsPattern returns true if the URI contains glob pattern characters.
func (u *ObjectURI) IsPattern() bool {
	return u.Pattern != ""
}

// IsPrefix returns true if the URI represents a prefix (ends with /).
func (u *ObjectURI) IsPrefix() bool {
	return strings.HasSuffix(u.Key, "/") || u.Key == ""
}

// ParseURI parses a storage URI into its components.
//
// Supported formats:
//   - <scheme>://bucket
//   - <scheme>://bucket/
//   - <scheme>://bucket/key
//   - <scheme>://bucket/prefix/
//   - <scheme>://bucket/prefix/**/*.parquet
//
// where scheme is one of s3, azure, gcs or file.
func ParseURI(uri string) (*ObjectURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	// Parsed by hand: url.Parse treats the glob character ? as a query.
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("%w: missing scheme (expected s3://, azure://, gcs:// or file://)", ErrInvalidURI)
	}

	scheme := strings.ToLower(uri[:schemeEnd])
	cloud, ok := schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: s3, azure, gcs, file)", ErrUnsupportedProvider, scheme)
	}

	remainder := uri[schemeEnd+3:]
	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if strings.ContainsAny(bucket, " \\?*[]{}#") {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}

	result := &ObjectURI{Scheme: scheme, Cloud: cloud, Bucket: bucket, Key: key}
	if i := strings.IndexAny(key, "*?[{"); i >= 0 {
		result.Pattern = key
		result.Key = key[:strings.LastIndex(key[:i], "/")+1]
	}
	return result, nil
}
