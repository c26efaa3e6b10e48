// Package cloudtest runs S3 integration tests against a local moto server.
//
// Tests using this package are tagged //go:build cloudintegration and skip
// themselves when the server is not reachable:
//
//	func TestDiscoverAgainstMoto(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    cloudtest.PutObject(t, ctx, bucket, "in/a.csv", []byte("a"))
//	    p := cloudtest.ProviderT(t, ctx, bucket)
//	}
package cloudtest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	s3provider "github.com/q99/cloudservices/pkg/provider/s3"
)

// moto accepts any credentials.
const (
	DefaultEndpoint     = "http://localhost:5555"
	DefaultRegion       = "us-east-1"
	TestAccessKeyID     = "testing"
	TestSecretAccessKey = "testing"
)

var (
	// Endpoint is overridable with MOTO_ENDPOINT.
	Endpoint = envOr("MOTO_ENDPOINT", DefaultEndpoint)

	// Region is overridable with MOTO_REGION.
	Region = envOr("MOTO_REGION", DefaultRegion)
)

var bucketNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SkipIfUnavailable skips t unless the moto admin API answers.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err == nil {
		var resp *http.Response
		if resp, err = http.DefaultClient.Do(req); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
	}
	t.Skipf("moto not available at %s: %v", Endpoint, err)
}

// Config returns backend settings that point the S3 provider at moto.
func Config() s3provider.Config {
	return s3provider.Config{
		Endpoint:        Endpoint,
		Region:          Region,
		AccessKeyID:     TestAccessKeyID,
		SecretAccessKey: TestSecretAccessKey,
		ForcePathStyle:  true,
	}
}

// ProviderT returns a bucket-scoped provider backed by moto.
func ProviderT(t *testing.T, ctx context.Context, bucket string) *s3provider.Provider {
	t.Helper()
	c, err := s3provider.NewClient(ctx, Config())
	if err != nil {
		t.Fatalf("create provider client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c.Bucket(bucket)
}

// adminClient is a raw SDK client for bucket lifecycle calls the provider
// does not expose.
func adminClient(t *testing.T, ctx context.Context) *s3.Client {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(TestAccessKeyID, TestSecretAccessKey, "")),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(Endpoint)
		o.UsePathStyle = true
	})
}

// CreateBucket creates a uniquely named bucket and removes it, with its
// contents, when the test ends.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()

	name := bucketNameChars.ReplaceAllString(strings.ToLower(t.Name()), "-")
	if len(name) > 50 {
		name = name[:50]
	}
	name = strings.Trim(fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000), "-")

	c := adminClient(t, ctx)
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { emptyAndDelete(t, c, name) })
	return name
}

func emptyAndDelete(t *testing.T, c *s3.Client, bucket string) {
	ctx := context.Background()
	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Logf("list %s for cleanup: %v", bucket, err)
			return
		}
		for _, obj := range page.Contents {
			if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
				t.Logf("delete %s/%s: %v", bucket, aws.ToString(obj.Key), err)
			}
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("delete bucket %s: %v", bucket, err)
	}
}

// PutObject writes content through the provider under test.
func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	p := ProviderT(t, ctx, bucket)
	if err := p.PutObject(ctx, key, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// PutObjects writes each key with content derived from the key.
func PutObjects(t *testing.T, ctx context.Context, bucket string, keys []string) {
	t.Helper()
	for _, key := range keys {
		PutObject(t, ctx, bucket, key, []byte("content of "+key))
	}
}

// PutObjectsWithContent writes every key in objects.
func PutObjectsWithContent(t *testing.T, ctx context.Context, bucket string, objects map[string][]byte) {
	t.Helper()
	for key, content := range objects {
		PutObject(t, ctx, bucket, key, content)
	}
}
