package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q99/cloudservices/pkg/provider"
)

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HMAC access ID and secret are required")

	cfg = Config{AccessKeyID: "GOOG1E", SecretAccessKey: "secret"}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultEndpoint, cfg.endpoint())
	assert.Equal(t, DefaultRegion, cfg.region())
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in         string
		secureIn   bool
		wantHost   string
		wantSecure bool
	}{
		{"storage.googleapis.com", true, "storage.googleapis.com", true},
		{"https://storage.googleapis.com/", false, "storage.googleapis.com", true},
		{"http://127.0.0.1:4443", true, "127.0.0.1:4443", false},
		{"localhost:9000", false, "localhost:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, secure := splitEndpoint(tt.in, tt.secureIn)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantSecure, secure)
		})
	}
}

func TestWrapError(t *testing.T) {
	p := &Provider{bucket: "b"}

	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, provider.ErrNotFound},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404}, provider.ErrBucketNotFound},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, provider.ErrAccessDenied},
		{"bad signature", minio.ErrorResponse{Code: "SignatureDoesNotMatch", StatusCode: 403}, provider.ErrInvalidCredentials},
		{"slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, provider.ErrThrottled},
		{"status only 404", minio.ErrorResponse{StatusCode: 404}, provider.ErrNotFound},
		{"status only 503", minio.ErrorResponse{StatusCode: 503}, provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.wrapError("GetObject", "k", tt.err)
			assert.True(t, errors.Is(err, tt.expected))
		})
	}

	err := p.wrapError("List", "", context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
}

const listPageXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>b</Name>
  <Prefix></Prefix>
  <KeyCount>3</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>a.txt</Key>
    <LastModified>2024-01-01T10:00:00.000Z</LastModified>
    <ETag>&quot;aaa&quot;</ETag>
    <Size>100</Size>
  </Contents>
  <Contents>
    <Key>dir/</Key>
    <LastModified>2024-01-01T10:00:00.000Z</LastModified>
    <ETag>&quot;d41d8cd98f00b204e9800998ecf8427e&quot;</ETag>
    <Size>0</Size>
  </Contents>
  <Contents>
    <Key>dir/b.txt</Key>
    <LastModified>2024-01-02T10:00:00.000Z</LastModified>
    <ETag>&quot;bbb&quot;</ETag>
    <Size>7</Size>
  </Contents>
</ListBucketResult>`

func TestProvider_List_StartAfterToken(t *testing.T) {
	var gotStartAfter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStartAfter = r.URL.Query().Get("start-after")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listPageXML)
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		Endpoint:        srv.URL,
		AccessKeyID:     "GOOG1E",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	result, err := c.Bucket("b").List(context.Background(), provider.ListOptions{ContinuationToken: "0.txt"})
	require.NoError(t, err)

	assert.Equal(t, "0.txt", gotStartAfter)
	assert.False(t, result.IsTruncated)
	require.Len(t, result.Objects, 2)
	assert.Equal(t, "a.txt", result.Objects[0].Key)
	assert.Equal(t, "aaa", result.Objects[0].ETag)
	assert.True(t, strings.HasPrefix(result.Objects[1].Key, "dir/"))
}

func TestProvider_List_CutsPageAtMaxKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listPageXML)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, AccessKeyID: "GOOG1E", SecretAccessKey: "secret"})
	require.NoError(t, err)

	result, err := c.Bucket("b").List(context.Background(), provider.ListOptions{MaxKeys: 1})
	require.NoError(t, err)
	assert.True(t, result.IsTruncated)
	assert.Equal(t, "a.txt", result.ContinuationToken)
	require.Len(t, result.Objects, 1)
}
