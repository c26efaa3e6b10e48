package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderType_Identifier(t *testing.T) {
	tests := []struct {
		name     string
		typ      ProviderType
		bucket   string
		key      string
		expected string
	}{
		{"s3 key", ProviderS3, "b", "a.txt", "s3://b/a.txt"},
		{"s3 nested key", ProviderS3, "b", "dir/sub/a.txt", "s3://b/dir/sub/a.txt"},
		{"azure blob", ProviderAzure, "container", "blob.bin", "azure://container/blob.bin"},
		{"leading slash trimmed", ProviderGCS, "b", "/x", "gcs://b/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.typ.Identifier(tt.bucket, tt.key))
		})
	}
}

func TestIsDirectoryMarker(t *testing.T) {
	assert.True(t, IsDirectoryMarker("dir/", 0))
	assert.True(t, IsDirectoryMarker("a/b/", 0))
	assert.False(t, IsDirectoryMarker("dir/", 10), "non-empty object with trailing slash is a file")
	assert.False(t, IsDirectoryMarker("dir", 0), "empty file is still a file")
	assert.False(t, IsDirectoryMarker("a.txt", 100))
}

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		expected string
	}{
		{
			name:     "with key",
			err:      &ProviderError{Op: "GetObject", Provider: ProviderAzure, Bucket: "c", Key: "k", Err: ErrNotFound},
			expected: "azure GetObject: c/k: object not found",
		},
		{
			name:     "without key",
			err:      &ProviderError{Op: "List", Provider: ProviderS3, Bucket: "b", Err: ErrAccessDenied},
			expected: "s3 List: b: access denied",
		},
		{
			name:     "without bucket",
			err:      &ProviderError{Op: "New", Provider: ProviderGCS, Err: errors.New("boom")},
			expected: "gcs New: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{ErrNotFound, CodeNotFound},
		{&ProviderError{Err: ErrAccessDenied}, CodeAccessDenied},
		{fmt.Errorf("wrapped: %w", ErrBucketNotFound), CodeBucketNotFound},
		{ErrInvalidCredentials, CodeInvalidCredentials},
		{ErrProviderUnavailable, CodeProviderUnavailable},
		{ErrThrottled, CodeThrottled},
		{ErrNotSupported, CodeNotSupported},
		{errors.New("mystery"), CodeInternal},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Code(tt.err))
		})
	}
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsNotFound(&ProviderError{Err: ErrNotFound}))
	assert.False(t, IsNotFound(ErrAccessDenied))
	assert.True(t, IsThrottled(&ProviderError{Err: ErrThrottled}))
	assert.False(t, IsThrottled(ErrProviderUnavailable))
	assert.True(t, IsNotSupported(fmt.Errorf("x: %w", ErrNotSupported)))
}
