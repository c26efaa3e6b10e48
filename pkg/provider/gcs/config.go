// Package gcs implements the provider interface for Google Cloud Storage
// through its S3-interoperable XML API, authenticated with HMAC keys.
package gcs

// Config configures a GCS interoperability client.
type Config struct {
	// Endpoint is the XML API host. Defaults to storage.googleapis.com.
	Endpoint string

	// AccessKeyID is the HMAC access ID (required).
	AccessKeyID string

	// SecretAccessKey is the HMAC secret (required).
	SecretAccessKey string

	// Region is passed through to request signing. Defaults to "auto".
	Region string

	// Insecure disables TLS. Only useful against local emulators.
	Insecure bool

	// MaxKeys is the default page size for List operations.
	MaxKeys int
}

const (
	// DefaultEndpoint is the GCS XML API host.
	DefaultEndpoint = "storage.googleapis.com"

	// DefaultRegion is the signing region GCS accepts for interoperability.
	DefaultRegion = "auto"

	// DefaultMaxKeys is the default page size for List operations.
	DefaultMaxKeys = 1000
)

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return &ConfigError{Field: "AccessKeyID/SecretAccessKey", Message: "HMAC access ID and secret are required"}
	}
	return nil
}

func (c *Config) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

func (c *Config) region() string {
	if c.Region == "" {
		return DefaultRegion
	}
	return c.Region
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "gcs config: " + e.Field + ": " + e.Message
}
