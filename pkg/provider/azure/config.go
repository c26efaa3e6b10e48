// Package azure implements the provider interface for Azure Blob storage.
package azure

import "strings"

// Config configures an Azure Blob client.
type Config struct {
	// ConnectionString is the storage account connection string
	// (DefaultEndpointsProtocol=...;AccountName=...;AccountKey=...;...).
	ConnectionString string

	// MaxResults is the default page size for List operations.
	// Zero uses the service default (5000).
	MaxResults int
}

// DefaultMaxResults is the page size Azure uses when none is requested.
const DefaultMaxResults = 5000

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ConnectionString) == "" {
		return &ConfigError{Field: "ConnectionString", Message: "connection string is required"}
	}
	if c.MaxResults < 0 {
		return &ConfigError{Field: "MaxResults", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "azure config: " + e.Field + ": " + e.Message
}
