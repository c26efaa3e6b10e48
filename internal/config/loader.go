// Package config loads cloudservices configuration.
//
// Precedence, lowest to highest: built-in defaults, the optional
// cloudservices.yaml file, environment variables (a .env file in the
// working directory is loaded first without overriding the process
// environment), then runtime overrides passed to Load.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/provider/azure"
	"github.com/q99/cloudservices/pkg/provider/file"
	"github.com/q99/cloudservices/pkg/provider/gcs"
	"github.com/q99/cloudservices/pkg/provider/s3"
)

// EnvPrefix prefixes every cloudservices-specific environment variable.
const EnvPrefix = "CLOUDSERVICES"

// ConfigName is the base name of the optional config file.
const ConfigName = "cloudservices"

// ConfigFileEnv names an explicit config file, which must then exist.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Azure     AzureConfig     `mapstructure:"azure"`
	GCP       GCPConfig       `mapstructure:"gcp"`
	Local     LocalConfig     `mapstructure:"local"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AWSConfig configures the S3 backend.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	PartSizeMB      int64  `mapstructure:"part_size_mb"`
}

// AzureConfig configures the Azure Blob backend.
type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
}

// GCPConfig configures the GCS interoperability backend.
type GCPConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	Insecure        bool   `mapstructure:"insecure"`
}

// LocalConfig configures the local directory backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DiscoveryConfig tunes discovery passes.
type DiscoveryConfig struct {
	MaxSizeMB int64   `mapstructure:"max_size_mb"`
	ChunkSize int     `mapstructure:"chunk_size"`
	PageSize  int     `mapstructure:"page_size"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// LedgerConfig locates the ingestion ledger database.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// envSpec maps environment variable names onto a config key. When several
// names are listed the first one set wins.
type envSpec struct {
	Key   string
	Names []string
}

func prefixed(name string) string { return EnvPrefix + "_" + name }

// getEnvSpecs lists every recognized environment variable. The unprefixed
// AWS_* and CONECTION_STRING names are kept for deployments configured for
// earlier releases.
func getEnvSpecs() []envSpec {
	return []envSpec{
		{Key: "server.host", Names: []string{prefixed("HOST")}},
		{Key: "server.port", Names: []string{prefixed("PORT")}},
		{Key: "server.read_timeout", Names: []string{prefixed("READ_TIMEOUT")}},
		{Key: "server.write_timeout", Names: []string{prefixed("WRITE_TIMEOUT")}},
		{Key: "server.idle_timeout", Names: []string{prefixed("IDLE_TIMEOUT")}},
		{Key: "server.shutdown_timeout", Names: []string{prefixed("SHUTDOWN_TIMEOUT")}},

		{Key: "logging.level", Names: []string{prefixed("LOG_LEVEL")}},
		{Key: "logging.profile", Names: []string{prefixed("LOG_PROFILE")}},

		{Key: "metrics.enabled", Names: []string{prefixed("METRICS_ENABLED")}},
		{Key: "metrics.path", Names: []string{prefixed("METRICS_PATH")}},

		{Key: "aws.access_key_id", Names: []string{prefixed("AWS_ACCESS_KEY_ID"), "AWS_KEY"}},
		{Key: "aws.secret_access_key", Names: []string{prefixed("AWS_SECRET_ACCESS_KEY"), "AWS_SECRET"}},
		{Key: "aws.region", Names: []string{prefixed("AWS_REGION"), "AWS_REGION"}},
		{Key: "aws.endpoint", Names: []string{prefixed("AWS_ENDPOINT"), "AWS_URL"}},
		{Key: "aws.profile", Names: []string{prefixed("AWS_PROFILE")}},
		{Key: "aws.force_path_style", Names: []string{prefixed("AWS_FORCE_PATH_STYLE")}},
		{Key: "aws.part_size_mb", Names: []string{prefixed("AWS_PART_SIZE_MB")}},

		{Key: "azure.connection_string", Names: []string{
			prefixed("AZURE_CONNECTION_STRING"), "CONECTION_STRING", "AZURE_STORAGE_CONNECTION_STRING",
		}},

		{Key: "gcp.endpoint", Names: []string{prefixed("GCP_ENDPOINT")}},
		{Key: "gcp.access_key_id", Names: []string{prefixed("GCP_ACCESS_KEY_ID")}},
		{Key: "gcp.secret_access_key", Names: []string{prefixed("GCP_SECRET_ACCESS_KEY")}},
		{Key: "gcp.region", Names: []string{prefixed("GCP_REGION")}},
		{Key: "gcp.insecure", Names: []string{prefixed("GCP_INSECURE")}},

		{Key: "local.base_dir", Names: []string{prefixed("LOCAL_BASE_DIR")}},

		{Key: "discovery.max_size_mb", Names: []string{prefixed("MAX_SIZE_MB")}},
		{Key: "discovery.chunk_size", Names: []string{prefixed("CHUNK_SIZE")}},
		{Key: "discovery.page_size", Names: []string{prefixed("PAGE_SIZE")}},
		{Key: "discovery.rate_limit", Names: []string{prefixed("RATE_LIMIT")}},

		{Key: "ledger.path", Names: []string{prefixed("LEDGER_PATH")}},
	}
}

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", observability.ProfileStructured)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("aws.region", s3.DefaultAWSRegion)
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.force_path_style", false)
	v.SetDefault("aws.part_size_mb", 0)

	v.SetDefault("azure.connection_string", "")

	v.SetDefault("gcp.endpoint", gcs.DefaultEndpoint)
	v.SetDefault("gcp.access_key_id", "")
	v.SetDefault("gcp.secret_access_key", "")
	v.SetDefault("gcp.region", gcs.DefaultRegion)
	v.SetDefault("gcp.insecure", false)

	v.SetDefault("local.base_dir", ".")

	v.SetDefault("discovery.max_size_mb", discovery.DefaultMaxSizeMB)
	v.SetDefault("discovery.chunk_size", discovery.DefaultChunkSize)
	v.SetDefault("discovery.page_size", 0)
	v.SetDefault("discovery.rate_limit", 0)

	v.SetDefault("ledger.path", defaultLedgerPath())
}

func defaultLedgerPath() string {
	return filepath.Join(gfconfig.GetAppDataDir(ConfigName), "ledger.db")
}

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Load builds the configuration. Each overrides map is nested like the
// config file (e.g. {"server": {"port": 9000}}) and wins over every other
// source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Best effort: a missing .env is the common case.
	_ = godotenv.Load()

	for _, spec := range getEnvSpecs() {
		args := append([]string{spec.Key}, spec.Names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Key, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalMu.Lock()
	globalConfig = &cfg
	globalMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the configuration from the most recent successful Load,
// or nil.
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

func readConfigFile(v *viper.Viper) error {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// flatten turns nested override maps into dotted viper keys so that a
// partial section only replaces the leaves it names.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Profile) {
	case observability.ProfileStructured, observability.ProfileConsole:
	default:
		return fmt.Errorf("logging.profile %q must be %s or %s", c.Logging.Profile, observability.ProfileStructured, observability.ProfileConsole)
	}
	if err := discovery.CheckMaxSizeMB(c.Discovery.MaxSizeMB); err != nil {
		return fmt.Errorf("discovery.max_size_mb: %w", err)
	}
	if c.Discovery.ChunkSize < 0 || c.Discovery.PageSize < 0 || c.Discovery.RateLimit < 0 {
		return fmt.Errorf("discovery.chunk_size, page_size and rate_limit must not be negative")
	}
	return nil
}

// MaxSizeBytes is the configured per-object size ceiling in bytes.
func (c *Config) MaxSizeBytes() int64 {
	return discovery.MaxSizeMB(c.Discovery.MaxSizeMB)
}

// FactoryConfig converts the loaded configuration into backend settings.
func (c *Config) FactoryConfig() factory.Config {
	return factory.Config{
		AWS: s3.Config{
			Region:          c.AWS.Region,
			Endpoint:        c.AWS.Endpoint,
			Profile:         c.AWS.Profile,
			AccessKeyID:     c.AWS.AccessKeyID,
			SecretAccessKey: c.AWS.SecretAccessKey,
			ForcePathStyle:  c.AWS.ForcePathStyle,
			PartSizeMB:      c.AWS.PartSizeMB,
		},
		Azure: azure.Config{ConnectionString: c.Azure.ConnectionString},
		GCP: gcs.Config{
			Endpoint:        c.GCP.Endpoint,
			AccessKeyID:     c.GCP.AccessKeyID,
			SecretAccessKey: c.GCP.SecretAccessKey,
			Region:          c.GCP.Region,
			Insecure:        c.GCP.Insecure,
		},
		Local: file.Config{BaseDir: c.Local.BaseDir},
		Discovery: factory.DiscoveryConfig{
			ChunkSize: c.Discovery.ChunkSize,
			PageSize:  c.Discovery.PageSize,
			RateLimit: c.Discovery.RateLimit,
		},
	}
}
