// Package cmd implements the cloudservices command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/q99/cloudservices/internal/config"
	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

var (
	cfgFile  string
	logLevel string
	verbose  bool

	// appConfig is loaded before every command runs.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cloudservices",
	Short: "Cloud storage access and incremental file discovery",
	Long: `cloudservices reads and writes objects in S3, Azure Blob, GCS and local
directories through one interface, and discovers which objects in a bucket
are new since the last ingestion.

Object URIs use the scheme of their backend:
  s3://bucket/key  azure://container/key  gcs://bucket/key  file://dir/key`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./cloudservices.yaml or ~/.config/cloudservices/cloudservices.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// setDefaults installs configuration defaults on the global viper instance
// so `--help` output and ad-hoc lookups see the same values Load uses.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initConfig(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("cloudservices", verbose)
	setDefaults()

	if cfgFile != "" {
		if err := os.Setenv(config.ConfigFileEnv, cfgFile); err != nil {
			return exitError(foundry.ExitFileNotFound, "Invalid --config", err)
		}
	}

	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": logLevel}})
	}

	cfg, err := config.Load(contextOrBackground(cmd), overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	appConfig = cfg

	if !verbose {
		if err := observability.SetLevel(cfg.Logging.Level); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
		}
	}

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("log_level", cfg.Logging.Level),
		zap.String("ledger", cfg.Ledger.Path))
	return nil
}

func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
