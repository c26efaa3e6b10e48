package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/pkg/output"
	"github.com/q99/cloudservices/pkg/storage"
)

var downloadCmd = &cobra.Command{
	Use:   "download <uri> <local-dir>",
	Short: "Mirror every object under a prefix into a local directory",
	Long: `Download copies every object under the URI's prefix into local-dir,
recreating the key hierarchy. A glob in the URI, or --include, restricts
which keys are copied; patterns match the full key.`,
	Example: `  cloudservices download s3://bucket/exports/ ./exports
  cloudservices download gcs://lake/raw/**/*.parquet ./raw
  cloudservices download azure://inbox ./inbox --include "**/*.json" --skip-existing`,
	Args: cobra.ExactArgs(2),
	RunE: runDownload,
}

var (
	downloadInclude      string
	downloadSkipExisting bool
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVar(&downloadInclude, "include", "", "Only download keys matching this doublestar pattern")
	downloadCmd.Flags().BoolVar(&downloadSkipExisting, "skip-existing", false, "Skip files already present locally with the same size")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uri, err := parseURIArg(args[0])
	if err != nil {
		return err
	}
	localDir := args[1]

	include := downloadInclude
	if uri.IsPattern() {
		if include != "" {
			return exitError(foundry.ExitInvalidArgument, "Use either a URI pattern or --include", fmt.Errorf("both given"))
		}
		include = uri.Pattern
	}
	if include != "" && !doublestar.ValidatePattern(include) {
		return exitError(foundry.ExitInvalidArgument, "Invalid include pattern", fmt.Errorf("%q", include))
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot create destination directory", err)
	}

	svc, err := openStorage(ctx, uri.Cloud)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	sum, err := svc.DownloadAll(ctx, uri.Bucket, localDir, uri.Key, storage.DownloadOptions{
		Include:      include,
		SkipExisting: downloadSkipExisting,
		PageSize:     appConfig.Discovery.PageSize,
	})
	if err != nil {
		observability.CLILogger.Error("Download failed", zap.String("uri", uri.String()), zap.Error(err))
		return exitError(classify(err), "Download failed", err)
	}

	observability.CLILogger.Info("Download completed",
		zap.Int64("files", sum.Files),
		zap.Int64("bytes", sum.Bytes),
		zap.Int64("skipped", sum.Skipped),
		zap.Int64("excluded", sum.Excluded))

	return writeTransfer(cmd, string(svc.Type()), &output.TransferRecord{
		Op:     "download",
		Bucket: uri.Bucket,
		Key:    uri.Key,
		Path:   localDir,
		Bytes:  sum.Bytes,
		Files:  sum.Files,
	})
}
