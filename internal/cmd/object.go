package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/pkg/output"
)

var getCmd = &cobra.Command{
	Use:   "get <uri>",
	Short: "Stream an object to stdout or a file",
	Example: `  cloudservices get s3://bucket/reports/q1.csv > q1.csv
  cloudservices get azure://inbox/a.json -o a.json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var putCmd = &cobra.Command{
	Use:   "put <local-file|-> <uri>",
	Short: "Upload a local file or stdin",
	Long: `Upload a local file, or stdin when the source is "-". When the URI ends
with "/" the file name is appended to it.`,
	Example: `  cloudservices put report.csv s3://bucket/reports/
  tar cz dir | cloudservices put - gcs://backups/dir.tgz`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

var rmCmd = &cobra.Command{
	Use:     "rm <uri>",
	Short:   "Delete an object",
	Example: `  cloudservices rm s3://bucket/tmp/old.csv`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRm,
}

var getOutput string

func init() {
	rootCmd.AddCommand(getCmd, putCmd, rmCmd)

	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Write to a file instead of stdout")
}

func requireKey(uri *ObjectURI) error {
	if uri.IsPattern() || uri.IsPrefix() {
		return exitError(foundry.ExitInvalidArgument, "URI must name a single object", fmt.Errorf("%s is a prefix or pattern", uri))
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uri, err := parseURIArg(args[0])
	if err != nil {
		return err
	}
	if err := requireKey(uri); err != nil {
		return err
	}

	svc, err := openStorage(ctx, uri.Cloud)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	out, closeOut, err := openOutput(cmd, getOutput)
	if err != nil {
		return err
	}
	defer closeOut()

	n, err := svc.DownloadStream(ctx, uri.Bucket, uri.Key, out)
	if err != nil {
		observability.CLILogger.Error("Download failed", zap.String("uri", uri.String()), zap.Error(err))
		return exitError(classify(err), "Download failed", err)
	}

	observability.CLILogger.Debug("Object downloaded",
		zap.String("uri", uri.String()),
		zap.Int64("bytes", n))
	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src := args[0]

	uri, err := parseURIArg(args[1])
	if err != nil {
		return err
	}
	if uri.IsPattern() {
		return exitError(foundry.ExitInvalidArgument, "Destination cannot be a pattern", fmt.Errorf("%s", uri))
	}

	key := uri.Key
	if uri.IsPrefix() {
		if src == "-" {
			return exitError(foundry.ExitInvalidArgument, "Destination key required for stdin uploads", fmt.Errorf("%s ends with /", uri))
		}
		key = path.Join(uri.Key, filepath.Base(src))
	}

	svc, err := openStorage(ctx, uri.Cloud)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	var size int64
	if src == "-" {
		err = svc.UploadStream(ctx, cmd.InOrStdin(), uri.Bucket, key)
	} else {
		info, statErr := os.Stat(src)
		if statErr != nil {
			return exitError(foundry.ExitFileReadError, "Cannot read source file", statErr)
		}
		size = info.Size()
		err = svc.UploadFile(ctx, src, uri.Bucket, key)
	}
	if err != nil {
		observability.CLILogger.Error("Upload failed", zap.String("key", key), zap.Error(err))
		return exitError(classify(err), "Upload failed", err)
	}

	return writeTransfer(cmd, string(svc.Type()), &output.TransferRecord{
		Op:     "put",
		Bucket: uri.Bucket,
		Key:    key,
		Path:   src,
		Bytes:  size,
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uri, err := parseURIArg(args[0])
	if err != nil {
		return err
	}
	if err := requireKey(uri); err != nil {
		return err
	}

	svc, err := openStorage(ctx, uri.Cloud)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.DeleteFile(ctx, uri.Bucket, uri.Key); err != nil {
		observability.CLILogger.Error("Delete failed", zap.String("uri", uri.String()), zap.Error(err))
		return exitError(classify(err), "Delete failed", err)
	}

	return writeTransfer(cmd, string(svc.Type()), &output.TransferRecord{
		Op:     "delete",
		Bucket: uri.Bucket,
		Key:    uri.Key,
	})
}

// writeTransfer prints one transfer record on stdout.
func writeTransfer(cmd *cobra.Command, providerName string, rec *output.TransferRecord) error {
	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), providerName)
	defer func() { _ = w.Close() }()
	if err := w.WriteTransfer(cmd.Context(), rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}
