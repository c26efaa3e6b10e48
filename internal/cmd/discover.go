package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/ledger"
	"github.com/q99/cloudservices/pkg/output"
)

// Output formats for discover.
const (
	formatJSONL = "jsonl"
	formatYAML  = "yaml"
	formatText  = "text"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <uri>",
	Short: "List objects that are new since the last ingestion",
	Long: `Discover lists a bucket (optionally under a key prefix) and prints the
identifiers of objects that still need to be ingested.

An object is reported when it is not a directory marker, has not been
ingested, is strictly newer than the watermark, is no larger than the size
ceiling, and (with --dedup) does not repeat content already seen in this
pass.

Examples:
  cloudservices discover s3://landing/incoming/
  cloudservices discover azure://inbox --watermark 2024-06-01T00:00:00Z
  cloudservices discover gcs://lake --ingested-file done.txt --dedup
  cloudservices discover file://drop --ledger --commit --format text`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

var (
	discoverIngestedFile string
	discoverWatermark    string
	discoverMaxSizeMB    int64
	discoverDedup        bool
	discoverUseLedger    bool
	discoverLedgerPath   string
	discoverCommit       bool
	discoverOutput       string
	discoverFormat       string
)

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringVar(&discoverIngestedFile, "ingested-file", "", "File of already-ingested identifiers, one per line (- for stdin)")
	discoverCmd.Flags().StringVar(&discoverWatermark, "watermark", "", "Only report objects modified after this RFC3339 time")
	discoverCmd.Flags().Int64Var(&discoverMaxSizeMB, "max-size-mb", 0, "Size ceiling in MiB (default from config, 500)")
	discoverCmd.Flags().BoolVar(&discoverDedup, "dedup", false, "Drop objects whose content repeats within the pass (reads every candidate)")
	discoverCmd.Flags().BoolVar(&discoverUseLedger, "ledger", false, "Merge ingested identifiers and watermark from the ledger")
	discoverCmd.Flags().StringVar(&discoverLedgerPath, "ledger-path", "", "Ledger database path (default from config)")
	discoverCmd.Flags().BoolVar(&discoverCommit, "commit", false, "Record the reported identifiers in the ledger")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "", "Write results to a file instead of stdout")
	discoverCmd.Flags().StringVar(&discoverFormat, "format", formatJSONL, "Output format (jsonl|yaml|text)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uri, err := parseURIArg(args[0])
	if err != nil {
		return err
	}
	if uri.IsPattern() {
		return exitError(foundry.ExitInvalidArgument, "Glob patterns are not supported by discover", fmt.Errorf("use a prefix URI instead of %s", uri))
	}

	format := strings.ToLower(discoverFormat)
	switch format {
	case formatJSONL, formatYAML, formatText:
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("format %q must be jsonl, yaml or text", discoverFormat))
	}

	req, err := buildDiscoveryRequest(cmd, uri)
	if err != nil {
		return err
	}

	scope := ledger.Scope{Cloud: string(uri.Cloud), Bucket: uri.Bucket, Prefix: uri.Key}
	var store *ledger.Store
	if discoverUseLedger || discoverCommit {
		store, err = openLedger(ctx, discoverLedgerPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}
	if discoverUseLedger {
		if req, err = store.Apply(ctx, scope, req); err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read ledger", err)
		}
	}

	svc, err := openStorage(ctx, uri.Cloud)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	observability.CLILogger.Info("Starting discovery",
		zap.String("uri", uri.String()),
		zap.Int("ingested", req.Ingested.Len()),
		zap.Time("watermark", req.Watermark),
		zap.Bool("dedup", req.UseContentDedup))

	res, err := svc.Discover(ctx, req)
	if err != nil {
		observability.CLILogger.Error("Discovery failed", zap.Error(err))
		return exitError(classify(err), "Discovery failed", err)
	}

	out, closeOut, err := openOutput(cmd, discoverOutput)
	if err != nil {
		return err
	}
	defer closeOut()

	if err := writeDiscovery(ctx, out, format, string(svc.Type()), uri, res); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	if discoverCommit {
		if err := store.Commit(ctx, scope, ledger.BatchFromResult(res)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to commit ledger", err)
		}
	}

	observability.CLILogger.Info("Discovery completed",
		zap.String("run_id", res.RunID),
		zap.Int64("listed", res.Stats.Listed),
		zap.Int64("accepted", res.Stats.Accepted),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("duration", res.Stats.Duration))
	return nil
}

func buildDiscoveryRequest(cmd *cobra.Command, uri *ObjectURI) (discovery.Request, error) {
	req := discovery.Request{
		Bucket:          uri.Bucket,
		Prefix:          uri.Key,
		UseContentDedup: discoverDedup,
		MaxSizeBytes:    appConfig.MaxSizeBytes(),
		Ingested:        discovery.NewIdentifierSet(),
	}
	if cmd.Flags().Changed("max-size-mb") {
		if discoverMaxSizeMB <= 0 {
			return req, exitError(foundry.ExitInvalidArgument, "Invalid --max-size-mb value", fmt.Errorf("must be > 0"))
		}
		if err := discovery.CheckMaxSizeMB(discoverMaxSizeMB); err != nil {
			return req, exitError(foundry.ExitInvalidArgument, "Invalid --max-size-mb value", err)
		}
		req.MaxSizeBytes = discovery.MaxSizeMB(discoverMaxSizeMB)
	}

	if discoverWatermark != "" {
		wm, err := time.Parse(time.RFC3339Nano, discoverWatermark)
		if err != nil {
			return req, exitError(foundry.ExitInvalidArgument, "Invalid --watermark value", err)
		}
		req.Watermark = wm
	}

	if discoverIngestedFile != "" {
		ids, err := readIngested(cmd, discoverIngestedFile)
		if err != nil {
			return req, exitError(foundry.ExitFileReadError, "Failed to read --ingested-file", err)
		}
		req.Ingested = ids
	}
	return req, nil
}

// readIngested reads one identifier per line. Blank lines and lines
// starting with # are ignored.
func readIngested(cmd *cobra.Command, path string) (discovery.IdentifierSet, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	ids := discovery.NewIdentifierSet()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids.Add(line)
	}
	return ids, sc.Err()
}

func writeDiscovery(ctx context.Context, w io.Writer, format, providerName string, uri *ObjectURI, res *discovery.Result) error {
	switch format {
	case formatYAML:
		return output.NewReport(providerName, uri.Bucket, uri.Key, res).WriteYAML(w)
	case formatText:
		return output.NewReport(providerName, uri.Bucket, uri.Key, res).WriteText(w)
	default:
		jw := output.NewJSONLWriter(w, res.RunID, providerName)
		defer func() { _ = jw.Close() }()
		return output.WriteResult(ctx, jw, uri.Bucket, uri.Key, res)
	}
}

// openOutput returns the command's stdout or a created file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		observability.CLILogger.Error("Failed to create output", zap.String("path", path), zap.Error(err))
		return nil, nil, exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	return f, func() { _ = f.Close() }, nil
}
