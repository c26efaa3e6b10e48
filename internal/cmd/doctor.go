package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/pkg/preflight"
)

var (
	doctorWrite  bool
	doctorFormat string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor <uri>",
	Short: "Check access to a bucket",
	Long: `Run diagnostic checks against a bucket and report what the configured
credentials allow.

Listing is always checked. When the listing returns an object, reading it
is checked too. With --write a small object is written under
_cloudservices/preflight/ and deleted again.

Examples:
  cloudservices doctor s3://landing/incoming/
  cloudservices doctor azure://inbox --write --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorWrite, "write", false, "Also check write and delete with a marker object")
	doctorCmd.Flags().StringVar(&doctorFormat, "format", formatText, "Output format (text|yaml|jsonl)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uri, err := parseURIArg(args[0])
	if err != nil {
		return err
	}
	format := strings.ToLower(doctorFormat)
	switch format {
	case formatJSONL, formatYAML, formatText:
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("format %q must be jsonl, yaml or text", doctorFormat))
	}

	mode := preflight.ModeReadSafe
	if doctorWrite {
		mode = preflight.ModeReadWrite
	}

	svc, err := openStorage(ctx, uri.Cloud)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	rep, checkErr := svc.Preflight(ctx, uri.Bucket, uri.Key, mode)
	if rep != nil {
		if err := writeDoctorReport(cmd, format, rep); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	if checkErr != nil {
		observability.CLILogger.Warn("Preflight check failed",
			zap.String("uri", uri.String()),
			zap.Error(checkErr))
		return exitError(classify(checkErr), "Preflight check failed", checkErr)
	}
	return nil
}

func writeDoctorReport(cmd *cobra.Command, format string, rep *preflight.Report) error {
	out := cmd.OutOrStdout()
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	case formatJSONL:
		return json.NewEncoder(out).Encode(rep)
	}

	printf(cmd, "%s://%s/%s (%s)\n", rep.Provider, rep.Bucket, rep.Prefix, rep.Mode)
	for _, res := range rep.Results {
		mark := "ok"
		if !res.Allowed {
			mark = "FAILED " + res.ErrorCode
		}
		printf(cmd, "  %-14s %-8s %s\n", res.Capability, mark, res.Method)
	}
	return nil
}
