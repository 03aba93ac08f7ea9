package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/cx1export/internal/archive"
	"github.com/ppiankov/cx1export/internal/credentials"
	"github.com/ppiankov/cx1export/internal/cxone"
	"github.com/ppiankov/cx1export/internal/export"
	"github.com/ppiankov/cx1export/internal/pagination"
	"github.com/ppiankov/cx1export/internal/report"
	"github.com/ppiankov/cx1export/internal/retry"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	defaultLimit     = 1000
	defaultScanLimit = 100
)

var exportFlags struct {
	fromDate       string
	toDate         string
	threadCount    int
	output         string
	limit          int
	offset         int
	pageSize       int
	rateLimit      float64
	dir            string
	nullValue      string
	timeout        time.Duration
	requestTimeout time.Duration
	maxRetries     int
	configPath     string
	summaryFile    string
	s3Bucket       string
	s3Prefix       string
	awsProfile     string
	awsRegion      string
	noProgress     bool
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Export audit events only",
	Long: `Exports the tenant's audit trail. Dates are inclusive; without dates the
whole available trail is exported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, export.ModeAudit)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Export scan results only",
	Long: `Exports scans with one table per scan engine. Without dates the newest
--limit scans starting at --offset are exported (default limit 100).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, export.ModeScan)
	},
}

func addExportFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&exportFlags.fromDate, "from_date", "", "Start date, inclusive (MM/DD/YY or MM/DD/YYYY)")
	flags.StringVar(&exportFlags.toDate, "to_date", "", "End date, inclusive (MM/DD/YY or MM/DD/YYYY)")
	flags.IntVar(&exportFlags.threadCount, "thread_count", pagination.DefaultWorkers, "Concurrent page fetches (1-7)")
	flags.StringVar(&exportFlags.output, "output", export.OutputExcel, "Output format: csv or excel")
	flags.IntVar(&exportFlags.limit, "limit", defaultLimit, "Maximum number of scans to export (scan subcommand default 100)")
	flags.IntVar(&exportFlags.offset, "offset", 0, "Number of scans to skip")
	flags.IntVar(&exportFlags.pageSize, "page_size", export.DefaultPageSize, "Scans requested per page")
	flags.Float64Var(&exportFlags.rateLimit, "rate_limit", 0, "Maximum requests per second, 0 for unlimited")
	flags.StringVar(&exportFlags.dir, "dir", report.DefaultDir, "Output directory")
	flags.StringVar(&exportFlags.nullValue, "null-value", "", "Text written for missing values")
	flags.DurationVar(&exportFlags.timeout, "timeout", 0, "Total operation timeout (e.g. 5m, 30s). 0 means no timeout")
	flags.DurationVar(&exportFlags.requestTimeout, "request-timeout", cxone.DefaultRequestTimeout, "Timeout of a single API request")
	flags.IntVar(&exportFlags.maxRetries, "max-retries", 3, "Attempts per page for transient failures")
	flags.StringVar(&exportFlags.configPath, "config", "", "Credentials file (default cx1export.yaml in . or the user config dir)")
	flags.StringVar(&exportFlags.summaryFile, "summary-file", "", "Write a JSON run summary to this file")
	flags.StringVar(&exportFlags.s3Bucket, "s3-bucket", "", "Upload written files to this S3 bucket")
	flags.StringVar(&exportFlags.s3Prefix, "s3-prefix", "", "Key prefix for uploaded files")
	flags.StringVar(&exportFlags.awsProfile, "aws-profile", "", "AWS profile to use for uploads")
	flags.StringVar(&exportFlags.awsRegion, "aws-region", "", "AWS region for uploads (defaults to profile default)")
	flags.BoolVar(&exportFlags.noProgress, "no-progress", false, "Disable progress indicators")
}

func runExport(cmd *cobra.Command, mode export.Mode) error {
	// Apply config file defaults for flags not explicitly set
	applyConfigToExportFlags(cmd, mode)

	opts := buildOptions(mode, "")
	if err := opts.Validate(); err != nil {
		return enhanceError("validation", err, exportFlags.threadCount)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if exportFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, exportFlags.timeout)
		defer cancel()
	}

	// Check if we're running in a terminal (for progress indicators)
	isTTY := term.IsTerminal(int(os.Stderr.Fd()))
	showProgress := isTTY && !exportFlags.noProgress

	// 1. Credentials
	printStatus("Loading credentials...")
	creds, err := credentials.Load(exportFlags.configPath)
	if err != nil {
		return enhanceError("credentials", err, exportFlags.threadCount)
	}
	token, err := credentials.NewTokenProvider(exportFlags.requestTimeout).Token(ctx, creds)
	if err != nil {
		return enhanceError("authentication", err, exportFlags.threadCount)
	}
	opts.Tenant = creds.TenantName

	// 2. API client
	client, err := cxone.NewClient(creds.APIURL, token, exportFlags.requestTimeout)
	if err != nil {
		return enhanceError("API client initialization", err, exportFlags.threadCount)
	}
	client.SetLogger(slog.Default())
	policy := retry.Default()
	if exportFlags.maxRetries > 0 {
		policy.MaxAttempts = exportFlags.maxRetries
	}
	client.SetRetryPolicy(policy)

	exporter := export.New(client, slog.Default())

	progress := newProgress(showProgress, os.Stderr)
	defer progress.Stop()
	exporter.SetProgress(progress.Callback)

	// 3. Optional archive
	if exportFlags.s3Bucket != "" {
		s3Client, err := archive.NewClient(ctx, exportFlags.awsProfile, exportFlags.awsRegion)
		if err != nil {
			return enhanceError("S3 client initialization", err, exportFlags.threadCount)
		}
		uploader, err := archive.NewUploader(s3Client, exportFlags.s3Bucket, exportFlags.s3Prefix, archive.DefaultConcurrency)
		if err != nil {
			return enhanceError("S3 upload setup", err, exportFlags.threadCount)
		}
		uploader.SetLogger(slog.Default())
		exporter.SetArchiver(uploader)
	}

	// 4. Export
	printStatus("Exporting %s for tenant %s", mode, creds.TenantName)
	summary, runErr := exporter.Run(ctx, opts)
	progress.Stop()

	summary.Tool = "cx1export"
	summary.Version = GetVersion()
	if err := writeSummaries(summary, cmd); err != nil {
		slog.Warn("Failed to write run summary", "error", err)
	}

	slog.Info("Export complete",
		slog.String("run_id", summary.RunID),
		slog.String("state", summary.State),
		slog.Int("file_count", len(summary.Files)),
		slog.Int("warning_count", summary.Warnings),
		slog.Duration("duration", summary.Duration),
	)

	if runErr != nil {
		return enhanceError("export", runErr, exportFlags.threadCount)
	}
	return nil
}

// buildOptions maps flags to export options.
func buildOptions(mode export.Mode, tenant string) export.Options {
	return export.Options{
		Mode:              mode,
		Tenant:            tenant,
		FromDate:          exportFlags.fromDate,
		ToDate:            exportFlags.toDate,
		ThreadCount:       exportFlags.threadCount,
		Output:            exportFlags.output,
		Limit:             exportFlags.limit,
		Offset:            exportFlags.offset,
		PageSize:          exportFlags.pageSize,
		RateLimit:         exportFlags.rateLimit,
		Dir:               exportFlags.dir,
		NullValue:         exportFlags.nullValue,
		CollectionTimeout: exportFlags.timeout,
	}
}

func writeSummaries(summary report.Summary, cmd *cobra.Command) error {
	reporter, err := selectReporter("text", cmd.OutOrStdout())
	if err != nil {
		return err
	}
	var errs []error
	if err := reporter.Generate(summary); err != nil {
		errs = append(errs, err)
	}

	if exportFlags.summaryFile != "" {
		errs = append(errs, writeSummaryFile(exportFlags.summaryFile, summary))
	}
	return errors.Join(errs...)
}

func writeSummaryFile(path string, summary report.Summary) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("summary file: %w", err)
	}
	defer func() { _ = f.Close() }()

	reporter, err := selectReporter("json", f)
	if err != nil {
		return err
	}
	return reporter.Generate(summary)
}

func applyConfigToExportFlags(cmd *cobra.Command, mode export.Mode) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if !changed("thread_count") && cfg.ThreadCount > 0 {
		exportFlags.threadCount = cfg.ThreadCount
	}
	if !changed("output") && cfg.Output != "" {
		exportFlags.output = cfg.Output
	}
	if !changed("dir") && cfg.Dir != "" {
		exportFlags.dir = cfg.Dir
	}
	if !changed("page_size") && cfg.PageSize > 0 {
		exportFlags.pageSize = cfg.PageSize
	}
	if !changed("limit") {
		switch {
		case cfg.Limit > 0:
			exportFlags.limit = cfg.Limit
		case mode == export.ModeScan:
			exportFlags.limit = defaultScanLimit
		}
	}
	if !changed("rate_limit") && cfg.RateLimit > 0 {
		exportFlags.rateLimit = cfg.RateLimit
	}
	if !changed("null-value") && cfg.NullValue != nil {
		exportFlags.nullValue = *cfg.NullValue
	}
	if !changed("timeout") {
		if d := cfg.TimeoutDuration(); d > 0 {
			exportFlags.timeout = d
		}
	}
	if !changed("request-timeout") {
		if d := cfg.RequestTimeoutDuration(); d > 0 {
			exportFlags.requestTimeout = d
		}
	}
	if !changed("max-retries") && cfg.MaxRetries > 0 {
		exportFlags.maxRetries = cfg.MaxRetries
	}
	if !changed("s3-bucket") && cfg.S3Bucket != "" {
		exportFlags.s3Bucket = cfg.S3Bucket
	}
	if !changed("s3-prefix") && cfg.S3Prefix != "" {
		exportFlags.s3Prefix = cfg.S3Prefix
	}
}
