package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ppiankov/cx1export/internal/credentials"
	"github.com/ppiankov/cx1export/internal/cxone"
	"github.com/ppiankov/cx1export/internal/report"
)

func printStatus(format string, args ...interface{}) {
	slog.Info(fmt.Sprintf(format, args...))
}

// enhanceError enhances an error with additional context and helpful suggestions
func enhanceError(operation string, err error, threads int) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	var cfgErr *credentials.ConfigError
	if errors.As(err, &cfgErr) {
		return fmt.Errorf("%s failed: Checkmarx One credentials are missing or invalid.\n"+
			"Solutions:\n"+
			"  - Create cx1export.yaml with api_url, iam_url, api_key and tenant_name\n"+
			"  - Or set CX1EXPORT_API_URL, CX1EXPORT_IAM_URL, CX1EXPORT_API_KEY and CX1EXPORT_TENANT_NAME\n"+
			"  - Use --config to point at another file\n"+
			"Original error: %w", operation, err)
	}

	var httpErr *cxone.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s failed: Access denied by Checkmarx One.\n"+
				"Solutions:\n"+
				"  - Check that the API key is valid and not expired\n"+
				"  - Ensure the key's client has the audit and scan view roles\n"+
				"Original error: %w", operation, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s failed: Checkmarx One rate limit exceeded.\n"+
				"Solutions:\n"+
				"  - Reduce concurrency with --thread_count flag (current: %d)\n"+
				"  - Set --rate_limit to throttle requests\n"+
				"Original error: %w", operation, threads, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s failed: Operation timed out.\n"+
			"Solutions:\n"+
			"  - Increase --timeout or --request-timeout\n"+
			"  - Narrow the range with --from_date and --to_date\n"+
			"Original error: %w", operation, err)
	}

	var outErr *report.OutputError
	if errors.As(err, &outErr) {
		return fmt.Errorf("%s failed: %w\n%s", operation, err, outErr.Remediation())
	}

	if strings.Contains(errMsg, "NoCredentialProviders") || strings.Contains(errMsg, "no valid credentials") ||
		strings.Contains(errMsg, "failed to retrieve credentials") {
		return fmt.Errorf("%s failed: No AWS credentials found for --s3-bucket upload.\n"+
			"Solutions:\n"+
			"  - Set AWS_PROFILE environment variable\n"+
			"  - Use --aws-profile flag\n"+
			"  - Configure AWS credentials with 'aws configure'\n"+
			"Original error: %w", operation, err)
	}

	if strings.Contains(errMsg, "AccessDenied") {
		return fmt.Errorf("%s failed: S3 access denied.\n"+
			"Solutions:\n"+
			"  - Ensure you have s3:PutObject permission on the bucket\n"+
			"  - Verify the correct AWS profile is being used\n"+
			"Original error: %w", operation, err)
	}

	// Default error with context
	return fmt.Errorf("%s failed: %w", operation, err)
}

func selectReporter(format string, writer io.Writer) (report.Reporter, error) {
	switch format {
	case "json":
		return report.NewJSONReporter(writer), nil
	case "text":
		return report.NewTextReporter(writer), nil
	default:
		return nil, fmt.Errorf("unsupported summary format: %s (supported: text, json)", format)
	}
}
