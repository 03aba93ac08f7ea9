package report

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Sink persists tables.
type Sink interface {
	WriteTable(t Table) error
	// Close flushes pending output and returns the files written.
	Close() ([]string, error)
}

// ErrCellTooLong is returned when a value exceeds the workbook cell limit.
var ErrCellTooLong = errors.New("value exceeds the Excel cell limit of 32767 characters")

// OutputError is a failure to write a table or file.
type OutputError struct {
	Path  string
	Table string
	Err   error
	// Locked is set when the target is locked or not writable, typically
	// because it is open in another program.
	Locked bool
}

// NewOutputError wraps err, detecting lock and permission failures.
func NewOutputError(path, table string, err error) *OutputError {
	return &OutputError{Path: path, Table: table, Err: err, Locked: isLockError(err)}
}

func (e *OutputError) Error() string {
	target := e.Path
	if e.Table != "" {
		target = fmt.Sprintf("%s (table %q)", e.Path, e.Table)
	}
	if e.Locked {
		return fmt.Sprintf("cannot write %s: file is locked or not writable: %v", target, e.Err)
	}
	return fmt.Sprintf("cannot write %s: %v", target, e.Err)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

// Remediation returns steps the user can take to fix the failure.
func (e *OutputError) Remediation() string {
	if e.Locked {
		return "The file may be open in another program (such as Excel).\n" +
			"  - Close the file and try again\n" +
			"  - Or use --output csv\n" +
			"  - Or choose another directory with --dir"
	}
	if errors.Is(e.Err, ErrCellTooLong) {
		return "Excel cannot hold the full value without cutting it.\n" +
			"  - Use --output csv to keep every value intact"
	}
	return "Check that the output directory exists, is writable and has free space."
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "being used by another process") ||
		strings.Contains(msg, "sharing violation") ||
		strings.Contains(msg, "permission denied")
}

// Assembler writes tables through a sink.
type Assembler struct {
	logger *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger}
}

// Write hands every table to sink and closes it. A failing table does not
// stop the others; all failures are returned joined, each as an OutputError.
func (a *Assembler) Write(tables []Table, sink Sink) ([]string, []TableResult, error) {
	var errs []error
	results := make([]TableResult, 0, len(tables))
	for _, t := range tables {
		res := TableResult{Name: t.Name, Source: t.Source.String(), Rows: len(t.Rows), Columns: len(t.Columns)}
		if err := sink.WriteTable(t); err != nil {
			err = asOutputError(err, t.Name)
			res.Error = err.Error()
			errs = append(errs, err)
			a.logger.Warn("Table write failed", slog.String("table", t.Name), slog.String("error", err.Error()))
		} else {
			a.logger.Debug("Table written",
				slog.String("table", t.Name),
				slog.Int("rows", len(t.Rows)),
				slog.Int("columns", len(t.Columns)))
		}
		results = append(results, res)
	}

	paths, err := sink.Close()
	if err != nil {
		err = asOutputError(err, "")
		errs = append(errs, err)
		for i := range results {
			if results[i].Error == "" {
				results[i].Error = err.Error()
			}
		}
	}
	return paths, results, errors.Join(errs...)
}

func asOutputError(err error, table string) error {
	var outErr *OutputError
	if errors.As(err, &outErr) {
		return err
	}
	return NewOutputError("", table, err)
}

// FormatCell renders a cell value as text. Timestamps use ISO 8601 in UTC.
func FormatCell(v any, null string) string {
	switch x := v.(type) {
	case nil:
		return null
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
