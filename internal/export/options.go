package export

import (
	"fmt"
	"time"

	"github.com/ppiankov/cx1export/internal/normalize"
	"github.com/ppiankov/cx1export/internal/pagination"
	"github.com/ppiankov/cx1export/internal/report"
)

// Mode selects which sources a run collects.
type Mode string

const (
	ModeBoth  Mode = "both"
	ModeAudit Mode = "audit"
	ModeScan  Mode = "scan"
)

// Sources returns the sources collected in this mode, in fetch order.
func (m Mode) Sources() []normalize.SourceKind {
	switch m {
	case ModeAudit:
		return []normalize.SourceKind{normalize.SourceAudit}
	case ModeScan:
		return []normalize.SourceKind{normalize.SourceScan}
	default:
		return []normalize.SourceKind{normalize.SourceAudit, normalize.SourceScan}
	}
}

const (
	OutputCSV   = "csv"
	OutputExcel = "excel"

	// DefaultPageSize is the number of scans requested per page.
	DefaultPageSize = 100
	// DefaultWindowDays is the range used by combined runs without dates.
	DefaultWindowDays = 30

	dayLayout = "2006-01-02"
	// displayLayout renders resolved default dates like user input.
	displayLayout = "01/02/2006"
)

// dateLayouts are the accepted --from_date/--to_date formats.
var dateLayouts = []string{"1/2/2006", "1/2/06"}

// Options configures one export run.
type Options struct {
	Mode   Mode
	Tenant string
	// FromDate and ToDate are MM/DD/YY or MM/DD/YYYY, inclusive.
	FromDate    string
	ToDate      string
	ThreadCount int
	Output      string
	// Limit caps the number of scans. Zero means no cap.
	Limit     int
	Offset    int
	PageSize  int
	RateLimit float64
	Dir       string
	NullValue string
	// CollectionTimeout bounds the fetch of each source. Zero uses the
	// coordinator default.
	CollectionTimeout time.Duration
}

// ValidationError is an invalid option, reported before any request is made.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid --%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeBoth
	}
	if o.Output == "" {
		o.Output = OutputExcel
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Dir == "" {
		o.Dir = report.DefaultDir
	}
	return o
}

// Validate checks every option. The first problem is returned as a
// *ValidationError.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeBoth, ModeAudit, ModeScan:
	default:
		return &ValidationError{Field: "mode", Value: string(o.Mode), Err: fmt.Errorf("must be one of both, audit, scan")}
	}

	if err := pagination.ValidateWorkers(o.ThreadCount); err != nil {
		return &ValidationError{Field: "thread_count", Value: fmt.Sprint(o.ThreadCount), Err: err}
	}

	switch o.Output {
	case OutputCSV, OutputExcel:
	default:
		return &ValidationError{Field: "output", Value: o.Output, Err: fmt.Errorf("must be csv or excel")}
	}

	if o.Limit < 0 {
		return &ValidationError{Field: "limit", Value: fmt.Sprint(o.Limit), Err: fmt.Errorf("must not be negative")}
	}
	if o.Offset < 0 {
		return &ValidationError{Field: "offset", Value: fmt.Sprint(o.Offset), Err: fmt.Errorf("must not be negative")}
	}
	if o.RateLimit < 0 {
		return &ValidationError{Field: "rate_limit", Value: fmt.Sprint(o.RateLimit), Err: fmt.Errorf("must not be negative")}
	}

	from, err := parseOptionalDate("from_date", o.FromDate)
	if err != nil {
		return err
	}
	to, err := parseOptionalDate("to_date", o.ToDate)
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return &ValidationError{Field: "from_date", Value: o.FromDate, Err: fmt.Errorf("is after --to_date %s", o.ToDate)}
	}
	return nil
}

func parseOptionalDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Value: value, Err: err}
	}
	return t, nil
}

// ParseDate parses a MM/DD/YY or MM/DD/YYYY date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("expected MM/DD/YY or MM/DD/YYYY")
}

// dateRange is an inclusive range of calendar days. A zero bound is open.
type dateRange struct {
	from time.Time
	to   time.Time
	// fromText and toText are the bounds as used in file names.
	fromText string
	toText   string
}

// resolveRange turns validated options into the effective range. Combined
// runs without dates cover the last DefaultWindowDays days including today.
func (o Options) resolveRange(today time.Time) dateRange {
	r := dateRange{fromText: o.FromDate, toText: o.ToDate}
	r.from, _ = parseOptionalDate("from_date", o.FromDate)
	r.to, _ = parseOptionalDate("to_date", o.ToDate)

	if o.Mode == ModeBoth && o.FromDate == "" && o.ToDate == "" {
		day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		r.to = day
		r.from = day.AddDate(0, 0, -(DefaultWindowDays - 1))
		r.fromText = r.from.Format(displayLayout)
		r.toText = r.to.Format(displayLayout)
	}
	return r
}

func (r dateRange) open() bool {
	return r.from.IsZero() && r.to.IsZero()
}

// contains compares the UTC calendar day of t against the bounds.
func (r dateRange) contains(t time.Time) bool {
	day := t.UTC().Format(dayLayout)
	if !r.from.IsZero() && day < r.from.Format(dayLayout) {
		return false
	}
	if !r.to.IsZero() && day > r.to.Format(dayLayout) {
		return false
	}
	return true
}

// containsText reports whether a timestamp string falls in the range.
// Values that cannot be parsed are kept.
func (r dateRange) containsText(s string) bool {
	if s == "" || r.open() {
		return true
	}
	t, err := normalize.ParseTimestamp(s)
	if err != nil {
		return true
	}
	return r.contains(t)
}

func (r dateRange) keepLink(l pagination.Link) bool {
	return r.containsText(l.Date)
}

// filterEvents drops audit events dated outside the range.
func (r dateRange) filterEvents(items []pagination.Record) []pagination.Record {
	if r.open() {
		return items
	}
	kept := make([]pagination.Record, 0, len(items))
	for _, item := range items {
		date, _ := item["eventDate"].(string)
		if r.containsText(date) {
			kept = append(kept, item)
		}
	}
	return kept
}
