package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/cx1export/internal/normalize"
)

// DefaultDir is where export files are written unless configured otherwise.
const DefaultDir = "audit_events_output"

// Naming derives output file names from the tenant and requested range.
type Naming struct {
	Tenant string
	// From and To are the dates as the user typed them.
	From string
	To   string
	// LimitOffset selects the _limit_N_offset_M suffix used by scan-only
	// runs without a full date range.
	LimitOffset bool
	Limit       int
	Offset      int
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Suffix returns the range part of file names.
func (n Naming) Suffix() string {
	if n.From != "" && n.To != "" {
		return fmt.Sprintf("_%s_to_%s", safeDate(n.From), safeDate(n.To))
	}
	if n.LimitOffset {
		return fmt.Sprintf("_limit_%d_offset_%d", n.Limit, n.Offset)
	}
	return ""
}

func safeDate(d string) string {
	return strings.ReplaceAll(d, "/", "-")
}

func (n Naming) prefix() string {
	if n.Tenant == "" {
		return ""
	}
	return unsafeFileChars.ReplaceAllString(n.Tenant, "_") + "_"
}

// TableBase returns the file stem of a table's CSV file.
func TableBase(t Table) string {
	switch {
	case t.Source == normalize.SourceAudit:
		return "audit_events"
	case t.Engine != "":
		return "scan_results_" + t.Engine
	case t.Source == normalize.SourceScan:
		return "scan_results"
	default:
		return unsafeFileChars.ReplaceAllString(strings.ToLower(t.Name), "_")
	}
}

// CSVName returns the file name for a table written as CSV.
func (n Naming) CSVName(t Table) string {
	return n.prefix() + TableBase(t) + n.Suffix() + ".csv"
}

// WorkbookName returns the file name of a workbook holding the given sources.
func (n Naming) WorkbookName(sources ...normalize.SourceKind) string {
	var audit, scans bool
	for _, s := range sources {
		switch s {
		case normalize.SourceAudit:
			audit = true
		case normalize.SourceScan:
			scans = true
		}
	}

	stem := "cx1_data"
	switch {
	case audit && !scans:
		stem = "audit_events"
	case scans && !audit:
		stem = "scan_results"
	}
	return n.prefix() + stem + n.Suffix() + ".xlsx"
}

// uniqueName returns name, or name with a numeric suffix when it was
// already used in this run.
func uniqueName(used map[string]int, name string) string {
	used[name]++
	if used[name] == 1 {
		return name
	}
	ext := ""
	stem := name
	if i := strings.LastIndex(name, "."); i > 0 {
		stem, ext = name[:i], name[i:]
	}
	for {
		candidate := fmt.Sprintf("%s_%d%s", stem, used[name], ext)
		if used[candidate] == 0 {
			used[candidate] = 1
			return candidate
		}
		used[name]++
	}
}
