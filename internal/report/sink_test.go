package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/ppiankov/cx1export/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func auditTable() Table {
	return Table{
		Name:    normalize.AuditTable,
		Source:  normalize.SourceAudit,
		Columns: []string{"event_date", "event_type", "actor_id"},
		Rows: [][]any{
			{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "login", "u-1"},
			{time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), "logout", nil},
		},
	}
}

func sastTable() Table {
	return Table{
		Name:    "SAST",
		Source:  normalize.SourceScan,
		Engine:  "sast",
		Columns: []string{"scan_id", "sast_lines_of_code", "sast_status"},
		Rows:    [][]any{{"s-1", int64(1200), "Completed"}},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestNaming(t *testing.T) {
	t.Parallel()

	fallback := Table{Name: normalize.FallbackTable, Source: normalize.SourceScan}

	tests := map[string]struct {
		naming Naming
		table  Table

		wantCSV      string
		wantCombined string
	}{
		"Tenant with range": {
			naming:       Naming{Tenant: "acme", From: "01/15/2024", To: "02/15/2024"},
			table:        auditTable(),
			wantCSV:      "acme_audit_events_01-15-2024_to_02-15-2024.csv",
			wantCombined: "acme_cx1_data_01-15-2024_to_02-15-2024.xlsx",
		},
		"No range": {
			naming:       Naming{Tenant: "acme"},
			table:        fallback,
			wantCSV:      "acme_scan_results.csv",
			wantCombined: "acme_cx1_data.xlsx",
		},
		"Half range is ignored": {
			naming:       Naming{Tenant: "acme", From: "1/1/24"},
			table:        sastTable(),
			wantCSV:      "acme_scan_results_sast.csv",
			wantCombined: "acme_cx1_data.xlsx",
		},
		"Limit offset suffix": {
			naming:       Naming{Tenant: "acme", LimitOffset: true, Limit: 100, Offset: 200},
			table:        fallback,
			wantCSV:      "acme_scan_results_limit_100_offset_200.csv",
			wantCombined: "acme_cx1_data_limit_100_offset_200.xlsx",
		},
		"Range wins over limit offset": {
			naming:       Naming{Tenant: "acme", From: "1/1/24", To: "1/2/24", LimitOffset: true, Limit: 5},
			table:        fallback,
			wantCSV:      "acme_scan_results_1-1-24_to_1-2-24.csv",
			wantCombined: "acme_cx1_data_1-1-24_to_1-2-24.xlsx",
		},
		"Unsafe tenant characters": {
			naming:       Naming{Tenant: "a/b c"},
			table:        auditTable(),
			wantCSV:      "a_b_c_audit_events.csv",
			wantCombined: "a_b_c_cx1_data.xlsx",
		},
		"No tenant": {
			naming:       Naming{},
			table:        auditTable(),
			wantCSV:      "audit_events.csv",
			wantCombined: "cx1_data.xlsx",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.wantCSV, tc.naming.CSVName(tc.table))
			assert.Equal(t, tc.wantCombined, tc.naming.WorkbookName(normalize.SourceAudit, normalize.SourceScan))
		})
	}
}

func TestNaming_SingleSourceWorkbook(t *testing.T) {
	t.Parallel()

	n := Naming{Tenant: "acme"}
	assert.Equal(t, "acme_audit_events.xlsx", n.WorkbookName(normalize.SourceAudit))
	assert.Equal(t, "acme_scan_results.xlsx", n.WorkbookName(normalize.SourceScan))
	assert.Equal(t, "acme_cx1_data.xlsx", n.WorkbookName())
}

func TestUniqueName(t *testing.T) {
	t.Parallel()

	used := map[string]int{}
	assert.Equal(t, "a.csv", uniqueName(used, "a.csv"))
	assert.Equal(t, "a_2.csv", uniqueName(used, "a.csv"))
	assert.Equal(t, "a_3.csv", uniqueName(used, "a.csv"))
	assert.Equal(t, "b", uniqueName(used, "b"))
	assert.Equal(t, "b_2", uniqueName(used, "b"))
}

func TestCSVSink_WritesOneFilePerTable(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	sink := NewCSVSink(dir, Naming{Tenant: "acme"}, "NA")

	paths, results, err := NewAssembler(nil).Write([]Table{auditTable(), sastTable()}, sink)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "acme_audit_events.csv"),
		filepath.Join(dir, "acme_scan_results_sast.csv"),
	}, paths)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Rows)
	assert.Empty(t, results[0].Error)

	audit := readCSV(t, paths[0])
	assert.Equal(t, [][]string{
		{"event_date", "event_type", "actor_id"},
		{"2024-01-02T03:04:05Z", "login", "u-1"},
		{"2024-01-03T00:00:00Z", "logout", "NA"},
	}, audit)

	sast := readCSV(t, paths[1])
	assert.Equal(t, []string{"s-1", "1200", "Completed"}, sast[1])
}

func TestCSVSink_NameCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := NewCSVSink(dir, Naming{}, "")
	require.NoError(t, sink.WriteTable(auditTable()))
	require.NoError(t, sink.WriteTable(auditTable()))

	paths, err := sink.Close()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "audit_events.csv"), filepath.Join(dir, "audit_events_2.csv")}, paths)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }
func (w failingWriter) Close() error              { return nil }

func TestCSVSink_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		create func(string) (io.WriteCloser, error)

		wantLocked bool
	}{
		"Permission denied is a lock": {
			create: func(p string) (io.WriteCloser, error) {
				return nil, &fs.PathError{Op: "open", Path: p, Err: syscall.EACCES}
			},
			wantLocked: true,
		},
		"Busy file is a lock": {
			create: func(p string) (io.WriteCloser, error) {
				return nil, &fs.PathError{Op: "open", Path: p, Err: syscall.EBUSY}
			},
			wantLocked: true,
		},
		"Windows sharing violation is a lock": {
			create: func(p string) (io.WriteCloser, error) {
				return nil, errors.New("The process cannot access the file because it is being used by another process.")
			},
			wantLocked: true,
		},
		"Disk full is not a lock": {
			create: func(string) (io.WriteCloser, error) {
				return failingWriter{err: syscall.ENOSPC}, nil
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			sink := NewCSVSink(t.TempDir(), Naming{Tenant: "acme"}, "")
			sink.create = tc.create

			err := sink.WriteTable(auditTable())
			var outErr *OutputError
			require.ErrorAs(t, err, &outErr)
			assert.Equal(t, tc.wantLocked, outErr.Locked)
			assert.Equal(t, normalize.AuditTable, outErr.Table)
			assert.True(t, strings.HasSuffix(outErr.Path, "acme_audit_events.csv"), "path %q", outErr.Path)
			if tc.wantLocked {
				assert.Contains(t, outErr.Remediation(), "--output csv")
				assert.Contains(t, outErr.Error(), "locked")
			}

			paths, err := sink.Close()
			require.NoError(t, err)
			assert.Empty(t, paths, "failed tables are not reported as written")
		})
	}
}

// brokenFile fails writes after the file was created on disk.
type brokenFile struct {
	*os.File
	err error
}

func (f brokenFile) Write([]byte) (int, error) { return 0, f.err }

func TestCSVSink_FailedWriteRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := NewCSVSink(dir, Naming{Tenant: "acme"}, "")
	sink.create = func(p string) (io.WriteCloser, error) {
		f, err := os.Create(p)
		if err != nil {
			return nil, err
		}
		return brokenFile{File: f, err: syscall.ENOSPC}, nil
	}

	err := sink.WriteTable(auditTable())
	require.ErrorIs(t, err, syscall.ENOSPC)

	_, statErr := os.Stat(filepath.Join(dir, "acme_audit_events.csv"))
	assert.True(t, errors.Is(statErr, fs.ErrNotExist), "partial file left behind: %v", statErr)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestXLSXSink_Workbook(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	long := Table{
		Name:    "A very long table name: with [illegal] chars?",
		Source:  normalize.SourceScan,
		Columns: []string{"x"},
		Rows:    [][]any{{strings.Repeat("w", 80)}},
	}
	sink := NewXLSXSink(dir, "acme_cx1_data.xlsx", "")

	paths, _, err := NewAssembler(nil).Write([]Table{auditTable(), sastTable(), long}, sink)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "acme_cx1_data.xlsx")}, paths)

	f, err := excelize.OpenFile(paths[0])
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	sheets := f.GetSheetList()
	require.Len(t, sheets, 3)
	assert.Equal(t, normalize.AuditTable, sheets[0])
	assert.Equal(t, "SAST", sheets[1])
	assert.LessOrEqual(t, len([]rune(sheets[2])), 31, "sheet names are capped at 31 characters")
	assert.NotContains(t, sheets[2], "[")
	assert.NotContains(t, sheets[2], ":")

	rows, err := f.GetRows(normalize.AuditTable)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"event_date", "event_type", "actor_id"}, rows[0])
	assert.Equal(t, "2024-01-02T03:04:05Z", rows[1][0])
	assert.Equal(t, "logout", rows[2][1])

	width, err := f.GetColWidth(sheets[2], "A")
	require.NoError(t, err)
	assert.InDelta(t, 50, width, 0.01, "column width is capped")

	width, err = f.GetColWidth("SAST", "A")
	require.NoError(t, err)
	assert.InDelta(t, float64(len("scan_id")+2), width, 0.01)

	style, err := f.GetCellStyle("SAST", "A1")
	require.NoError(t, err)
	s, err := f.GetStyle(style)
	require.NoError(t, err)
	require.NotNil(t, s.Font)
	assert.True(t, s.Font.Bold, "header row is bold")
}

func TestXLSXSink_EmptyWorkbook(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := NewXLSXSink(dir, "acme_scan_results.xlsx", "")
	paths, err := sink.Close()
	require.NoError(t, err)

	f, err := excelize.OpenFile(paths[0])
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	assert.Equal(t, []string{"No Data"}, f.GetSheetList())
}

func TestXLSXSink_DuplicateSheetNames(t *testing.T) {
	t.Parallel()

	sink := NewXLSXSink(t.TempDir(), "dup.xlsx", "")
	require.NoError(t, sink.WriteTable(sastTable()))
	require.NoError(t, sink.WriteTable(sastTable()))
	paths, err := sink.Close()
	require.NoError(t, err)

	f, err := excelize.OpenFile(paths[0])
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	assert.Equal(t, []string{"SAST", "SAST (2)"}, f.GetSheetList())
}

func TestXLSXSink_LockedWorkbook(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := NewXLSXSink(dir, "acme_cx1_data.xlsx", "")
	sink.save = func(_ *excelize.File, path string) error {
		return &fs.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
	}

	paths, results, err := NewAssembler(nil).Write([]Table{auditTable()}, sink)
	assert.Empty(t, paths)

	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
	assert.True(t, outErr.Locked)
	assert.Equal(t, filepath.Join(dir, "acme_cx1_data.xlsx"), outErr.Path)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Error, "tables of an unsaved workbook are reported as not written")
}

func TestXLSXSink_OversizedCellFailsTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	long := strings.Repeat("x", excelize.TotalCellChars+1)
	scans := Table{
		Name:    normalize.FallbackTable,
		Source:  normalize.SourceScan,
		Columns: []string{"scan_id", "details"},
		Rows:    [][]any{{"s-1", "short"}, {"s-2", long}},
	}

	sink := NewXLSXSink(dir, "acme_cx1_data.xlsx", "")
	paths, results, err := NewAssembler(nil).Write([]Table{auditTable(), scans}, sink)

	require.ErrorIs(t, err, ErrCellTooLong)
	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
	assert.Equal(t, normalize.FallbackTable, outErr.Table)
	assert.False(t, outErr.Locked)
	assert.Contains(t, outErr.Remediation(), "--output csv")
	assert.Contains(t, err.Error(), `column "details"`)

	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[1].Error, "a table Excel would cut is reported as failed")

	require.Equal(t, []string{filepath.Join(dir, "acme_cx1_data.xlsx")}, paths)
	f, err := excelize.OpenFile(paths[0])
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{normalize.AuditTable}, f.GetSheetList(), "no partial sheet for the rejected table")
}

func TestXLSXSink_CellAtLimitIsWritten(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	value := strings.Repeat("y", excelize.TotalCellChars)
	sink := NewXLSXSink(dir, "acme_audit_events.xlsx", "")
	_, _, err := NewAssembler(nil).Write([]Table{{
		Name:    normalize.AuditTable,
		Source:  normalize.SourceAudit,
		Columns: []string{"details"},
		Rows:    [][]any{{value}},
	}}, sink)
	require.NoError(t, err)

	f, err := excelize.OpenFile(filepath.Join(dir, "acme_audit_events.xlsx"))
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetCellValue(normalize.AuditTable, "A2")
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

// lockedSink fails every table as if the target were open elsewhere.
type lockedSink struct{ path string }

func (s lockedSink) WriteTable(t Table) error {
	return NewOutputError(s.path, t.Name, &fs.PathError{Op: "open", Path: s.path, Err: syscall.EACCES})
}

func (s lockedSink) Close() ([]string, error) { return nil, nil }

func TestAssembler_LockedSinkKeepsOtherExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := NewAssembler(nil)

	csvPaths, _, err := a.Write([]Table{auditTable()}, NewCSVSink(dir, Naming{Tenant: "acme"}, ""))
	require.NoError(t, err)

	_, results, err := a.Write([]Table{sastTable()}, lockedSink{path: filepath.Join(dir, "acme_scan_results.xlsx")})
	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
	assert.True(t, outErr.Locked)
	assert.Equal(t, "SAST", results[0].Name)

	require.Len(t, csvPaths, 1)
	records := readCSV(t, csvPaths[0])
	assert.Len(t, records, 3, "completed CSV export must be intact")
}

func TestAssembler_ContinuesAfterTableFailure(t *testing.T) {
	t.Parallel()

	sink := &flakySink{failOn: "SAST"}
	_, results, err := NewAssembler(nil).Write([]Table{sastTable(), auditTable()}, sink)

	require.Error(t, err)
	var outErr *OutputError
	require.ErrorAs(t, err, &outErr, "plain sink errors are wrapped as OutputError")
	assert.Equal(t, "SAST", outErr.Table)
	assert.Equal(t, []string{normalize.AuditTable}, sink.written)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Error)
	assert.Empty(t, results[1].Error)
}

type flakySink struct {
	failOn  string
	written []string
}

func (s *flakySink) WriteTable(t Table) error {
	if t.Name == s.failOn {
		return fmt.Errorf("disk quota exceeded")
	}
	s.written = append(s.written, t.Name)
	return nil
}

func (s *flakySink) Close() ([]string, error) { return nil, nil }

func TestFormatCell(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in   any
		want string
	}{
		"Nil uses null value": {in: nil, want: "NA"},
		"String":              {in: "x", want: "x"},
		"Int64":               {in: int64(-12), want: "-12"},
		"Int":                 {in: 3, want: "3"},
		"Float":               {in: 2.50, want: "2.5"},
		"Bool":                {in: true, want: "true"},
		"Time in UTC":         {in: time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.FixedZone("X", 3600)), want: "2024-01-02T02:04:05.6Z"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, FormatCell(tc.in, "NA"))
		})
	}
}

func TestSheetName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Audit Events", SheetName("Audit Events"))
	assert.Equal(t, "a_b_c_d", SheetName("a/b:c?d"))
	assert.Equal(t, "Sheet", SheetName("''"))
	assert.Len(t, []rune(SheetName(strings.Repeat("é", 40))), 31)
}
