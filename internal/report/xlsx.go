package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ubuntu/decorate"
	"github.com/xuri/excelize/v2"
)

const (
	maxSheetName   = 31
	maxColumnWidth = 50
	headerFill     = "CCCCCC"
	defaultSheet   = "Sheet1"
	emptySheet     = "No Data"
)

var sheetNameReplacer = strings.NewReplacer(
	"[", "_", "]", "_", ":", "_", "*", "_", "?", "_", "/", "_", `\`, "_",
)

// XLSXSink writes every table as one sheet of a single workbook.
type XLSXSink struct {
	path      string
	nullValue string
	file      *excelize.File
	sheets    map[string]bool
	count     int
	header    int

	save func(f *excelize.File, path string) error
}

// NewXLSXSink creates a sink writing the workbook dir/name on Close.
func NewXLSXSink(dir, name, nullValue string) *XLSXSink {
	return &XLSXSink{
		path:      filepath.Join(dir, name),
		nullValue: nullValue,
		file:      excelize.NewFile(),
		sheets:    make(map[string]bool),
		header:    -1,
		save: func(f *excelize.File, path string) error {
			return f.SaveAs(path)
		},
	}
}

// Path returns the workbook path.
func (s *XLSXSink) Path() string {
	return s.path
}

// WriteTable adds t as a new sheet.
func (s *XLSXSink) WriteTable(t Table) (err error) {
	defer func() {
		if err != nil {
			err = NewOutputError(s.path, t.Name, err)
		}
	}()
	defer decorate.OnError(&err, "sheet %q", t.Name)

	if err := checkCellLengths(t); err != nil {
		return err
	}

	sheet, err := s.addSheet(t.Name)
	if err != nil {
		return err
	}

	widths := make([]int, len(t.Columns))
	header := make([]any, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = col
		widths[i] = utf8.RuneCountInString(col)
	}
	if err := s.file.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for r, row := range t.Rows {
		cells := make([]any, len(t.Columns))
		for i := range cells {
			var v any
			if i < len(row) {
				v = row[i]
			}
			cells[i] = s.cellValue(v)
			if n := utf8.RuneCountInString(FormatCell(v, s.nullValue)); n > widths[i] {
				widths[i] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := s.file.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}

	return s.format(sheet, widths)
}

func (s *XLSXSink) cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return s.nullValue
	case time.Time:
		return FormatCell(x, s.nullValue)
	default:
		return x
	}
}

// checkCellLengths rejects tables holding a text value Excel would cut.
// It runs before the sheet exists so a rejected table leaves no partial sheet.
func checkCellLengths(t Table) error {
	for r, row := range t.Rows {
		for i, v := range row {
			text, ok := v.(string)
			if !ok {
				continue
			}
			if n := utf8.RuneCountInString(text); n > excelize.TotalCellChars {
				column := ""
				if i < len(t.Columns) {
					column = t.Columns[i]
				}
				return fmt.Errorf("%w: row %d column %q holds %d characters", ErrCellTooLong, r+1, column, n)
			}
		}
	}
	return nil
}

// addSheet creates a sheet named after the table, reusing the default
// sheet for the first table.
func (s *XLSXSink) addSheet(table string) (string, error) {
	name := s.uniqueSheet(SheetName(table))
	if s.count == 0 {
		if err := s.file.SetSheetName(defaultSheet, name); err != nil {
			return "", err
		}
	} else if _, err := s.file.NewSheet(name); err != nil {
		return "", err
	}
	s.count++
	s.sheets[strings.ToLower(name)] = true
	return name, nil
}

func (s *XLSXSink) uniqueSheet(name string) string {
	if !s.sheets[strings.ToLower(name)] {
		return name
	}
	for i := 2; ; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		candidate := truncateRunes(name, maxSheetName-len(suffix)) + suffix
		if !s.sheets[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

func (s *XLSXSink) format(sheet string, widths []int) error {
	if len(widths) == 0 {
		return nil
	}
	if s.header < 0 {
		style, err := s.file.NewStyle(&excelize.Style{
			Font: &excelize.Font{Bold: true},
			Fill: excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
		})
		if err != nil {
			return err
		}
		s.header = style
	}

	last, err := excelize.CoordinatesToCellName(len(widths), 1)
	if err != nil {
		return err
	}
	if err := s.file.SetCellStyle(sheet, "A1", last, s.header); err != nil {
		return err
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := s.file.SetColWidth(sheet, col, col, float64(min(w+2, maxColumnWidth))); err != nil {
			return err
		}
	}

	return s.file.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// Close saves the workbook. A workbook without tables gets a placeholder
// sheet.
func (s *XLSXSink) Close() (paths []string, err error) {
	defer func() {
		if err != nil {
			err = NewOutputError(s.path, "", err)
		}
	}()
	defer decorate.OnError(&err, "workbook export")
	defer func() {
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if s.count == 0 {
		if err := s.file.SetSheetName(defaultSheet, emptySheet); err != nil {
			return nil, err
		}
		if err := s.file.SetCellValue(emptySheet, "A1", "No records matched the requested range."); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return nil, err
	}
	if err := s.save(s.file, s.path); err != nil {
		return nil, err
	}
	return []string{s.path}, nil
}

// SheetName converts a table name into a valid worksheet name.
func SheetName(table string) string {
	name := strings.Trim(sheetNameReplacer.Replace(table), "'")
	name = truncateRunes(name, maxSheetName)
	if strings.TrimSpace(name) == "" {
		return "Sheet"
	}
	return name
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
