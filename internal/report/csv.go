package report

import (
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ubuntu/decorate"
)

// CSVSink writes each table to its own CSV file.
type CSVSink struct {
	dir       string
	naming    Naming
	nullValue string
	used      map[string]int
	paths     []string

	create func(path string) (io.WriteCloser, error)
}

// NewCSVSink creates a sink writing into dir. Missing values are written
// as nullValue.
func NewCSVSink(dir string, naming Naming, nullValue string) *CSVSink {
	return &CSVSink{
		dir:       dir,
		naming:    naming,
		nullValue: nullValue,
		used:      make(map[string]int),
		create: func(path string) (io.WriteCloser, error) {
			return os.Create(path)
		},
	}
}

// WriteTable writes t to a new CSV file.
func (s *CSVSink) WriteTable(t Table) (err error) {
	path := filepath.Join(s.dir, uniqueName(s.used, s.naming.CSVName(t)))
	defer func() {
		if err != nil {
			err = NewOutputError(path, t.Name, err)
		}
	}()
	defer decorate.OnError(&err, "csv export of %s", t.Name)

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}

	f, err := s.create(path)
	if err != nil {
		return err
	}
	// Runs after Close so a partial file never stays behind.
	defer func() {
		if err == nil {
			return
		}
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			slog.Warn("Failed to remove partial CSV file", slog.String("path", path), slog.String("error", rerr.Error()))
		}
	}()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			var v any
			if i < len(row) {
				v = row[i]
			}
			record[i] = FormatCell(v, s.nullValue)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	s.paths = append(s.paths, path)
	return nil
}

// Close returns the files written.
func (s *CSVSink) Close() ([]string, error) {
	return s.paths, nil
}
