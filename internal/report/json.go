package report

import (
	"encoding/json"
	"io"
)

// JSONReporter writes the run summary as a JSON manifest
type JSONReporter struct {
	writer io.Writer
}

// NewJSONReporter creates a new JSON reporter
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{writer: w}
}

// Generate writes the summary
func (r *JSONReporter) Generate(data Summary) error {
	data.Timestamp = data.Timestamp.UTC()
	if data.Files == nil {
		data.Files = []string{}
	}
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
