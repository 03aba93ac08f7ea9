package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestJSONReporter_Generate(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewJSONReporter(&buf)

	data := Summary{
		Tool:      "cx1export",
		Version:   "0.1.0",
		RunID:     "6f1c1e7e-8c1e-4a43-9d6b-3b1b0c7a2f10",
		Timestamp: time.Date(2024, 4, 5, 6, 7, 8, 0, time.UTC),
		Config: Config{
			Tenant:      "acme",
			Mode:        "both",
			FromDate:    "01/01/2024",
			ToDate:      "01/31/2024",
			Output:      "excel",
			ThreadCount: 4,
			Limit:       1000,
		},
		State: "WRITTEN",
		Sources: []SourceResult{
			{Name: "audit", Records: 12, Pages: 3},
			{Name: "scans", Records: 4, Pages: 1},
		},
		Tables: []TableResult{
			{Name: "Audit Events", Source: "audit", Rows: 12, Columns: 11},
			{Name: "SAST", Source: "scans", Rows: 4, Columns: 18},
		},
		Files: []string{"audit_events_output/acme_cx1_data_01-01-2024_to_01-31-2024.xlsx"},
	}

	if err := reporter.Generate(data); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !json.Valid(buf.Bytes()) {
		t.Fatalf("output is not valid JSON: %s", buf.String())
	}

	var decoded Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}

	if decoded.RunID != data.RunID {
		t.Fatalf("expected run id %q, got %q", data.RunID, decoded.RunID)
	}
	if len(decoded.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(decoded.Tables))
	}
	if decoded.Tables[1].Rows != 4 {
		t.Fatalf("expected 4 SAST rows, got %d", decoded.Tables[1].Rows)
	}
	if decoded.Config.Tenant != "acme" {
		t.Fatalf("expected tenant acme, got %q", decoded.Config.Tenant)
	}
}

func TestJSONReporter_TimestampUTC(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewJSONReporter(&buf)

	loc := time.FixedZone("PST", -8*60*60)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, loc)

	if err := reporter.Generate(Summary{Tool: "cx1export", Version: "0.1.0", Timestamp: ts}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var decoded struct {
		Tool      string   `json:"tool"`
		Timestamp string   `json:"timestamp"`
		Files     []string `json:"files"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}

	expected := ts.UTC().Format(time.RFC3339)
	if decoded.Timestamp != expected {
		t.Fatalf("expected timestamp %q, got %q", expected, decoded.Timestamp)
	}
	if decoded.Files == nil {
		t.Fatalf("expected files to be an empty list, not null")
	}
}

func TestJSONReporter_FailedRun(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewJSONReporter(&buf)

	errs := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		errs = append(errs, fmt.Sprintf("table %d not written", i))
	}
	data := Summary{
		Tool:   "cx1export",
		State:  "FAILED",
		Errors: errs,
		Sources: []SourceResult{
			{Name: "audit", Error: "fetching audit page 2 (offset 200) failed: status 503"},
		},
	}

	if err := reporter.Generate(data); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var decoded Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if !decoded.Failed() {
		t.Fatalf("expected decoded summary to report failure")
	}
	if len(decoded.Errors) != 10 {
		t.Fatalf("expected 10 errors, got %d", len(decoded.Errors))
	}
	if decoded.Sources[0].Error == "" {
		t.Fatalf("expected source error to survive encoding")
	}
}
