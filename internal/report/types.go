package report

import (
	"time"
)

// Reporter renders a run summary.
type Reporter interface {
	Generate(data Summary) error
}

// Summary describes one export run.
type Summary struct {
	Tool      string        `json:"tool"`
	Version   string        `json:"version"`
	RunID     string        `json:"run_id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
	Config    Config        `json:"config"`
	// State is the final run state: WRITTEN or FAILED.
	State    string         `json:"state"`
	Sources  []SourceResult `json:"sources"`
	Tables   []TableResult  `json:"tables"`
	Files    []string       `json:"files"`
	Archived []string       `json:"archived,omitempty"`
	Warnings int            `json:"warnings"`
	Errors   []string       `json:"errors,omitempty"`
}

// Config records the options a run used.
type Config struct {
	Tenant      string `json:"tenant"`
	Mode        string `json:"mode"`
	FromDate    string `json:"from_date,omitempty"`
	ToDate      string `json:"to_date,omitempty"`
	Output      string `json:"output"`
	ThreadCount int    `json:"thread_count"`
	Limit       int    `json:"limit"`
	Offset      int    `json:"offset"`
	Dir         string `json:"dir"`
}

// SourceResult is the fetch outcome of one source.
type SourceResult struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
	Pages   int    `json:"pages"`
	Error   string `json:"error,omitempty"`
}

// TableResult is the write outcome of one table.
type TableResult struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether any source or table failed.
func (s Summary) Failed() bool {
	return len(s.Errors) > 0
}
