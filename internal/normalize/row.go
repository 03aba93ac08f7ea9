package normalize

// SourceKind identifies the collection a record came from.
type SourceKind int

const (
	SourceAudit SourceKind = iota
	SourceScan
)

func (k SourceKind) String() string {
	switch k {
	case SourceAudit:
		return "audit"
	case SourceScan:
		return "scans"
	default:
		return "unknown"
	}
}

// Row is one flattened record. Columns keep the order in which they were
// first set. Values are string, int64, float64, bool, time.Time or nil.
type Row struct {
	Table  string
	Source SourceKind
	// Engine is the canonical engine id for engine tables, empty otherwise.
	Engine string

	columns []string
	values  map[string]any
}

func newRow(table string, source SourceKind) Row {
	return Row{Table: table, Source: source, values: make(map[string]any)}
}

// Set stores a value, appending the column on first use.
func (r *Row) Set(column string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Has reports whether column was set.
func (r Row) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Get returns the value of column, nil when unset.
func (r Row) Get(column string) any {
	return r.values[column]
}

// Columns returns the row's columns in first-set order.
func (r Row) Columns() []string {
	return r.columns
}
