package report

import (
	"github.com/ppiankov/cx1export/internal/normalize"
)

// Table is a rectangular set of rows bound for one CSV file or one sheet.
type Table struct {
	Name    string
	Source  normalize.SourceKind
	Engine  string
	Columns []string
	// Rows hold one value per column; nil marks a missing value.
	Rows [][]any
}

// Group collects rows into tables in first-seen table order. Each table's
// columns are the first-seen union of its rows' columns, and every row is
// padded with nil for the columns it lacks.
func Group(rows []normalize.Row) []Table {
	type builder struct {
		table   Table
		index   map[string]int
		members []normalize.Row
	}

	var order []*builder
	byName := make(map[string]*builder)
	for _, r := range rows {
		b, ok := byName[r.Table]
		if !ok {
			b = &builder{
				table: Table{Name: r.Table, Source: r.Source, Engine: r.Engine},
				index: make(map[string]int),
			}
			byName[r.Table] = b
			order = append(order, b)
		}
		for _, col := range r.Columns() {
			if _, seen := b.index[col]; !seen {
				b.index[col] = len(b.table.Columns)
				b.table.Columns = append(b.table.Columns, col)
			}
		}
		b.members = append(b.members, r)
	}

	tables := make([]Table, 0, len(order))
	for _, b := range order {
		b.table.Rows = make([][]any, 0, len(b.members))
		for _, r := range b.members {
			cells := make([]any, len(b.table.Columns))
			for i, col := range b.table.Columns {
				cells[i] = r.Get(col)
			}
			b.table.Rows = append(b.table.Rows, cells)
		}
		tables = append(tables, b.table)
	}
	return tables
}
