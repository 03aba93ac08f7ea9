package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ppiankov/cx1export/internal/pagination"
)

// Warning records a field whose value could not be parsed. The row keeps the
// raw value.
type Warning struct {
	Source SourceKind
	Table  string
	Column string
	Value  string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s/%s: %s=%q kept as text: %s", w.Source, w.Table, w.Column, w.Value, w.Reason)
}

// Normalizer flattens raw records into rows. It is not safe for concurrent use.
type Normalizer struct {
	logger   *slog.Logger
	warnings []Warning
}

// New creates a Normalizer logging to logger.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Warnings returns every warning recorded so far.
func (n *Normalizer) Warnings() []Warning {
	return n.warnings
}

// Normalize flattens rec according to kind.
func (n *Normalizer) Normalize(rec pagination.Record, kind SourceKind) Row {
	switch kind {
	case SourceAudit:
		return n.audit(rec)
	case SourceScan:
		return n.scan(rec)
	default:
		row := newRow(FallbackTable, kind)
		n.flattenRemaining(&row, rec, nil)
		return row
	}
}

// NormalizeAll flattens every record of one collection in order.
func (n *Normalizer) NormalizeAll(recs []pagination.Record, kind SourceKind) []Row {
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, n.Normalize(rec, kind))
	}
	return rows
}

func (n *Normalizer) warn(row *Row, column, value, reason string) {
	w := Warning{Source: row.Source, Table: row.Table, Column: column, Value: value, Reason: reason}
	n.warnings = append(n.warnings, w)
	n.logger.Warn("Malformed field kept as raw text",
		slog.String("source", w.Source.String()),
		slog.String("table", w.Table),
		slog.String("column", column),
		slog.String("value", value),
		slog.String("reason", reason))
}

// setTime parses v as a timestamp. Unparseable values are stored raw.
func (n *Normalizer) setTime(row *Row, column string, v any) {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			row.Set(column, nil)
			return
		}
		raw := fmt.Sprint(v)
		row.Set(column, raw)
		n.warn(row, column, raw, "timestamp is not a string")
		return
	}
	if s == "" {
		row.Set(column, nil)
		return
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		row.Set(column, s)
		n.warn(row, column, s, err.Error())
		return
	}
	row.Set(column, t)
}

// setInt parses v as an integer. Unparseable values are stored raw.
func (n *Normalizer) setInt(row *Row, column string, v any) {
	switch x := v.(type) {
	case nil:
		row.Set(column, nil)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			row.Set(column, i)
		} else if f, err := x.Float64(); err == nil {
			row.Set(column, f)
		} else {
			row.Set(column, x.String())
			n.warn(row, column, x.String(), "not a number")
		}
	case float64:
		row.Set(column, int64(x))
	case string:
		if x == "" {
			row.Set(column, nil)
			return
		}
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			row.Set(column, i)
			return
		}
		row.Set(column, x)
		n.warn(row, column, x, "not a number")
	default:
		raw := fmt.Sprint(x)
		row.Set(column, raw)
		n.warn(row, column, raw, "not a number")
	}
}

// flattenRemaining sets every field of rec not listed in consumed, in
// sorted key order so that column order is stable across records.
func (n *Normalizer) flattenRemaining(row *Row, rec map[string]any, consumed map[string]bool) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if consumed[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		col := ColumnName(k)
		if row.Has(col) {
			taken := col
			for i := 2; row.Has(col); i++ {
				col = fmt.Sprintf("%s_%d", taken, i)
			}
			n.logger.Debug("Field name collides with an existing column",
				slog.String("table", row.Table),
				slog.String("field", k),
				slog.String("column", col))
		}
		row.Set(col, Flatten(rec[k]))
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the ISO 8601 variants the API emits. Results are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Flatten converts a nested JSON value into a scalar cell. Lists of scalars
// are joined with ", ", objects and lists of objects become JSON, empty
// values become nil.
func Flatten(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if x == "" {
			return nil
		}
		return x
	case bool, int64, float64, time.Time:
		return x
	case int:
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		if len(x) == 0 {
			return nil
		}
		parts := make([]string, 0, len(x))
		for _, el := range x {
			s, ok := scalarString(el)
			if !ok {
				return marshal(x)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		if len(x) == 0 {
			return nil
		}
		return marshal(x)
	default:
		return fmt.Sprint(x)
	}
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ColumnName converts an API field name such as "actionUserId" or
// "scan-engine" into a snake_case column name.
func ColumnName(field string) string {
	runes := []rune(field)
	var b strings.Builder
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteRune('_')
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteRune('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
