// Package table holds the in-memory tabular model shared by the whole
// pipeline. Cells are one of nil, string, float64, or time.Time; everything
// downstream (merge, fragment execution, export) relies on that closed set.
package table

import (
	"strconv"
	"time"
)

// Provenance records where a table came from. It rides along for logging and
// error messages only; no pipeline decision depends on it.
type Provenance struct {
	Source   string   // file path or zip member name
	Encoding string   // detected encoding name, e.g. "windows-1252"
	RawCols  []string // column labels before normalization
}

// Table is an ordered set of columns and rows. Row cells align positionally
// with Cols; short rows are padded with nil by the reader.
type Table struct {
	Cols       []string
	Rows       [][]any
	Provenance Provenance
}

// Record is one row keyed by column name, the shape used on the wire and by
// the fallback aggregations.
type Record map[string]any

// ColIndex returns the position of name in Cols, or -1.
func (t *Table) ColIndex(name string) int {
	for i, c := range t.Cols {
		if c == name {
			return i
		}
	}
	return -1
}

// Records converts the positional rows into keyed records. Cells beyond the
// column count are dropped; missing cells are absent from the map.
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(Record, len(t.Cols))
		for i, c := range t.Cols {
			if i < len(row) && row[i] != nil {
				rec[c] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Clone deep-copies the table so a consumer can mutate rows without touching
// the source. Cell values themselves are immutable types and are shared.
func (t *Table) Clone() *Table {
	c := &Table{
		Cols:       append([]string(nil), t.Cols...),
		Rows:       make([][]any, len(t.Rows)),
		Provenance: t.Provenance,
	}
	c.Provenance.RawCols = append([]string(nil), t.Provenance.RawCols...)
	for i, row := range t.Rows {
		c.Rows[i] = append([]any(nil), row...)
	}
	return c
}

// CellString renders a cell the way narrative output shows it: nil is empty,
// times use a date-only form, floats drop the trailing .0 for whole numbers.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format("2006-01-02")
	case float64:
		return FormatFloat(x)
	default:
		return ""
	}
}

// FormatFloat prints f without scientific notation and without a fractional
// part when it is whole.
func FormatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
