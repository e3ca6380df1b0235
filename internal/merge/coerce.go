package merge

import (
	"strconv"
	"strings"
	"time"

	"nfpipe/internal/schema"
	"nfpipe/internal/table"
)

// dateLayouts are tried in order by parseDateLoose. Day-first layouts come
// before the US form because the source data is Brazilian.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02.01.2006",
	"01/02/2006",
}

// parseNumberLoose parses a numeric string tolerating the Brazilian decimal
// comma ("1.234,56"), plain decimals ("1234.56"), and an optional "R$"
// prefix. Returns false on anything else; the caller nils the cell.
func parseNumberLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		// Decimal comma form: dots are thousands separators.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseDateLoose(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Coerce converts string cells of declared numeric and date columns in
// place. Unparseable values become nil rather than failing the merge; the
// data is untrusted and one bad cell must not abort the run.
func Coerce(t *table.Table, s schema.Schema) {
	for ci, col := range t.Cols {
		f, ok := s.FieldByName(col)
		if !ok || f.Kind == schema.Text {
			continue
		}
		for _, row := range t.Rows {
			if ci >= len(row) {
				continue
			}
			sv, isStr := row[ci].(string)
			if !isStr {
				continue
			}
			switch f.Kind {
			case schema.Numeric:
				if v, ok := parseNumberLoose(sv); ok {
					row[ci] = v
				} else {
					row[ci] = nil
				}
			case schema.Date:
				if v, ok := parseDateLoose(sv); ok {
					row[ci] = v
				} else {
					row[ci] = nil
				}
			}
		}
	}
}
