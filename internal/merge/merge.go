// Package merge joins the invoice-header table with the line-items table
// into the single dataset every question runs against.
//
// Key selection and the join itself are deliberately explicit about failure:
// a missing join key aborts with the columns each side does have, because a
// silently mis-joined dataset produces confidently wrong answers downstream.
package merge

import (
	"fmt"
	"strings"

	"nfpipe/internal/faults"
	"nfpipe/internal/schema"
	"nfpipe/internal/table"
)

// keyPriority is the single-column fallback order when neither the access
// key nor the composite key is available on both sides.
var keyPriority = []string{"numero_nota", "numero", "nf", "nota", "id"}

// Stats summarizes one merge for logging and metrics.
type Stats struct {
	NotesRows  int
	ItemsRows  int
	MergedRows int
	Keys       []string
}

func (s Stats) String() string {
	return fmt.Sprintf("notes=%d items=%d merged=%d keys=%s",
		s.NotesRows, s.ItemsRows, s.MergedRows, strings.Join(s.Keys, "+"))
}

// Key picks the join columns shared by both tables.
//
// Preference order:
//  1. chave_acesso (the fiscal access key, unique per invoice)
//  2. numero_nota plus whichever of modelo and serie both sides carry
//  3. the first column of keyPriority present on both sides
//  4. the first shared column at all
//
// No shared column is a faults.NoMergeKey carrying both column lists.
func Key(notes, items *table.Table) ([]string, error) {
	both := func(c string) bool {
		return notes.ColIndex(c) >= 0 && items.ColIndex(c) >= 0
	}

	if both("chave_acesso") {
		return []string{"chave_acesso"}, nil
	}
	if both("numero_nota") {
		k := []string{"numero_nota"}
		for _, extra := range []string{"modelo", "serie"} {
			if both(extra) {
				k = append(k, extra)
			}
		}
		return k, nil
	}
	for _, c := range keyPriority {
		if both(c) {
			return []string{c}, nil
		}
	}
	for _, c := range notes.Cols {
		if items.ColIndex(c) >= 0 {
			return []string{c}, nil
		}
	}
	return nil, faults.NoMergeKey("select merge key", "tables share no column").
		WithDetail(
			"notes columns: "+strings.Join(notes.Cols, ", "),
			"items columns: "+strings.Join(items.Cols, ", "),
		)
}

// Merge inner-joins items against notes on keys and returns the combined
// table.
//
// What it does:
//   - Verifies every key column exists on both sides (faults.SchemaMismatch
//     naming the missing ones and the columns each side has).
//   - Coerces declared numeric and date columns on both sides first, so keys
//     and values compare consistently.
//   - Hash-joins with full fan-out: every note row matching an item row
//     produces one output row.
//   - Output columns are the notes columns followed by the items columns
//     that are not keys; an item column whose name collides with a notes
//     column is prefixed "item_".
//   - Fills valor_item with quantidade*valor_unitario when those two are
//     present and valor_item is empty.
//
// Rows whose key cells are all empty never match anything.
func Merge(notes, items *table.Table, keys []string) (*table.Table, Stats, error) {
	stats := Stats{NotesRows: len(notes.Rows), ItemsRows: len(items.Rows), Keys: keys}

	var missing []string
	for _, k := range keys {
		if notes.ColIndex(k) < 0 || items.ColIndex(k) < 0 {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, stats, faults.SchemaMismatch("merge", "key columns missing: %s", strings.Join(missing, ", ")).
			WithDetail(
				"notes columns: "+strings.Join(notes.Cols, ", "),
				"items columns: "+strings.Join(items.Cols, ", "),
			)
	}

	notes = notes.Clone()
	items = items.Clone()
	Coerce(notes, schema.Notes())
	Coerce(items, schema.Items())

	noteKeyIx := colIndexes(notes, keys)
	itemKeyIx := colIndexes(items, keys)

	// Index note rows by composite key value.
	byKey := make(map[string][]int, len(notes.Rows))
	for ri, row := range notes.Rows {
		k, ok := joinKey(row, noteKeyIx)
		if !ok {
			continue
		}
		byKey[k] = append(byKey[k], ri)
	}

	// Output layout: notes columns, then non-key items columns.
	outCols := append([]string(nil), notes.Cols...)
	var itemCols []int
	for ci, c := range items.Cols {
		if contains(keys, c) {
			continue
		}
		name := c
		if contains(outCols, name) {
			name = "item_" + name
		}
		outCols = append(outCols, name)
		itemCols = append(itemCols, ci)
	}

	out := &table.Table{
		Cols: outCols,
		Provenance: table.Provenance{
			Source: notes.Provenance.Source + "+" + items.Provenance.Source,
		},
	}

	for _, irow := range items.Rows {
		k, ok := joinKey(irow, itemKeyIx)
		if !ok {
			continue
		}
		for _, ni := range byKey[k] {
			nrow := notes.Rows[ni]
			row := make([]any, 0, len(outCols))
			row = append(row, nrow...)
			for _, ci := range itemCols {
				if ci < len(irow) {
					row = append(row, irow[ci])
				} else {
					row = append(row, nil)
				}
			}
			out.Rows = append(out.Rows, row)
		}
	}

	fillDerivedItemValue(out)

	stats.MergedRows = len(out.Rows)
	return out, stats, nil
}

func colIndexes(t *table.Table, names []string) []int {
	ix := make([]int, len(names))
	for i, n := range names {
		ix[i] = t.ColIndex(n)
	}
	return ix
}

// joinKey renders the composite key for a row. Key cells compare as trimmed,
// lowercased text so "  NFE123 " and "nfe123" join. All-empty keys return
// ok=false and the row is left out of the join.
func joinKey(row []any, ix []int) (string, bool) {
	parts := make([]string, len(ix))
	nonEmpty := false
	for i, ci := range ix {
		if ci < len(row) && row[ci] != nil {
			parts[i] = strings.ToLower(strings.TrimSpace(table.CellString(row[ci])))
			if parts[i] != "" {
				nonEmpty = true
			}
		}
	}
	if !nonEmpty {
		return "", false
	}
	return strings.Join(parts, "\x1f"), true
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// fillDerivedItemValue computes valor_item = quantidade * valor_unitario for
// rows where both factors are numeric and valor_item is empty.
func fillDerivedItemValue(t *table.Table) {
	vi := t.ColIndex("valor_item")
	q := t.ColIndex("quantidade")
	vu := t.ColIndex("valor_unitario")
	if q < 0 || vu < 0 {
		return
	}
	if vi < 0 {
		t.Cols = append(t.Cols, "valor_item")
		vi = len(t.Cols) - 1
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], nil)
		}
	}
	for _, row := range t.Rows {
		if row[vi] != nil {
			continue
		}
		qf, qok := row[q].(float64)
		vf, vok := row[vu].(float64)
		if qok && vok {
			row[vi] = qf * vf
		}
	}
}
