package merge

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"nfpipe/internal/faults"
	"nfpipe/internal/schema"
	"nfpipe/internal/table"
)

func TestKeyPrefersChaveAcesso(t *testing.T) {
	t.Parallel()

	notes := &table.Table{Cols: []string{"chave_acesso", "numero_nota", "valor_total"}}
	items := &table.Table{Cols: []string{"chave_acesso", "numero_nota", "quantidade"}}
	keys, err := Key(notes, items)
	if err != nil {
		t.Fatalf("Key() err=%v", err)
	}
	if !reflect.DeepEqual(keys, []string{"chave_acesso"}) {
		t.Errorf("keys=%v, want [chave_acesso]", keys)
	}
}

func TestKeyCompositeFallback(t *testing.T) {
	t.Parallel()

	notes := &table.Table{Cols: []string{"numero_nota", "modelo", "serie", "valor_total"}}
	items := &table.Table{Cols: []string{"numero_nota", "modelo", "serie", "quantidade"}}
	keys, err := Key(notes, items)
	if err != nil {
		t.Fatalf("Key() err=%v", err)
	}
	if !reflect.DeepEqual(keys, []string{"numero_nota", "modelo", "serie"}) {
		t.Errorf("keys=%v, want composite", keys)
	}
}

func TestKeyPriorityList(t *testing.T) {
	t.Parallel()

	notes := &table.Table{Cols: []string{"nf", "fornecedor"}}
	items := &table.Table{Cols: []string{"nf", "descricao_item"}}
	keys, err := Key(notes, items)
	if err != nil {
		t.Fatalf("Key() err=%v", err)
	}
	if !reflect.DeepEqual(keys, []string{"nf"}) {
		t.Errorf("keys=%v, want [nf]", keys)
	}
}

func TestKeyNoSharedColumn(t *testing.T) {
	t.Parallel()

	notes := &table.Table{Cols: []string{"fornecedor"}}
	items := &table.Table{Cols: []string{"descricao_item"}}
	_, err := Key(notes, items)
	if faults.KindOf(err) != faults.KindNoMergeKey {
		t.Fatalf("kind=%v, want no_merge_key (err=%v)", faults.KindOf(err), err)
	}
	// The error must name the columns each side does have.
	msg := err.Error()
	for _, want := range []string{"fornecedor", "descricao_item"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestMergeFanOut(t *testing.T) {
	t.Parallel()

	notes := &table.Table{
		Cols: []string{"numero_nota", "fornecedor", "valor_total"},
		Rows: [][]any{
			{"1", "Alfa", "100,50"},
			{"2", "Beta", "200"},
		},
	}
	items := &table.Table{
		Cols: []string{"numero_nota", "descricao_item", "quantidade", "valor_unitario"},
		Rows: [][]any{
			{"1", "caneta", "2", "10,25"},
			{"1", "lapis", "3", "1,00"},
			{"2", "papel", "1", "5"},
			{"9", "fantasma", "1", "1"}, // no matching note
		},
	}

	out, stats, err := Merge(notes, items, []string{"numero_nota"})
	if err != nil {
		t.Fatalf("Merge() err=%v", err)
	}
	if stats.MergedRows != 3 || len(out.Rows) != 3 {
		t.Fatalf("merged rows=%d, want 3 (stats=%s)", len(out.Rows), stats)
	}

	// Numeric coercion: decimal comma on both sides.
	vt := out.ColIndex("valor_total")
	if got := out.Rows[0][vt]; got != float64(100.5) {
		t.Errorf("valor_total=%v, want 100.5", got)
	}

	// Derived valor_item = quantidade * valor_unitario.
	vi := out.ColIndex("valor_item")
	if vi < 0 {
		t.Fatalf("valor_item column missing: %v", out.Cols)
	}
	if got := out.Rows[0][vi]; math.Abs(got.(float64)-20.5) > 1e-9 {
		t.Errorf("valor_item=%v, want 20.5", got)
	}
}

func TestMergeDuplicateNotesFanOut(t *testing.T) {
	t.Parallel()

	// Two notes share a key; each matching item row fans out to both.
	notes := &table.Table{
		Cols: []string{"numero_nota", "fornecedor"},
		Rows: [][]any{{"1", "Alfa"}, {"1", "Alfa Filial"}},
	}
	items := &table.Table{
		Cols: []string{"numero_nota", "descricao_item"},
		Rows: [][]any{{"1", "caneta"}, {"1", "lapis"}},
	}
	out, _, err := Merge(notes, items, []string{"numero_nota"})
	if err != nil {
		t.Fatalf("Merge() err=%v", err)
	}
	if len(out.Rows) != 4 {
		t.Errorf("rows=%d, want 4 (2 notes x 2 items)", len(out.Rows))
	}
}

func TestMergeMissingKeyColumn(t *testing.T) {
	t.Parallel()

	notes := &table.Table{Cols: []string{"numero_nota"}}
	items := &table.Table{Cols: []string{"descricao_item"}}
	_, _, err := Merge(notes, items, []string{"numero_nota"})
	if faults.KindOf(err) != faults.KindSchemaMismatch {
		t.Fatalf("kind=%v, want schema_mismatch (err=%v)", faults.KindOf(err), err)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	notes := &table.Table{
		Cols: []string{"numero_nota", "valor_total"},
		Rows: [][]any{{"1", "100,5"}},
	}
	items := &table.Table{
		Cols: []string{"numero_nota", "quantidade", "valor_unitario"},
		Rows: [][]any{{"1", "2", "3"}},
	}
	if _, _, err := Merge(notes, items, []string{"numero_nota"}); err != nil {
		t.Fatalf("Merge() err=%v", err)
	}
	if notes.Rows[0][1] != "100,5" {
		t.Errorf("source notes table mutated: %v", notes.Rows[0])
	}
}

func TestParseNumberLoose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1.234,56", 1234.56, true},
		{"1234.56", 1234.56, true},
		{"R$ 10,00", 10, true},
		{"0", 0, true},
		{"-2,5", -2.5, true},
		{"abc", 0, false},
		{"", 0, false},
		{"12,34,56", 0, false},
	}
	for _, tc := range tests {
		got, ok := parseNumberLoose(tc.in)
		if ok != tc.ok || (ok && math.Abs(got-tc.want) > 1e-9) {
			t.Errorf("parseNumberLoose(%q)=(%v,%v), want (%v,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseDateLoose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"15/01/2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"15/01/2024 10:30", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), true},
		{"2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), true},
		{"not a date", time.Time{}, false},
	}
	for _, tc := range tests {
		got, ok := parseDateLoose(tc.in)
		if ok != tc.ok || (ok && !got.Equal(tc.want)) {
			t.Errorf("parseDateLoose(%q)=(%v,%v), want (%v,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCoerceUnparseableBecomesNil(t *testing.T) {
	t.Parallel()

	tbl := &table.Table{
		Cols: []string{"valor_total", "data_emissao"},
		Rows: [][]any{{"abc", "31/31/2024"}},
	}
	Coerce(tbl, schema.Notes())
	if tbl.Rows[0][0] != nil || tbl.Rows[0][1] != nil {
		t.Errorf("unparseable cells should be nil, got %v", tbl.Rows[0])
	}
}
