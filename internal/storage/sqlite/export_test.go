package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nfpipe/internal/merge"
	"nfpipe/internal/table"
)

func snapshotTable() *table.Table {
	return &table.Table{
		Cols: []string{"numero_nota", "fornecedor", "valor_total", "data_emissao", "descricao_item", "quantidade"},
		Rows: [][]any{
			{"1", "Alfa Ltda", 100.0, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), "caneta", 2.0},
			{"2", "Beta SA", 300.5, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), "papel", 1.0},
			{"2", "Beta SA", 300.5, nil, "grampo", nil},
		},
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	ddl := buildCreateTableSQL("notas_itens", snapshotTable())
	if !strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "notas_itens" (`) {
		t.Fatalf("ddl prefix wrong:\n%s", ddl)
	}
	for _, want := range []string{
		`"numero_nota" TEXT`,
		`"fornecedor" TEXT`,
		`"valor_total" REAL`,
		`"data_emissao" TEXT`,
		`"quantidade" REAL`,
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestColumnTypeFallsBackToCellValues(t *testing.T) {
	t.Parallel()

	tbl := &table.Table{
		Cols: []string{"custom_num", "custom_text", "all_nil"},
		Rows: [][]any{
			{nil, nil, nil},
			{3.5, "abc", nil},
		},
	}
	if got := columnType(tbl, 0); got != "REAL" {
		t.Errorf("custom_num type=%s, want REAL", got)
	}
	if got := columnType(tbl, 1); got != "TEXT" {
		t.Errorf("custom_text type=%s, want TEXT", got)
	}
	if got := columnType(tbl, 2); got != "TEXT" {
		t.Errorf("all_nil type=%s, want TEXT", got)
	}
}

func TestSQLIdent(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"fornecedor", `"fornecedor"`},
		{"valor nota fiscal", `"valor nota fiscal"`},
		{`weird"name`, `"weird""name"`},
	}
	for _, tc := range tests {
		if got := sqlIdent(tc.in); got != tc.want {
			t.Errorf("sqlIdent(%q)=%s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestExportRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "export.db")
	exp, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer exp.Close()

	tbl := snapshotTable()
	stats := merge.Stats{NotesRows: 2, ItemsRows: 3, MergedRows: 3, Keys: []string{"numero_nota"}}
	if err := exp.Export(ctx, "notas_itens", tbl, stats); err != nil {
		t.Fatalf("Export() err=%v", err)
	}

	var rows int
	if err := exp.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "notas_itens"`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 3 {
		t.Errorf("snapshot rows=%d, want 3", rows)
	}

	var supplier string
	var total float64
	err = exp.db.QueryRowContext(ctx,
		`SELECT "fornecedor", "valor_total" FROM "notas_itens" WHERE "numero_nota" = ? LIMIT 1`, "2").
		Scan(&supplier, &total)
	if err != nil {
		t.Fatal(err)
	}
	if supplier != "Beta SA" || total != 300.5 {
		t.Errorf("got %q %v, want Beta SA 300.5", supplier, total)
	}

	var emitted string
	err = exp.db.QueryRowContext(ctx,
		`SELECT "data_emissao" FROM "notas_itens" WHERE "numero_nota" = ? AND "data_emissao" IS NOT NULL`, "1").
		Scan(&emitted)
	if err != nil {
		t.Fatal(err)
	}
	if _, perr := time.Parse(time.RFC3339Nano, emitted); perr != nil {
		t.Errorf("data_emissao=%q is not RFC3339: %v", emitted, perr)
	}

	var notes, items, merged int
	var keys string
	err = exp.db.QueryRowContext(ctx,
		`SELECT notes_rows, items_rows, merged_rows, keys FROM "notas_itens_stats"`).
		Scan(&notes, &items, &merged, &keys)
	if err != nil {
		t.Fatal(err)
	}
	if notes != 2 || items != 3 || merged != 3 || keys != "numero_nota" {
		t.Errorf("stats row = %d/%d/%d %q", notes, items, merged, keys)
	}
}

func TestExportReplacesPreviousSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exp, err := Open(ctx, filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer exp.Close()

	tbl := snapshotTable()
	if err := exp.Export(ctx, "notas_itens", tbl, merge.Stats{}); err != nil {
		t.Fatal(err)
	}
	if err := exp.Export(ctx, "notas_itens", tbl, merge.Stats{}); err != nil {
		t.Fatal(err)
	}

	var rows, statRows int
	if err := exp.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "notas_itens"`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if err := exp.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "notas_itens_stats"`).Scan(&statRows); err != nil {
		t.Fatal(err)
	}
	if rows != 3 {
		t.Errorf("snapshot rows=%d after re-export, want 3 (replaced)", rows)
	}
	if statRows != 2 {
		t.Errorf("stats rows=%d, want 2 (appended)", statRows)
	}
}

func TestExportEmptyColumnsFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exp, err := Open(ctx, filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer exp.Close()

	if err := exp.Export(ctx, "x", &table.Table{}, merge.Stats{}); err == nil {
		t.Error("want error for table without columns")
	}
}
