package dataset

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"nfpipe/internal/faults"
)

func writeArchive(t *testing.T, notes, items string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nfs.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"NFs_Cabecalho.csv": notes,
		"NFs_Itens.csv":     items,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

const (
	sampleNotes = "NÚMERO,RAZÃO SOCIAL EMITENTE,VALOR NOTA FISCAL\n" +
		"1,Alfa Ltda,\"1.000,50\"\n" +
		"2,Beta SA,\"200,00\"\n"
	sampleItems = "NÚMERO,DESCRIÇÃO DO PRODUTO SERVIÇO,QUANTIDADE,VALOR UNITÁRIO\n" +
		"1,caneta,2,\"10,00\"\n" +
		"1,lápis,5,\"1,00\"\n" +
		"2,papel,1,\"5,00\"\n"
)

func TestLoadEndToEnd(t *testing.T) {
	t.Parallel()

	path := writeArchive(t, sampleNotes, sampleItems)
	ds, err := Load(context.Background(), path, nil, nil)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if ds.Stats.NotesRows != 2 || ds.Stats.ItemsRows != 3 || ds.Stats.MergedRows != 3 {
		t.Errorf("stats=%s, want notes=2 items=3 merged=3", ds.Stats)
	}
	for _, col := range []string{"numero_nota", "fornecedor", "valor_total", "descricao_item", "quantidade", "valor_unitario", "valor_item"} {
		if ds.Merged.ColIndex(col) < 0 {
			t.Errorf("merged table missing column %q (cols=%v)", col, ds.Merged.Cols)
		}
	}
	vt := ds.Merged.ColIndex("valor_total")
	if got := ds.Merged.Rows[0][vt]; got != float64(1000.5) {
		t.Errorf("valor_total=%v, want 1000.5", got)
	}
}

func TestGetOrComputeCachesByPath(t *testing.T) {
	t.Parallel()

	path := writeArchive(t, sampleNotes, sampleItems)
	store := New(nil, nil)

	first, err := store.GetOrCompute(context.Background(), path)
	if err != nil {
		t.Fatalf("first GetOrCompute() err=%v", err)
	}

	// Corrupt the file on disk: the cached dataset must still be served.
	if err := os.WriteFile(path, []byte("not a zip"), 0o600); err != nil {
		t.Fatal(err)
	}
	second, err := store.GetOrCompute(context.Background(), path)
	if err != nil {
		t.Fatalf("second GetOrCompute() err=%v", err)
	}
	if first != second {
		t.Error("cache miss: expected the same *Dataset pointer")
	}

	// After Clear the corrupted file is actually read and fails.
	store.Clear()
	if _, err := store.GetOrCompute(context.Background(), path); faults.KindOf(err) != faults.KindIOFailure {
		t.Errorf("after Clear kind=%v, want io_failure (err=%v)", faults.KindOf(err), err)
	}
}

func TestLoadFailuresAreNotCached(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nfs.zip")
	if err := os.WriteFile(path, []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := New(nil, nil)
	if _, err := store.GetOrCompute(context.Background(), path); err == nil {
		t.Fatal("want error for junk archive")
	}

	// Replace with a good archive under the same path: retry must succeed.
	good := writeArchive(t, sampleNotes, sampleItems)
	data, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetOrCompute(context.Background(), path); err != nil {
		t.Errorf("retry after fix err=%v", err)
	}
}

func TestLoadNoMergeKey(t *testing.T) {
	t.Parallel()

	path := writeArchive(t,
		"FORNECEDOR\nAlfa\n",
		"DESCRIÇÃO DO PRODUTO SERVIÇO\ncaneta\n",
	)
	_, err := Load(context.Background(), path, nil, nil)
	if faults.KindOf(err) != faults.KindNoMergeKey {
		t.Errorf("kind=%v, want no_merge_key (err=%v)", faults.KindOf(err), err)
	}
}

func TestLoadLogsStages(t *testing.T) {
	t.Parallel()

	path := writeArchive(t, sampleNotes, sampleItems)
	var lines []string
	logf := logFunc(func(format string, v ...any) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	if _, err := Load(context.Background(), path, nil, logf); err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if len(lines) < 3 {
		t.Errorf("want extract/parse/merge log lines, got %v", lines)
	}
}

type logFunc func(format string, v ...any)

func (f logFunc) Printf(format string, v ...any) { f(format, v...) }
