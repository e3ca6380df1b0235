package analyst

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nfpipe/internal/dataset"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nfs.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	members := map[string]string{
		"NFs_Cabecalho.csv": "NÚMERO,RAZÃO SOCIAL EMITENTE,VALOR NOTA FISCAL\n" +
			"1,Alfa Ltda,\"100,00\"\n" +
			"2,Beta SA,\"300,00\"\n",
		"NFs_Itens.csv": "NÚMERO,DESCRIÇÃO DO PRODUTO SERVIÇO,QUANTIDADE,VALOR UNITÁRIO\n" +
			"1,caneta,2,\"10,00\"\n" +
			"2,papel,1,\"5,00\"\n",
	}
	for name, body := range members {
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

type fixedGenerator struct {
	frag string
	err  error
}

func (g fixedGenerator) GenerateFragment(context.Context, string, string) (string, error) {
	return g.frag, g.err
}

func TestAnswerHappyPath(t *testing.T) {
	t.Parallel()

	path := writeArchive(t)
	a := New(dataset.New(nil, nil), fixedGenerator{frag: `group by fornecedor sum valor_total
sort "sum_valor_total" desc
print "fornecedor com maior total: {fornecedor}"
result`}, nil, time.Second)

	res := a.Answer(context.Background(), path, "qual fornecedor recebeu mais?")
	if res.Err != "" {
		t.Fatalf("Err=%q", res.Err)
	}
	if !strings.Contains(res.TextOutput, "Beta SA") {
		t.Errorf("TextOutput=%q, want Beta SA on top", res.TextOutput)
	}
	if len(res.Table) != 2 {
		t.Errorf("table rows=%d, want 2 suppliers", len(res.Table))
	}
}

func TestAnswerMockGeneratorEndToEnd(t *testing.T) {
	t.Parallel()

	path := writeArchive(t)
	a := New(dataset.New(nil, nil), MockGenerator{}, nil, time.Second)

	res := a.Answer(context.Background(), path, "qual fornecedor recebeu o maior montante?")
	if res.Err != "" {
		t.Fatalf("Err=%q", res.Err)
	}
	if !strings.Contains(res.TextOutput, "Beta SA") || !strings.Contains(res.TextOutput, "R$ 300,00") {
		t.Errorf("TextOutput=%q", res.TextOutput)
	}
}

func TestAnswerGeneratorFailureFallsBack(t *testing.T) {
	t.Parallel()

	path := writeArchive(t)
	a := New(dataset.New(nil, nil), fixedGenerator{err: errors.New("service down")}, nil, time.Second)

	res := a.Answer(context.Background(), path, "qual fornecedor recebeu mais?")
	if res.Err != "" {
		t.Fatalf("fallback should produce a payload, got Err=%q", res.Err)
	}
	if !strings.Contains(res.TextOutput, "fornecedor com maior total") {
		t.Errorf("TextOutput=%q, want supplier fallback", res.TextOutput)
	}
}

func TestAnswerUnparseableFragmentFallsBack(t *testing.T) {
	t.Parallel()

	path := writeArchive(t)
	a := New(dataset.New(nil, nil), fixedGenerator{frag: "os.system('rm -rf /')"}, nil, time.Second)

	res := a.Answer(context.Background(), path, "qual fornecedor recebeu mais?")
	if res.Err != "" {
		t.Fatalf("Err=%q", res.Err)
	}
	if res.TextOutput == "" {
		t.Error("fallback produced nothing")
	}
}

func TestAnswerLoadFailureIsErrorResult(t *testing.T) {
	t.Parallel()

	a := New(dataset.New(nil, nil), MockGenerator{}, nil, time.Second)
	res := a.Answer(context.Background(), filepath.Join(t.TempDir(), "nope.zip"), "pergunta")
	if res.Err == "" {
		t.Error("missing archive should be an error result")
	}
}

func TestAnswerGeneratorTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	slow := generatorFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	path := writeArchive(t)
	a := New(dataset.New(nil, nil), slow, nil, 10*time.Millisecond)

	res := a.Answer(context.Background(), path, "qual fornecedor recebeu mais?")
	if res.Err != "" {
		t.Fatalf("timeout must fall back, got Err=%q", res.Err)
	}
	if res.TextOutput == "" {
		t.Error("fallback produced nothing")
	}
}

type generatorFunc func(ctx context.Context, question, schemaDesc string) (string, error)

func (f generatorFunc) GenerateFragment(ctx context.Context, q, s string) (string, error) {
	return f(ctx, q, s)
}
