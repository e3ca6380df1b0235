package result

import (
	"context"
	"fmt"
	"strings"

	"nfpipe/internal/fragment"
	"nfpipe/internal/table"
)

// fallbackTemplate is one deterministic canned analysis. Needs lists the
// columns the merged table must carry; the first column of a pair may be
// satisfied by any one of the alternatives (some uploads keep the original
// uppercase labels).
type fallbackTemplate struct {
	name     string
	keywords []string
	needs    [][]string
	source   func(cols map[string]string) string
}

// fallbackTemplates run in order; the first whose columns all resolve wins.
// When the question contains one of a template's keywords that template is
// tried first.
var fallbackTemplates = []fallbackTemplate{
	{
		name:     "total_por_fornecedor",
		keywords: []string{"fornecedor", "emitente", "recebeu"},
		needs: [][]string{
			{"fornecedor", "razao social emitente", "nome destinatario"},
			{"valor_total", "valor nota fiscal"},
		},
		source: func(c map[string]string) string {
			return fmt.Sprintf(`group by %[1]q sum %[2]q
sort "sum_%[2]s" desc
limit 10
print "fornecedor com maior total: {%[1]s} ({format_currency(sum_%[2]s)})"
result`, c["0"], c["1"])
		},
	},
	{
		name:     "quantidade_por_item",
		keywords: []string{"item", "produto", "quantidade"},
		needs: [][]string{
			{"descricao_item", "descricao do produto servico"},
			{"quantidade"},
		},
		source: func(c map[string]string) string {
			return fmt.Sprintf(`group by %[1]q sum %[2]q
sort "sum_%[2]s" desc
limit 10
print "item com maior quantidade: {%[1]s} ({format_number(sum_%[2]s)})"
result`, c["0"], c["1"])
		},
	},
	{
		name:     "notas_por_uf",
		keywords: []string{"uf", "estado"},
		needs:    [][]string{{"uf_emitente", "uf"}},
		source: func(c map[string]string) string {
			return fmt.Sprintf(`group by %[1]q count
sort count desc
print "uf com mais notas: {%[1]s} ({format_number(count)})"
result`, c["0"])
		},
	},
	{
		name:     "media_valor_total",
		keywords: []string{"media", "médio", "média"},
		needs:    [][]string{{"valor_total", "valor nota fiscal"}},
		source: func(c map[string]string) string {
			return fmt.Sprintf(
				`print "valor medio das notas: {format_currency(avg(%s))}"`, c["0"])
		},
	},
}

// Fallback answers a question without the generator: it picks the first
// fallback template whose required columns the table has (templates whose
// keywords appear in the question are tried first) and executes it.
//
// When no template fits, the result is a diagnostic payload describing the
// table, so the caller always receives something actionable.
func Fallback(ctx context.Context, question string, tbl *table.Table) *Result {
	q := strings.ToLower(question)

	ordered := make([]fallbackTemplate, 0, len(fallbackTemplates))
	var rest []fallbackTemplate
	for _, t := range fallbackTemplates {
		matched := false
		for _, kw := range t.keywords {
			if strings.Contains(q, kw) {
				matched = true
				break
			}
		}
		if matched {
			ordered = append(ordered, t)
		} else {
			rest = append(rest, t)
		}
	}
	ordered = append(ordered, rest...)

	for _, t := range ordered {
		cols, ok := resolveColumns(tbl, t.needs)
		if !ok {
			continue
		}
		src := t.source(cols)
		prog, err := fragment.Parse(src)
		if err != nil {
			continue
		}
		out, err := fragment.NewExecutor(nil).Run(ctx, prog, tbl)
		if err != nil {
			continue
		}
		return FromOutput(out)
	}

	return diagnostic(tbl)
}

// resolveColumns maps each needs slot to the first alternative the table
// actually has. Keys in the returned map are the slot indexes as strings,
// matching the %[n]s references in the template sources.
func resolveColumns(tbl *table.Table, needs [][]string) (map[string]string, bool) {
	cols := make(map[string]string, len(needs))
	for i, alternatives := range needs {
		found := ""
		for _, alt := range alternatives {
			if tbl.ColIndex(alt) >= 0 {
				found = alt
				break
			}
		}
		if found == "" {
			return nil, false
		}
		cols[fmt.Sprint(i)] = found
	}
	return cols, true
}

// diagnostic is the never-return-nothing terminal payload: the table shape
// and its columns, so the user can see what questions the data can answer.
func diagnostic(tbl *table.Table) *Result {
	var b strings.Builder
	fmt.Fprintf(&b, "não foi possível responder com os dados disponíveis.\n")
	fmt.Fprintf(&b, "tabela mesclada: %d linhas, %d colunas\n", len(tbl.Rows), len(tbl.Cols))
	fmt.Fprintf(&b, "colunas: %s", strings.Join(tbl.Cols, ", "))
	return &Result{TextOutput: b.String()}
}
