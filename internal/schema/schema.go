// Package schema declares the canonical invoice fields, maps raw CSV columns
// onto them via alias lists, and renders the column description handed to
// the fragment generator.
package schema

import (
	"fmt"
	"strings"
	"time"

	"nfpipe/internal/encdetect"
	"nfpipe/internal/table"
)

// Kind classifies a canonical field for coercion.
type Kind int

const (
	Text Kind = iota
	Numeric
	Date
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Date:
		return "date"
	default:
		return "text"
	}
}

// Field is one canonical column: its final name, the value kind the merge
// engine should coerce to, and the raw labels that map onto it. Aliases are
// matched after label cleanup, in declared order.
type Field struct {
	Name    string
	Kind    Kind
	Aliases []string
}

// Schema is an ordered field list. Order matters twice: alias ties across
// fields break by declared field order, and Describe lists fields in it.
type Schema struct {
	Name   string
	Fields []Field
}

// Notes describes the invoice-header CSV.
func Notes() Schema {
	return Schema{
		Name: "notas",
		Fields: []Field{
			{Name: "chave_acesso", Kind: Text, Aliases: []string{"chave de acesso", "chave acesso", "chave"}},
			{Name: "numero_nota", Kind: Text, Aliases: []string{"numero", "numero nota", "numero da nota", "nf", "nota", "number"}},
			{Name: "modelo", Kind: Text, Aliases: []string{"modelo"}},
			{Name: "serie", Kind: Text, Aliases: []string{"serie"}},
			{Name: "data_emissao", Kind: Date, Aliases: []string{"data emissao", "data de emissao", "emissao", "data"}},
			{Name: "fornecedor", Kind: Text, Aliases: []string{"razao social emitente", "fornecedor", "emitente", "razao social"}},
			{Name: "cnpj_emitente", Kind: Text, Aliases: []string{"cpf cnpj emitente", "cnpj emitente", "cnpj"}},
			{Name: "uf_emitente", Kind: Text, Aliases: []string{"uf emitente", "uf"}},
			{Name: "destinatario", Kind: Text, Aliases: []string{"nome destinatario", "destinatario"}},
			{Name: "valor_total", Kind: Numeric, Aliases: []string{"valor nota fiscal", "valor total", "valor", "total"}},
		},
	}
}

// Items describes the line-items CSV.
func Items() Schema {
	return Schema{
		Name: "itens",
		Fields: []Field{
			{Name: "chave_acesso", Kind: Text, Aliases: []string{"chave de acesso", "chave acesso", "chave"}},
			{Name: "numero_nota", Kind: Text, Aliases: []string{"numero", "numero nota", "numero da nota", "nf", "nota", "number"}},
			{Name: "modelo", Kind: Text, Aliases: []string{"modelo"}},
			{Name: "serie", Kind: Text, Aliases: []string{"serie"}},
			{Name: "numero_item", Kind: Numeric, Aliases: []string{"numero produto", "numero item", "item"}},
			{Name: "descricao_item", Kind: Text, Aliases: []string{"descricao do produto servico", "descricao", "produto", "descricao item"}},
			{Name: "ncm", Kind: Text, Aliases: []string{"codigo ncm sh", "ncm"}},
			{Name: "quantidade", Kind: Numeric, Aliases: []string{"quantidade", "qtd", "qtde"}},
			{Name: "unidade", Kind: Text, Aliases: []string{"unidade"}},
			{Name: "valor_unitario", Kind: Numeric, Aliases: []string{"valor unitario", "preco unitario", "unitario"}},
			{Name: "valor_item", Kind: Numeric, Aliases: []string{"valor total item", "valor item"}},
		},
	}
}

// Merged combines the notes and items fields for describing the joined
// table. Duplicated join fields keep their notes-side declaration.
func Merged() Schema {
	m := Schema{Name: "notas_itens"}
	seen := map[string]bool{}
	for _, s := range []Schema{Notes(), Items()} {
		for _, f := range s.Fields {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			m.Fields = append(m.Fields, f)
		}
	}
	return m
}

// FieldByName returns the declared field, if any.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func looseKey(s string) string {
	s = encdetect.CleanLabel(s)
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "_", "")
}

// Map renames matched raw columns to their canonical names, in place.
//
// Matching runs two passes per alias: exact (both sides label-cleaned), then
// loose (whitespace and underscores ignored). The first alias in declared
// order wins, and within one alias the first raw column in column order
// wins. A raw column is consumed by at most one field; extra columns that
// also match stay under their raw labels so nothing is silently overwritten.
//
// Returns the canonical names that were actually bound.
func Map(t *table.Table, s Schema) []string {
	clean := make([]string, len(t.Cols))
	loose := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		clean[i] = encdetect.CleanLabel(c)
		loose[i] = looseKey(c)
	}

	used := make([]bool, len(t.Cols))
	var bound []string

	for _, f := range s.Fields {
		idx := -1
	aliasLoop:
		for _, a := range append([]string{f.Name}, f.Aliases...) {
			ac := encdetect.CleanLabel(a)
			for i := range t.Cols {
				if !used[i] && clean[i] == ac {
					idx = i
					break aliasLoop
				}
			}
			al := looseKey(a)
			for i := range t.Cols {
				if !used[i] && loose[i] == al {
					idx = i
					break aliasLoop
				}
			}
		}
		if idx < 0 {
			continue
		}
		t.Cols[idx] = f.Name
		used[idx] = true
		bound = append(bound, f.Name)
	}
	return bound
}

// Describe renders the schema description given to the fragment generator:
// one line per column with its kind and up to three sample values.
func Describe(t *table.Table, s Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tabela %s: %d linhas, %d colunas\n", s.Name, len(t.Rows), len(t.Cols))
	for i, c := range t.Cols {
		kind := inferKind(t, i)
		if f, ok := s.FieldByName(c); ok {
			kind = f.Kind
		}
		fmt.Fprintf(&b, "- %s (%s)", c, kind)
		if samples := sampleValues(t, i, 3); len(samples) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(samples, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func inferKind(t *table.Table, col int) Kind {
	for _, row := range t.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case float64:
			return Numeric
		case time.Time:
			return Date
		default:
			return Text
		}
	}
	return Text
}

func sampleValues(t *table.Table, col, n int) []string {
	var out []string
	for _, row := range t.Rows {
		if len(out) == n {
			break
		}
		if col >= len(row) || row[col] == nil {
			continue
		}
		out = append(out, table.CellString(row[col]))
	}
	return out
}
