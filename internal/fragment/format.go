package fragment

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"nfpipe/internal/table"
)

// FormatCurrency renders v the pt-BR way: "R$ 1.234,56".
func FormatCurrency(v float64) string {
	return "R$ " + FormatNumber(v)
}

// FormatNumber renders v with dot thousands separators and a decimal comma:
// 1234567.5 becomes "1.234.567,50". Whole numbers keep two decimal places,
// matching fiscal documents.
func FormatNumber(v float64) string {
	neg := math.Signbit(v)
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	b.WriteByte(',')
	b.WriteString(fracPart)
	return b.String()
}

// interpolate expands {expr} spans in template. When row is non-nil (print
// each), bare column names resolve against that row; aggregates always run
// over the current working table.
func interpolate(st *state, template string, row []any) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		rest = rest[open+1:]
		closeIx := strings.IndexByte(rest, '}')
		if closeIx < 0 {
			return "", fmt.Errorf("unterminated { in template")
		}
		expr := strings.TrimSpace(rest[:closeIx])
		rest = rest[closeIx+1:]

		val, err := evalExpr(st, expr, row)
		if err != nil {
			return "", err
		}
		b.WriteString(val)
	}
}

// evalExpr evaluates one {…} expression to its display string.
//
// Grammar: ident | fn(arg). fn is one of the aggregates (sum, avg, min,
// max, count) or a formatting helper (format_currency, format_number). A
// bare ident is a column: the row cell under print each, the first row's
// cell otherwise.
func evalExpr(st *state, expr string, row []any) (string, error) {
	name, arg, isCall := splitCall(expr)
	if !isCall {
		v, err := columnValue(st, expr, row)
		if err != nil {
			return "", err
		}
		return table.CellString(v), nil
	}

	switch name {
	case "format_currency", "format_number":
		inner, err := evalNumber(st, arg, row)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		if name == "format_currency" {
			return FormatCurrency(inner), nil
		}
		return FormatNumber(inner), nil

	case "sum", "avg", "min", "max", "count":
		v, err := aggregate(st, name, arg)
		if err != nil {
			return "", err
		}
		return table.FormatFloat(v), nil

	default:
		return "", fmt.Errorf("unknown function %q", name)
	}
}

// evalNumber evaluates an expression that must produce a number, used as
// the argument of the formatting helpers.
func evalNumber(st *state, expr string, row []any) (float64, error) {
	name, arg, isCall := splitCall(expr)
	if isCall {
		switch name {
		case "sum", "avg", "min", "max", "count":
			return aggregate(st, name, arg)
		default:
			return 0, fmt.Errorf("unknown function %q", name)
		}
	}
	v, err := columnValue(st, expr, row)
	if err != nil {
		return 0, err
	}
	if f, ok := asNumber(v); ok {
		return f, nil
	}
	return 0, fmt.Errorf("column %q is not numeric here", expr)
}

func columnValue(st *state, col string, row []any) (any, error) {
	ci := st.work.ColIndex(col)
	if ci < 0 {
		return nil, fmt.Errorf("no column %q", col)
	}
	if row != nil {
		return rowCell(row, ci), nil
	}
	if len(st.work.Rows) == 0 {
		return nil, nil
	}
	return rowCell(st.work.Rows[0], ci), nil
}

func aggregate(st *state, agg, col string) (float64, error) {
	if agg == "count" && col == "" {
		return float64(len(st.work.Rows)), nil
	}
	ci := st.work.ColIndex(col)
	if ci < 0 {
		return 0, fmt.Errorf("%s: no column %q", agg, col)
	}
	var (
		sum, minV, maxV float64
		n               int
	)
	for _, row := range st.work.Rows {
		v, ok := asNumber(rowCell(row, ci))
		if !ok {
			if agg == "count" && rowCell(row, ci) != nil {
				n++
			}
			continue
		}
		if n == 0 || v < minV {
			minV = v
		}
		if n == 0 || v > maxV {
			maxV = v
		}
		sum += v
		n++
	}
	switch agg {
	case "sum":
		return sum, nil
	case "count":
		return float64(n), nil
	case "avg":
		if n == 0 {
			return 0, nil
		}
		return sum / float64(n), nil
	case "min":
		return minV, nil
	case "max":
		return maxV, nil
	}
	return 0, fmt.Errorf("unknown aggregate %q", agg)
}

// splitCall recognizes "fn(arg)" and returns (fn, arg, true); anything else
// returns (expr, "", false).
func splitCall(expr string) (name, arg string, ok bool) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return expr, "", false
	}
	return strings.TrimSpace(expr[:open]), strings.TrimSpace(expr[open+1 : len(expr)-1]), true
}
