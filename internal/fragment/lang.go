// Package fragment parses and executes the small, line-oriented computation
// language the analyst runs against the merged table.
//
// The language replaces free-form generated code on purpose: it has no file,
// network, or host primitives, so a hostile fragment can at worst produce a
// wrong answer. Statements, one per line:
//
//	filter <col> <op> <value>          op: == != > >= < <= contains
//	group by <col> <agg> [<col>]       agg: sum count avg min max
//	sort <col> [asc|desc]
//	limit <n>
//	select <col>[,<col>...]
//	print "text {expr}"
//	print each <n> "text {col}"
//	result
//	chart <bar|pie|line> <x> <y> "title"
//
// Inside {…} an expression is a column name, an aggregate over the working
// table (sum(col), avg(col), min(col), max(col), count()), or one of the
// formatting helpers format_currency(expr) / format_number(expr).
//
// Lines starting with # are comments.
package fragment

import (
	"strconv"
	"strings"

	"nfpipe/internal/faults"
)

// ChartSpec is the opaque chart request carried through to the caller.
// Nothing in this process renders it.
type ChartSpec struct {
	Kind  string `json:"kind"`
	X     string `json:"x"`
	Y     string `json:"y"`
	Title string `json:"title"`
}

// Program is a parsed fragment, ready to run.
type Program struct {
	stmts []statement
}

// Len reports the number of statements.
func (p *Program) Len() int { return len(p.stmts) }

type statement interface {
	run(st *state) error
}

type filterStmt struct {
	col, op, value string
}

type groupStmt struct {
	col, agg, valueCol string
}

type sortStmt struct {
	col  string
	desc bool
}

type limitStmt struct {
	n int
}

type selectStmt struct {
	cols []string
}

type printStmt struct {
	template string
}

type printEachStmt struct {
	n        int
	template string
}

type resultStmt struct{}

type chartStmt struct {
	spec ChartSpec
}

var filterOps = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"contains": true,
}

var groupAggs = map[string]bool{
	"sum": true, "count": true, "avg": true, "min": true, "max": true,
}

var chartKinds = map[string]bool{"bar": true, "pie": true, "line": true}

// Parse is the static check: it validates syntax and statement vocabulary
// without touching any data. Anything it accepts can run; anything outside
// the grammar is rejected here, before execution.
func Parse(src string) (*Program, error) {
	var p Program
	for ln, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		st, err := parseLine(line)
		if err != nil {
			return nil, faults.ExecutionFailure("parse fragment", "line %d: %v", ln+1, err)
		}
		p.stmts = append(p.stmts, st)
	}
	if len(p.stmts) == 0 {
		return nil, faults.ExecutionFailure("parse fragment", "empty fragment")
	}
	return &p, nil
}

type parseError string

func (e parseError) Error() string { return string(e) }

func parseLine(line string) (statement, error) {
	toks, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	switch toks[0] {
	case "filter":
		if len(toks) != 4 {
			return nil, parseError("filter wants: filter <col> <op> <value>")
		}
		if !filterOps[toks[2]] {
			return nil, parseError("unknown filter operator " + strconv.Quote(toks[2]))
		}
		return filterStmt{col: toks[1], op: toks[2], value: toks[3]}, nil

	case "group":
		if len(toks) < 4 || toks[1] != "by" {
			return nil, parseError("group wants: group by <col> <agg> [<col>]")
		}
		g := groupStmt{col: toks[2], agg: toks[3]}
		if !groupAggs[g.agg] {
			return nil, parseError("unknown aggregate " + strconv.Quote(g.agg))
		}
		switch {
		case len(toks) == 5:
			g.valueCol = toks[4]
		case len(toks) > 5:
			return nil, parseError("group by takes at most one value column")
		case g.agg != "count":
			return nil, parseError("aggregate " + g.agg + " needs a value column")
		}
		return g, nil

	case "sort":
		if len(toks) < 2 || len(toks) > 3 {
			return nil, parseError("sort wants: sort <col> [asc|desc]")
		}
		s := sortStmt{col: toks[1]}
		if len(toks) == 3 {
			switch toks[2] {
			case "asc":
			case "desc":
				s.desc = true
			default:
				return nil, parseError("sort direction must be asc or desc")
			}
		}
		return s, nil

	case "limit":
		if len(toks) != 2 {
			return nil, parseError("limit wants: limit <n>")
		}
		n, err := strconv.Atoi(toks[1])
		if err != nil || n < 0 {
			return nil, parseError("limit wants a non-negative integer")
		}
		return limitStmt{n: n}, nil

	case "select":
		if len(toks) < 2 {
			return nil, parseError("select wants at least one column")
		}
		cols := strings.Split(strings.Join(toks[1:], ""), ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
			if cols[i] == "" {
				return nil, parseError("select has an empty column name")
			}
		}
		return selectStmt{cols: cols}, nil

	case "print":
		if len(toks) == 2 {
			return printStmt{template: toks[1]}, nil
		}
		if len(toks) == 4 && toks[1] == "each" {
			n, err := strconv.Atoi(toks[2])
			if err != nil || n <= 0 {
				return nil, parseError("print each wants a positive row count")
			}
			return printEachStmt{n: n, template: toks[3]}, nil
		}
		return nil, parseError(`print wants: print "..." or print each <n> "..."`)

	case "result":
		if len(toks) != 1 {
			return nil, parseError("result takes no arguments")
		}
		return resultStmt{}, nil

	case "chart":
		if len(toks) != 5 {
			return nil, parseError(`chart wants: chart <bar|pie|line> <x> <y> "title"`)
		}
		if !chartKinds[toks[1]] {
			return nil, parseError("unknown chart kind " + strconv.Quote(toks[1]))
		}
		return chartStmt{spec: ChartSpec{Kind: toks[1], X: toks[2], Y: toks[3], Title: toks[4]}}, nil

	default:
		return nil, parseError("unknown statement " + strconv.Quote(toks[0]))
	}
}

// tokenize splits a statement line on whitespace, keeping double-quoted
// spans as single tokens without the quotes. An unterminated quote is an
// error.
func tokenize(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			if inQuote {
				toks = append(toks, cur.String())
				cur.Reset()
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, parseError("unterminated quote")
	}
	flush()
	if len(toks) == 0 {
		return nil, parseError("empty statement")
	}
	return toks, nil
}
