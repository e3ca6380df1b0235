package fragment

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"nfpipe/internal/faults"
	"nfpipe/internal/table"
)

// NoOutputMessage is the narrative used when a fragment runs to completion
// without printing anything and without publishing a table.
const NoOutputMessage = "a consulta foi executada, mas não produziu saída"

// Output is everything one run produced.
type Output struct {
	// Text is the captured narrative (print statements), trimmed.
	Text string
	// Table is the published working table, nil when the fragment never
	// issued a result statement.
	Table *table.Table
	// Chart is the last chart statement, if any.
	Chart *ChartSpec
}

// Executor runs parsed programs. The zero value is not usable; construct
// with NewExecutor.
//
// The executor owns an output sink. During a run the sink is swapped for a
// per-run buffer and restored on every exit path, panics included; the
// mutex serializes runs so concurrent callers cannot observe each other's
// capture state.
type Executor struct {
	mu   sync.Mutex
	sink io.Writer
}

// NewExecutor returns an executor whose resting sink is w. A nil w discards
// anything written outside a capture window.
func NewExecutor(w io.Writer) *Executor {
	if w == nil {
		w = io.Discard
	}
	return &Executor{sink: w}
}

// state is the whole execution environment: the working table, the capture
// sink, and the published outputs. There is nothing else a statement can
// reach.
type state struct {
	work   *table.Table
	out    io.Writer
	result *table.Table
	chart  *ChartSpec
}

// Run executes prog against tbl and returns the captured output.
//
// What it does:
//   - Clones tbl; statements never mutate the caller's table.
//   - Swaps the sink for a buffer and restores it via defer, so capture
//     survives any exit path.
//   - Recovers panics into faults.ExecutionFailure; the message names the
//     failing statement index, not internal stack detail.
//   - Checks ctx between statements; cancellation abandons the run at the
//     next statement boundary.
//
// A run that prints nothing and publishes nothing yields Output.Text set to
// NoOutputMessage.
func (e *Executor) Run(ctx context.Context, prog *Program, tbl *table.Table) (out *Output, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	saved := e.sink
	var buf strings.Builder
	e.sink = &buf
	defer func() { e.sink = saved }()

	st := &state{work: tbl.Clone(), out: &buf}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = faults.ExecutionFailure("run fragment", "statement panic: %v", r)
		}
	}()

	for i, s := range prog.stmts {
		select {
		case <-ctx.Done():
			return nil, faults.ExecutionFailure("run fragment", "aborted at statement %d", i+1).Wrap(ctx.Err())
		default:
		}
		if err := s.run(st); err != nil {
			return nil, faults.ExecutionFailure("run fragment", "statement %d failed", i+1).Wrap(err)
		}
	}

	out = &Output{
		Text:  strings.TrimRight(buf.String(), "\n"),
		Table: st.result,
		Chart: st.chart,
	}
	if out.Text == "" && out.Table == nil && out.Chart == nil {
		out.Text = NoOutputMessage
	}
	return out, nil
}

func (s filterStmt) run(st *state) error {
	ci := st.work.ColIndex(s.col)
	if ci < 0 {
		return fmt.Errorf("filter: no column %q", s.col)
	}
	kept := st.work.Rows[:0:0]
	for _, row := range st.work.Rows {
		var cell any
		if ci < len(row) {
			cell = row[ci]
		}
		ok, err := compare(cell, s.op, s.value)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		if ok {
			kept = append(kept, row)
		}
	}
	st.work.Rows = kept
	return nil
}

// compare evaluates one filter condition. Numeric cells compare numerically
// when the literal parses as a number; everything else compares as trimmed,
// case-insensitive text.
func compare(cell any, op, literal string) (bool, error) {
	if f, ok := cell.(float64); ok {
		if lit, ok := parseLiteralNumber(literal); ok {
			switch op {
			case "==":
				return f == lit, nil
			case "!=":
				return f != lit, nil
			case ">":
				return f > lit, nil
			case ">=":
				return f >= lit, nil
			case "<":
				return f < lit, nil
			case "<=":
				return f <= lit, nil
			case "contains":
				return strings.Contains(table.FormatFloat(f), literal), nil
			}
		}
	}

	cs := strings.ToLower(strings.TrimSpace(table.CellString(cell)))
	ls := strings.ToLower(strings.TrimSpace(literal))
	switch op {
	case "==":
		return cs == ls, nil
	case "!=":
		return cs != ls, nil
	case ">":
		return cs > ls, nil
	case ">=":
		return cs >= ls, nil
	case "<":
		return cs < ls, nil
	case "<=":
		return cs <= ls, nil
	case "contains":
		return strings.Contains(cs, ls), nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func (s groupStmt) run(st *state) error {
	ki := st.work.ColIndex(s.col)
	if ki < 0 {
		return fmt.Errorf("group by: no column %q", s.col)
	}
	vi := -1
	if s.valueCol != "" {
		vi = st.work.ColIndex(s.valueCol)
		if vi < 0 {
			return fmt.Errorf("group by: no column %q", s.valueCol)
		}
	}

	type bucket struct {
		key   string
		label any
		sum   float64
		count float64
		min   float64
		max   float64
		seen  bool
	}
	order := []string{}
	buckets := map[string]*bucket{}

	for _, row := range st.work.Rows {
		var keyCell any
		if ki < len(row) {
			keyCell = row[ki]
		}
		key := strings.ToLower(strings.TrimSpace(table.CellString(keyCell)))
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key, label: keyCell}
			buckets[key] = b
			order = append(order, key)
		}
		if vi < 0 {
			b.count++
			continue
		}
		v, ok := asNumber(rowCell(row, vi))
		if !ok {
			continue
		}
		b.count++
		b.sum += v
		if !b.seen || v < b.min {
			b.min = v
		}
		if !b.seen || v > b.max {
			b.max = v
		}
		b.seen = true
	}

	outCol := s.agg
	if s.valueCol != "" {
		outCol = s.agg + "_" + s.valueCol
	}
	out := &table.Table{Cols: []string{s.col, outCol}, Provenance: st.work.Provenance}
	for _, key := range order {
		b := buckets[key]
		var v float64
		switch s.agg {
		case "sum":
			v = b.sum
		case "count":
			v = b.count
		case "avg":
			if b.count > 0 {
				v = b.sum / b.count
			}
		case "min":
			v = b.min
		case "max":
			v = b.max
		}
		out.Rows = append(out.Rows, []any{b.label, v})
	}
	st.work = out
	return nil
}

func (s sortStmt) run(st *state) error {
	ci := st.work.ColIndex(s.col)
	if ci < 0 {
		return fmt.Errorf("sort: no column %q", s.col)
	}
	rows := st.work.Rows
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rowCell(rows[i], ci), rowCell(rows[j], ci)
		if s.desc {
			a, b = b, a
		}
		return cellLess(a, b)
	})
	return nil
}

// cellLess orders nil first, numbers before text, then by value.
func cellLess(a, b any) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	switch {
	case aok && bok:
		return af < bf
	case aok:
		return true
	case bok:
		return false
	}
	return table.CellString(a) < table.CellString(b)
}

func (s limitStmt) run(st *state) error {
	if len(st.work.Rows) > s.n {
		st.work.Rows = st.work.Rows[:s.n]
	}
	return nil
}

func (s selectStmt) run(st *state) error {
	ix := make([]int, len(s.cols))
	for i, c := range s.cols {
		ix[i] = st.work.ColIndex(c)
		if ix[i] < 0 {
			return fmt.Errorf("select: no column %q", c)
		}
	}
	out := &table.Table{Cols: append([]string(nil), s.cols...), Provenance: st.work.Provenance}
	for _, row := range st.work.Rows {
		nr := make([]any, len(ix))
		for i, ci := range ix {
			nr[i] = rowCell(row, ci)
		}
		out.Rows = append(out.Rows, nr)
	}
	st.work = out
	return nil
}

func (s printStmt) run(st *state) error {
	line, err := interpolate(st, s.template, nil)
	if err != nil {
		return fmt.Errorf("print: %w", err)
	}
	fmt.Fprintln(st.out, line)
	return nil
}

func (s printEachStmt) run(st *state) error {
	n := s.n
	if n > len(st.work.Rows) {
		n = len(st.work.Rows)
	}
	for _, row := range st.work.Rows[:n] {
		line, err := interpolate(st, s.template, row)
		if err != nil {
			return fmt.Errorf("print each: %w", err)
		}
		fmt.Fprintln(st.out, line)
	}
	return nil
}

func (resultStmt) run(st *state) error {
	st.result = st.work.Clone()
	return nil
}

func (s chartStmt) run(st *state) error {
	spec := s.spec
	st.chart = &spec
	return nil
}

func rowCell(row []any, i int) any {
	if i < len(row) {
		return row[i]
	}
	return nil
}

func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func parseLiteralNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
