// Package result normalizes whatever a fragment run (or a fallback) yielded
// into the single wire shape callers receive, and owns the deterministic
// fallback templates used when generation or execution fails.
package result

import (
	"encoding/json"
	"strings"

	"nfpipe/internal/faults"
	"nfpipe/internal/fragment"
	"nfpipe/internal/table"
)

// Result is the wire shape of one answered question. Either the payload
// fields or Err is populated, never both.
type Result struct {
	TextOutput string              `json:"text_output,omitempty"`
	Table      []table.Record      `json:"table,omitempty"`
	Figure     *fragment.ChartSpec `json:"figure,omitempty"`
	Err        string              `json:"error,omitempty"`
}

// Wrapped marks a payload that carries the real result one level down.
// Extraction unwraps it a bounded number of times, so a self-referential
// wrapper cannot loop.
type Wrapped struct {
	Raw any
}

// maxUnwrapDepth bounds recursion through Wrapped values.
const maxUnwrapDepth = 4

// Extract normalizes v into a *Result.
//
// Accepted shapes, in order:
//   - *Result / Result: returned as-is
//   - *fragment.Output: converted (narrative, table records, chart)
//   - string holding a JSON object with any of the known keys: decoded
//   - any other string: wrapped as plain text output
//   - Wrapped: unwrapped and re-extracted, at most maxUnwrapDepth deep
//
// Anything else is a faults.ExtractionFailure naming the offending type.
func Extract(v any) (*Result, error) {
	return extract(v, 0)
}

func extract(v any, depth int) (*Result, error) {
	if depth > maxUnwrapDepth {
		return nil, faults.ExtractionFailure("extract result", "wrapped payload exceeds depth %d", maxUnwrapDepth)
	}

	switch x := v.(type) {
	case nil:
		return nil, faults.ExtractionFailure("extract result", "nil payload")
	case *Result:
		return x, nil
	case Result:
		return &x, nil
	case *fragment.Output:
		return FromOutput(x), nil
	case string:
		return fromString(x)
	case Wrapped:
		return extract(x.Raw, depth+1)
	case *Wrapped:
		return extract(x.Raw, depth+1)
	default:
		return nil, faults.ExtractionFailure("extract result", "unsupported payload type %T", v)
	}
}

// FromOutput converts a fragment run's output into the wire shape.
func FromOutput(o *fragment.Output) *Result {
	r := &Result{TextOutput: o.Text, Figure: o.Chart}
	if o.Table != nil {
		r.Table = o.Table.Records()
	}
	return r
}

// fromString decodes a JSON object with known keys; any other text becomes
// the text output verbatim.
func fromString(s string) (*Result, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var r Result
		if err := json.Unmarshal([]byte(trimmed), &r); err == nil {
			if r.TextOutput != "" || r.Table != nil || r.Figure != nil || r.Err != "" {
				return &r, nil
			}
		}
	}
	if trimmed == "" {
		return nil, faults.ExtractionFailure("extract result", "empty text payload")
	}
	return &Result{TextOutput: trimmed}, nil
}

// Errorf builds the error-shaped result handed to callers when everything,
// fallbacks included, failed.
func Errorf(err error) *Result {
	return &Result{Err: err.Error()}
}
