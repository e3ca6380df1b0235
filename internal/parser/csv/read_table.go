// Package csv loads delimited text files into tables.
//
// Parsing is best-effort: invoice exports routinely carry ragged rows, BOMs,
// and stray quoting, and one bad record must not sink the load. Records that
// cannot be aligned to the header are skipped and counted; only a header
// that cannot be read at all fails the load.
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"nfpipe/internal/config"
	"nfpipe/internal/encdetect"
	"nfpipe/internal/faults"
	"nfpipe/internal/table"
)

// ReadTable parses one CSV document from r, which must already be UTF-8.
//
// Options honored:
//
//	comma             field separator (default ',')
//	trim_space        trim each field (default true)
//	lazy_quotes       tolerate bare quotes (default true)
//	max_rows          stop after this many data rows (0 = unlimited)
//
// Behavior:
//   - First header cell is stripped of a UTF-8 BOM.
//   - Empty fields become nil cells.
//   - Records longer than the header are truncated; shorter ones are padded
//     with nil. Records the csv reader rejects outright are skipped.
//   - An unreadable or empty header is a faults.FormatError.
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (*table.Table, error) {
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", true)
	lazy := opt.Bool("lazy_quotes", true)
	maxRows := opt.Int("max_rows", 0)

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		return nil, faults.FormatError("read csv", "cannot read header").Wrap(err)
	}
	cols := make([]string, len(hdr))
	raw := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		raw[i] = h
		cols[i] = encdetect.CleanLabel(h)
	}
	if len(cols) == 1 && cols[0] == "" {
		return nil, faults.FormatError("read csv", "empty header line")
	}

	t := &table.Table{
		Cols:       cols,
		Provenance: table.Provenance{RawCols: raw},
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if maxRows > 0 && len(t.Rows) >= maxRows {
			return t, nil
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			// Malformed record. Skip it and keep going.
			continue
		}

		row := make([]any, len(cols))
		for i := range cols {
			if i >= len(rec) {
				continue
			}
			v := rec[i]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

// ReadDetected detects the encoding of data, decodes it, and parses it.
// The detection name lands in the table's provenance.
func ReadDetected(ctx context.Context, data []byte, opt config.Options) (*table.Table, error) {
	det := encdetect.Detect(data)
	t, err := ReadTable(ctx, det.NewReader(bytes.NewReader(data)), opt)
	if err != nil {
		return nil, err
	}
	t.Provenance.Encoding = det.Name
	return t, nil
}
