// Package encdetect guesses the character encoding of delimited-text files
// and normalizes column labels.
//
// Invoice exports in the wild arrive in UTF-8, ISO-8859-1, or Windows-1252,
// frequently mislabeled. Detection is best-effort and never fails: every byte
// sequence decodes under the Latin-1 fallback, so the reader always gets
// text. A wrong guess shows up as mojibake in the header, which the probe
// loop is built to catch.
package encdetect

import (
	"bytes"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Detection names the winning encoding and can wrap a reader with the
// matching decoder.
type Detection struct {
	Name string

	enc encoding.Encoding // nil means UTF-8 passthrough
}

// NewReader returns r decoded into UTF-8 under the detected encoding.
func (d Detection) NewReader(r io.Reader) io.Reader {
	if d.enc == nil {
		return r
	}
	return transform.NewReader(r, d.enc.NewDecoder())
}

// candidates is the probe order. UTF-8 first so clean files short-circuit;
// the single-byte candidates follow in the order the source systems actually
// use them.
var candidates = []Detection{
	{Name: "utf-8", enc: nil},
	{Name: "iso-8859-1", enc: charmap.ISO8859_1},
	{Name: "windows-1252", enc: charmap.Windows1252},
	{Name: "iso-8859-15", enc: charmap.ISO8859_15},
}

// Detect picks an encoding for sample, which should include at least the
// header line of the file.
//
// What it does:
//  1. Computes a statistical guess from the byte distribution (valid UTF-8,
//     presence of C1-range bytes).
//  2. Decodes the header line under each candidate in order and counts
//     mojibake indicator glyphs; the first candidate with a clean header wins.
//  3. Falls back to the statistical guess, then to ISO-8859-1.
//
// Detect never returns an error: ISO-8859-1 accepts every byte.
func Detect(sample []byte) Detection {
	header := headerLine(sample)
	guess := statisticalGuess(sample)

	for _, c := range candidates {
		if c.enc == nil && !utf8.Valid(header) {
			continue
		}
		decoded, err := decodeWith(c, header)
		if err != nil {
			continue
		}
		if countMojibake(decoded) == 0 {
			return c
		}
	}
	if guess.Name != "" {
		return guess
	}
	return candidates[1] // iso-8859-1
}

func decodeWith(d Detection, b []byte) (string, error) {
	if d.enc == nil {
		return string(b), nil
	}
	out, _, err := transform.Bytes(d.enc.NewDecoder(), b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// headerLine returns sample up to the first newline.
func headerLine(sample []byte) []byte {
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		return bytes.TrimRight(sample[:i], "\r")
	}
	return sample
}

// statisticalGuess classifies by byte distribution alone.
//
// Valid UTF-8 with multibyte sequences is almost certainly UTF-8. Bytes in
// the C1 range (0x80-0x9f) are unassigned in ISO-8859-1 text but carry the
// smart quotes and dashes of Windows-1252, so their presence tips the guess.
func statisticalGuess(sample []byte) Detection {
	hasHigh, hasC1 := false, false
	for _, b := range sample {
		if b >= 0x80 {
			hasHigh = true
		}
		if b >= 0x80 && b <= 0x9f {
			hasC1 = true
		}
	}
	switch {
	case !hasHigh:
		return candidates[0] // pure ASCII, utf-8 is fine
	case utf8.Valid(sample):
		return candidates[0]
	case hasC1:
		return candidates[2] // windows-1252
	default:
		return candidates[1] // iso-8859-1
	}
}

// countMojibake counts the tell-tale glyph pairs UTF-8 bytes turn into when
// decoded as a single-byte Latin encoding: "Ã" or "Â" followed by a rune in
// the U+0080..U+00BF block ("Ã£", "Ã§", "Â°"...), plus the replacement
// character. A lone "Ã" followed by an ASCII letter is legitimate Portuguese
// ("DESCRIÇÃO") and is not counted.
func countMojibake(s string) int {
	n := strings.Count(s, "�")
	rs := []rune(s)
	for i := 0; i+1 < len(rs); i++ {
		if (rs[i] == 'Ã' || rs[i] == 'Â') && rs[i+1] >= 0x80 && rs[i+1] <= 0xbf {
			n++
		}
	}
	return n
}

// stripMarks removes combining marks after NFD decomposition, turning
// "razão" into "razao".
var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// CleanLabel normalizes a column label for matching: lowercase, accents
// stripped, anything that is not a letter, digit, underscore, or space
// removed, whitespace runs collapsed. Idempotent, so labels can be cleaned
// again without drift.
func CleanLabel(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)

	var b strings.Builder
	b.Grow(len(out))
	for _, r := range out {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
