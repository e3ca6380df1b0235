// Package archive opens the invoice zip and pulls out the two CSV members:
// one header file and one line-items file.
package archive

import (
	"archive/zip"
	"io"
	"path"
	"strings"

	"nfpipe/internal/encdetect"
	"nfpipe/internal/faults"
)

// Pair holds the raw bytes of the two CSV members.
type Pair struct {
	NotesName string
	NotesData []byte
	ItemsName string
	ItemsData []byte
}

var (
	notesMarkers = []string{"cabecalho", "notas", "header"}
	itemsMarkers = []string{"itens", "items"}
)

// Extract opens the zip at zipPath and returns the notes and items CSVs.
//
// Member discovery is by file-name substring, case- and accent-insensitive:
// "cabecalho"/"notas"/"header" marks the header file, "itens"/"items" the
// line items. Exactly one of each must match.
//
// Errors:
//   - unreadable archive: faults.IOFailure
//   - zero CSV members, a missing role, or more than one candidate for a
//     role: faults.FormatError listing every member found
func Extract(zipPath string) (*Pair, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, faults.IOFailure("open archive", "cannot open %s", zipPath).Wrap(err)
	}
	defer zr.Close()

	var csvs []*zip.File
	var allNames []string
	for _, f := range zr.File {
		allNames = append(allNames, f.Name)
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".csv") {
			csvs = append(csvs, f)
		}
	}
	if len(csvs) == 0 {
		return nil, memberError("archive contains no csv files", allNames)
	}

	notes := matchMembers(csvs, notesMarkers)
	items := matchMembers(csvs, itemsMarkers)

	// Two CSVs with no recognizable names: fall back to archive order,
	// header file first. With any other shape we refuse to guess.
	if len(notes) == 0 && len(items) == 0 && len(csvs) == 2 {
		notes, items = csvs[:1], csvs[1:]
	}
	switch {
	case len(notes) == 0:
		return nil, memberError("no invoice-header csv found", allNames)
	case len(items) == 0:
		return nil, memberError("no line-items csv found", allNames)
	case len(notes) > 1:
		return nil, memberError("multiple invoice-header candidates", allNames)
	case len(items) > 1:
		return nil, memberError("multiple line-items candidates", allNames)
	case notes[0] == items[0]:
		return nil, memberError("one csv matched both roles", allNames)
	}

	p := &Pair{NotesName: notes[0].Name, ItemsName: items[0].Name}
	if p.NotesData, err = readMember(notes[0]); err != nil {
		return nil, err
	}
	if p.ItemsData, err = readMember(items[0]); err != nil {
		return nil, err
	}
	return p, nil
}

func memberError(msg string, names []string) error {
	e := faults.FormatError("extract archive", "%s", msg)
	if len(names) > 0 {
		e.WithDetail("members: " + strings.Join(names, ", "))
	}
	return e
}

// matchMembers returns the csv members whose cleaned base name contains any
// marker. A member matching on an earlier marker is not reported twice.
func matchMembers(files []*zip.File, markers []string) []*zip.File {
	var out []*zip.File
	for _, f := range files {
		name := encdetect.CleanLabel(path.Base(f.Name))
		for _, m := range markers {
			if strings.Contains(name, m) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, faults.IOFailure("extract archive", "cannot open member %s", f.Name).Wrap(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, faults.IOFailure("extract archive", "cannot read member %s", f.Name).Wrap(err)
	}
	return data, nil
}
