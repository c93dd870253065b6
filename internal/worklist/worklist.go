// Package worklist reads and writes the tabular work lists (CSV files with a
// unique identifier column) that the partitioner splits and the job runner
// iterates.
package worklist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fsx"
)

// DefaultColumn is the identifier column of UK Biobank work lists.
const DefaultColumn = "eid"

// DataFormatError reports a work list that cannot be used: missing
// identifier column, duplicate or empty identifiers, malformed CSV.
type DataFormatError struct {
	Path   string
	Column string
	Line   int // 1-based CSV line, 0 when not tied to a line
	Reason string
}

func (e *DataFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("worklist: %s line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("worklist: %s: %s", e.Path, e.Reason)
}

// IsDataFormat reports whether err is or wraps a *DataFormatError.
func IsDataFormat(err error) bool {
	var e *DataFormatError
	return errors.As(err, &e)
}

// WorkList is an ordered table of work items. Column names the identifier
// column; every other column is carried through untouched.
type WorkList struct {
	Column string
	Header []string
	Rows   [][]string

	col int
}

// New builds a WorkList from a header and rows, validating the identifier
// column. path is only used in error messages.
func New(path, column string, header []string, rows [][]string) (*WorkList, error) {
	if column == "" {
		column = DefaultColumn
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(h) == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, &DataFormatError{Path: path, Column: column, Reason: fmt.Sprintf("missing identifier column %q", column)}
	}

	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		line := i + 2 // header is line 1
		if col >= len(row) {
			return nil, &DataFormatError{Path: path, Column: column, Line: line, Reason: "row is shorter than header"}
		}
		id := strings.TrimSpace(row[col])
		if id == "" {
			return nil, &DataFormatError{Path: path, Column: column, Line: line, Reason: "empty identifier"}
		}
		if prev, ok := seen[id]; ok {
			return nil, &DataFormatError{Path: path, Column: column, Line: line, Reason: fmt.Sprintf("duplicate identifier %q (first seen on line %d)", id, prev)}
		}
		seen[id] = line
	}

	return &WorkList{Column: column, Header: header, Rows: rows, col: col}, nil
}

// Len returns the number of work items.
func (w *WorkList) Len() int { return len(w.Rows) }

// ID returns the identifier of row i.
func (w *WorkList) ID(i int) string {
	return strings.TrimSpace(w.Rows[i][w.col])
}

// IDs returns the identifiers in row order.
func (w *WorkList) IDs() []string {
	ids := make([]string, len(w.Rows))
	for i := range w.Rows {
		ids[i] = w.ID(i)
	}
	return ids
}

// Slice returns the rows [lo, hi) as a new WorkList sharing the header.
func (w *WorkList) Slice(lo, hi int) *WorkList {
	return &WorkList{Column: w.Column, Header: w.Header, Rows: w.Rows[lo:hi], col: w.col}
}

// Read loads a CSV work list from path.
func Read(path, column string) (*WorkList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &fsx.StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return Parse(f, path, column)
}

// Parse reads a CSV work list from r. name is used in error messages.
func Parse(r io.Reader, name, column string) (*WorkList, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &DataFormatError{Path: name, Column: column, Reason: "empty file"}
	}
	if err != nil {
		return nil, &DataFormatError{Path: name, Column: column, Reason: err.Error()}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &DataFormatError{Path: name, Column: column, Line: pe.Line, Reason: pe.Err.Error()}
			}
			return nil, &DataFormatError{Path: name, Column: column, Reason: err.Error()}
		}
		rows = append(rows, rec)
	}

	return New(name, column, header, rows)
}

// Write stores w as a CSV file at path, header first.
func Write(path string, w *WorkList) error {
	var sb strings.Builder
	cw := csv.NewWriter(&sb)
	if err := cw.Write(w.Header); err != nil {
		return &fsx.StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := cw.WriteAll(w.Rows); err != nil {
		return &fsx.StorageError{Op: "encode", Path: path, Err: err}
	}
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), []byte(sb.String()), 0o644)
}
