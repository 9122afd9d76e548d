// CLAUDE:SUMMARY Header-plus-rows table codec for CSV (any WHATWG charset), XLSX (excelize, first sheet) and JSON record arrays, with atomic file writes.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultSheet is the worksheet written to new workbooks.
const DefaultSheet = "Sheet1"

// Table is a header row followed by data rows. Rows may be shorter than
// the header when trailing cells are empty.
type Table struct {
	Header []string
	Rows   [][]string
}

// Records returns the rows as header-keyed maps.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		m := make(map[string]string, len(t.Header))
		for j, h := range t.Header {
			if j < len(row) {
				m[h] = row[j]
			} else {
				m[h] = ""
			}
		}
		out[i] = m
	}
	return out
}

// CSVOptions tune ReadCSV.
type CSVOptions struct {
	// Encoding is a WHATWG label such as "windows-1252"; empty means UTF-8.
	Encoding         string
	Delimiter        rune
	TrimLeadingSpace bool
}

// ReadCSV reads a whole CSV stream. The first record is the header; a UTF-8
// byte order mark on it is dropped. An empty stream yields an empty table.
func ReadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	if enc := opts.Encoding; enc != "" && !isUTF8(enc) {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return nil, fmt.Errorf("unsupported encoding %q: %w", enc, err)
		}
		r = transform.NewReader(r, e.NewDecoder())
	}

	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = opts.TrimLeadingSpace
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return &Table{Header: header, Rows: rows}, nil
}

// WriteCSV writes the header and rows as UTF-8 CSV.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// ReadXLSX reads the first worksheet of a workbook.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return &Table{}, nil
	}
	header := rows[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &Table{Header: header, Rows: rows[1:]}, nil
}

// WriteXLSX writes the table to DefaultSheet of a new workbook. Every cell
// is stored as text.
func WriteXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(DefaultSheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}
	write := func(i int, row []string) error {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		return sw.SetRow(cell, vals)
	}
	if err := write(0, t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := write(i+1, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return f.Write(w)
}

// ReadJSON reads an array of flat objects. The header is the sorted union of
// keys; numbers keep their literal text and null becomes "".
func ReadJSON(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var recs []map[string]any
	if err := dec.Decode(&recs); err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("decode records: %w", err)
	}

	keys := make(map[string]bool)
	for _, rec := range recs {
		for k := range rec {
			keys[k] = true
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(header))
		for j, h := range header {
			row[j] = jsonText(rec[h])
		}
		rows[i] = row
	}
	return &Table{Header: header, Rows: rows}, nil
}

// WriteJSON writes the table as an indented array of objects.
func WriteJSON(w io.Writer, t *Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t.Records())
}

func jsonText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}

// WriteFile writes path through a temporary file in the same directory and
// renames it into place.
func WriteFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func isUTF8(enc string) bool {
	return strings.EqualFold(strings.ReplaceAll(enc, "-", ""), "utf8")
}
