// CLAUDE:SUMMARY Registry of spreadsheet formats (csv, xlsx, json) that decode an upload into a header-plus-rows table.
package importer

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hazyhaar/onboarding-crm/pkg/tabular"
)

// Format decodes one kind of uploaded file into a table.
type Format interface {
	// ID returns the unique identifier of this format (e.g. "xlsx").
	ID() string
	// Description returns a human-readable description.
	Description() string
	// Extensions returns the lower-case file extensions it handles, with dot.
	Extensions() []string
	// Read decodes the whole stream.
	Read(r io.Reader, opts ReadOptions) (*tabular.Table, error)
}

// ReadOptions tune text formats.
type ReadOptions struct {
	Encoding  string `json:"encoding,omitempty"`
	Delimiter rune   `json:"delimiter,omitempty"`
}

var (
	registryMu sync.RWMutex
	formats    = make(map[string]Format)
)

func init() {
	Register(csvFormat{})
	Register(xlsxFormat{})
	Register(jsonFormat{})
}

// Register adds a format to the global registry.
func Register(f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()
	formats[f.ID()] = f
}

// Get returns a registered format by ID, or an error if not found.
func Get(id string) (Format, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := formats[id]
	if !ok {
		return nil, fmt.Errorf("unknown import format: %q", id)
	}
	return f, nil
}

// ForFile picks the format whose extensions include the extension of name.
func ForFile(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	for _, f := range All() {
		for _, e := range f.Extensions() {
			if e == ext {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("no import format for %q", name)
}

// All returns all registered formats sorted by ID.
func All() []Format {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Format, 0, len(formats))
	for _, f := range formats {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

type csvFormat struct{}

func (csvFormat) ID() string           { return "csv" }
func (csvFormat) Description() string  { return "Comma-separated values, any WHATWG encoding" }
func (csvFormat) Extensions() []string { return []string{".csv", ".txt"} }

func (csvFormat) Read(r io.Reader, opts ReadOptions) (*tabular.Table, error) {
	return tabular.ReadCSV(r, tabular.CSVOptions{
		Encoding:         opts.Encoding,
		Delimiter:        opts.Delimiter,
		TrimLeadingSpace: true,
	})
}

type xlsxFormat struct{}

func (xlsxFormat) ID() string           { return "xlsx" }
func (xlsxFormat) Description() string  { return "Excel workbook, first worksheet" }
func (xlsxFormat) Extensions() []string { return []string{".xlsx", ".xlsm"} }

func (xlsxFormat) Read(r io.Reader, _ ReadOptions) (*tabular.Table, error) {
	t, err := tabular.ReadXLSX(r)
	if err != nil {
		return nil, err
	}
	promoteHeader(t)
	return t, nil
}

type jsonFormat struct{}

func (jsonFormat) ID() string           { return "json" }
func (jsonFormat) Description() string  { return "JSON array of flat objects" }
func (jsonFormat) Extensions() []string { return []string{".json"} }

func (jsonFormat) Read(r io.Reader, _ ReadOptions) (*tabular.Table, error) {
	return tabular.ReadJSON(r)
}

// promoteHeader replaces a mostly unnamed header row (a title line above the
// real header) with the first data row.
func promoteHeader(t *tabular.Table) {
	if len(t.Header) == 0 || len(t.Rows) == 0 {
		return
	}
	unnamed := 0
	for _, h := range t.Header {
		if h == "" || strings.HasPrefix(h, "Unnamed") {
			unnamed++
		}
	}
	if float64(unnamed) <= float64(len(t.Header))*0.6 {
		return
	}
	header := make([]string, len(t.Rows[0]))
	for i, h := range t.Rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	t.Header = header
	t.Rows = t.Rows[1:]
}
