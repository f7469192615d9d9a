package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/parquet-go/parquet-go"

	"github.com/crimson-sun/medexpand/internal/errs"
)

// Supported on-disk formats, selected by file extension.
const (
	ExtParquet      = ".parq"
	ExtParquetLong  = ".parquet"
	ExtCSV          = ".csv"
	DefaultSep      = ','
	readRowsBufSize = 256
)

// Table is a column-oriented view of a loaded dataset file. Every value is
// kept as text; the pipeline only consumes string columns.
type Table struct {
	names []string
	cols  map[string][]string
}

// NewTable builds a Table from named columns. Column order follows names.
func NewTable(names []string, cols map[string][]string) *Table {
	return &Table{names: names, cols: cols}
}

// Columns returns the column names in file order.
func (t *Table) Columns() []string { return t.names }

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]string, bool) {
	c, ok := t.cols[name]
	return c, ok
}

// Len returns the number of rows, taken from the first column.
func (t *Table) Len() int {
	if len(t.names) == 0 {
		return 0
	}
	return len(t.cols[t.names[0]])
}

// Load reads a tabular file. Parquet files (.parq, .parquet) are read as
// columnar binary; .csv files are read as delimited text with sep as field
// separator (0 means comma) and a header row.
func Load(path string, sep rune) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ExtParquet, ExtParquetLong:
		return loadParquet(path)
	case ExtCSV:
		return loadCSV(path, sep)
	default:
		return nil, &errs.UnsupportedFormatError{Path: path, Ext: ext}
	}
}

// ParseSep converts a configured separator string to a rune.
func ParseSep(s string) (rune, error) {
	switch {
	case s == "":
		return DefaultSep, nil
	case s == `\t`:
		return '\t', nil
	case utf8.RuneCountInString(s) == 1:
		r, _ := utf8.DecodeRuneInString(s)
		return r, nil
	default:
		return 0, fmt.Errorf("dataset: separator must be a single character, got %q", s)
	}
}

func loadCSV(path string, sep rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if sep != 0 {
		r.Comma = sep
	}
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("missing header row")
		}
		return nil, &errs.FormatError{Path: path, Err: err}
	}

	names := make([]string, len(header))
	cols := make(map[string][]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		names[i] = h
		cols[h] = nil
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &errs.FormatError{Path: path, Err: err}
		}
		for i, name := range names {
			cols[name] = append(cols[name], rec[i])
		}
	}
	return NewTable(names, cols), nil
}

func loadParquet(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, &errs.FormatError{Path: path, Err: err}
	}

	// Only flat schemas are supported: leaf column i is top-level field i.
	leaves := pf.Schema().Columns()
	names := make([]string, len(leaves))
	cols := make(map[string][]string, len(leaves))
	for i, leaf := range leaves {
		if len(leaf) != 1 {
			return nil, &errs.FormatError{Path: path, Err: fmt.Errorf("nested column %v not supported", leaf)}
		}
		names[i] = leaf[0]
		cols[leaf[0]] = make([]string, 0, pf.NumRows())
	}

	buf := make([]parquet.Row, readRowsBufSize)
	for _, rg := range pf.RowGroups() {
		if err := readRowGroup(rg, buf, names, cols); err != nil {
			return nil, &errs.FormatError{Path: path, Err: err}
		}
	}
	return NewTable(names, cols), nil
}

func readRowGroup(rg parquet.RowGroup, buf []parquet.Row, names []string, cols map[string][]string) error {
	rows := rg.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			for _, v := range row {
				c := v.Column()
				if c < 0 || c >= len(names) {
					continue
				}
				cols[names[c]] = append(cols[names[c]], valueText(v))
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func valueText(v parquet.Value) string {
	switch {
	case v.IsNull():
		return ""
	case v.Kind() == parquet.ByteArray || v.Kind() == parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
