// Package parser turns uploaded delimited text into a header plus raw rows.
//
// The delimiter is chosen once for the whole file: tab if the text contains
// any tab character, comma otherwise. Quoted fields may contain the
// delimiter and line breaks. A file with broken quoting is split line by
// line instead, so a stray quote never merges rows.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyFile covers files with no usable header or no data rows.
	ErrEmptyFile = errors.New("file appears empty or invalid")

	// ErrFileTooLarge is returned when the input exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FormatError reports a file that cannot be parsed. The pipeline stays in
// the upload stage when it sees one.
type FormatError struct {
	FileName string
	Err      error
}

func (e *FormatError) Error() string {
	if e.FileName == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.FileName, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ColumnInfo describes one column of the uploaded file.
type ColumnInfo struct {
	Index  int    `json:"index"`
	Header string `json:"header"`
	Sample string `json:"sample"` // Value from the first data row
}

// RawRow is one data line. Cells are aligned with Headers; missing trailing
// cells read as "".
type RawRow struct {
	Line    int      // Physical line in the source file
	Headers []string // Shared with the owning Table
	Cells   []string
}

// Get returns the cell under header. When a header repeats, the first
// column with that header wins.
func (r RawRow) Get(header string) (string, bool) {
	for i, h := range r.Headers {
		if h == header {
			if i < len(r.Cells) {
				return r.Cells[i], true
			}
			return "", true
		}
	}
	return "", false
}

// Map returns the row as header → value.
func (r RawRow) Map() map[string]string {
	m := make(map[string]string, len(r.Headers))
	for i := len(r.Headers) - 1; i >= 0; i-- {
		v := ""
		if i < len(r.Cells) {
			v = r.Cells[i]
		}
		m[r.Headers[i]] = v
	}
	return m
}

// Table is the parsed form of an uploaded file.
type Table struct {
	FileName  string
	Delimiter rune
	Headers   []string
	Columns   []ColumnInfo
	Rows      []RawRow
}

// Options controls parsing limits.
type Options struct {
	FileName string
	MaxBytes int64 // 0 means unlimited
}

// Parse reads r fully and parses it.
func Parse(r io.Reader, opts Options) (*Table, error) {
	src := r
	if opts.MaxBytes > 0 {
		src = io.LimitReader(r, opts.MaxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if opts.MaxBytes > 0 && int64(len(data)) > opts.MaxBytes {
		return nil, &FormatError{FileName: opts.FileName, Err: ErrFileTooLarge}
	}
	return ParseBytes(data, opts.FileName)
}

// ParseString parses delimited text held in memory.
func ParseString(text string) (*Table, error) {
	return ParseBytes([]byte(text), "")
}

// ParseBytes parses an in-memory file. A leading UTF-8 BOM is dropped and
// invalid UTF-8 sequences are replaced before splitting.
func ParseBytes(data []byte, fileName string) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	}

	delim := DetectDelimiter(data)

	records, err := readRecords(data, delim)
	if errors.Is(err, csv.ErrQuote) || errors.Is(err, csv.ErrBareQuote) {
		// Broken quoting: keep one record per physical line.
		records, err = splitLines(data, delim), nil
	}
	if err != nil {
		return nil, &FormatError{FileName: fileName, Err: fmt.Errorf("%w: %v", ErrEmptyFile, err)}
	}

	table := &Table{FileName: fileName, Delimiter: delim}
	for _, rec := range records {
		if isBlankRecord(rec.fields, delim) {
			continue
		}
		cells := make([]string, len(rec.fields))
		for i, v := range rec.fields {
			cells[i] = CleanCell(v)
		}

		if table.Headers == nil {
			table.Headers = cells
			continue
		}
		table.Rows = append(table.Rows, RawRow{Line: rec.line, Cells: fitCells(cells, len(table.Headers))})
	}

	if !hasHeader(table.Headers) || len(table.Rows) == 0 {
		return nil, &FormatError{FileName: fileName, Err: ErrEmptyFile}
	}

	for i := range table.Rows {
		table.Rows[i].Headers = table.Headers
	}

	table.Columns = make([]ColumnInfo, len(table.Headers))
	for i, h := range table.Headers {
		table.Columns[i] = ColumnInfo{Index: i, Header: h, Sample: table.Rows[0].Cells[i]}
	}

	return table, nil
}

type record struct {
	line   int
	fields []string
}

// readRecords splits data as strict CSV, so quoted fields may hold the
// delimiter and line breaks.
func readRecords(data []byte, delim rune) ([]record, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.FieldsPerRecord = -1

	var out []record
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		out = append(out, record{line: line, fields: fields})
	}
}

// splitLines treats every line as one record and splits it on the
// delimiter without regard to quotes.
func splitLines(data []byte, delim rune) []record {
	lines := strings.Split(string(data), "\n")
	out := make([]record, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		out = append(out, record{line: i + 1, fields: strings.Split(line, string(delim))})
	}
	return out
}

// DetectDelimiter returns tab if the text contains any tab, comma otherwise.
func DetectDelimiter(data []byte) rune {
	if bytes.IndexByte(data, '\t') >= 0 {
		return '\t'
	}
	return ','
}

// CleanCell trims whitespace and strips one layer of surrounding double
// quotes, each side independently.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}

// isBlankRecord reports whether the record came from a line that is only
// whitespace. Tabs count as whitespace, so with a tab delimiter a line of
// empty cells is blank; with commas the separators themselves are content.
func isBlankRecord(record []string, delim rune) bool {
	if delim != '\t' && len(record) > 1 {
		return false
	}
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func hasHeader(headers []string) bool {
	for _, h := range headers {
		if h != "" {
			return true
		}
	}
	return false
}

// fitCells pads short rows with "" and drops cells beyond the header.
func fitCells(cells []string, n int) []string {
	if len(cells) == n {
		return cells
	}
	out := make([]string, n)
	copy(out, cells)
	return out
}
