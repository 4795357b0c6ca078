// Package validate coerces raw rows into typed records and reports, per row,
// the problems that keep a row out of the import.
//
// Errors make a row invalid. Warnings are informational and never change
// validity. Validation never fails as a whole: every input row produces
// exactly one ImportResult, in input order.
package validate

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/mapping"
	"github.com/JonMunkholm/ResourceImport/internal/parser"
)

// FirstDataRow is the row number reported for the first data row: line 1
// holds the header and numbering is 1-based, matching what a spreadsheet shows.
const FirstDataRow = 2

// Issue is a single problem found in a row.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (i Issue) Error() string { return i.Message }

// ImportResult is the outcome of validating one row.
type ImportResult struct {
	Row      int            `json:"row"`
	Data     map[string]any `json:"data"`
	Errors   []Issue        `json:"errors,omitempty"`
	Warnings []Issue        `json:"warnings,omitempty"`
	Valid    bool           `json:"valid"`
}

// Messages returns the error messages in order.
func (r ImportResult) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Message
	}
	return out
}

// Rows validates every row against the catalog through the mapping.
func Rows(c catalog.Catalog, m mapping.Mapping, rows []parser.RawRow) []ImportResult {
	results := make([]ImportResult, len(rows))
	for i, row := range rows {
		results[i] = Row(c, m, row, i+FirstDataRow)
	}
	return results
}

// Row validates a single row. rowNum is the number reported back to the user.
func Row(c catalog.Catalog, m mapping.Mapping, row parser.RawRow, rowNum int) ImportResult {
	result := ImportResult{Row: rowNum, Data: make(map[string]any)}

	for _, f := range c.Fields {
		raw := ""
		if header, ok := m.Header(f.Name); ok {
			raw, _ = row.Get(header)
		}
		raw = strings.TrimSpace(raw)

		present := coerceInto(&result, f, raw)

		if f.Required && !present {
			result.Errors = append(result.Errors, Issue{
				Field:   f.Name,
				Message: fmt.Sprintf("Missing required field: %s", f.Label),
			})
			continue
		}
		if present {
			checkFormat(&result, f)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// coerceInto stores the coerced value of raw under f.Name and reports
// whether a non-empty value resolved.
func coerceInto(r *ImportResult, f catalog.FieldDefinition, raw string) bool {
	switch KindOf(f) {
	case KindList:
		items := SplitList(raw)
		if len(items) == 0 {
			return false
		}
		for _, item := range items {
			if !f.HasOption(item) {
				r.warn(f, item, fmt.Sprintf("%q is not a listed option for %s", item, f.Label))
			}
		}
		r.Data[f.Name] = items
		return true

	case KindNumber:
		if raw == "" {
			return false
		}
		n, ok := ParseNumber(raw)
		if !ok {
			r.warn(f, raw, fmt.Sprintf("Could not read %s as a number: %q", f.Label, raw))
			return false
		}
		r.Data[f.Name] = n
		return true

	case KindBool:
		if raw == "" {
			return false
		}
		r.Data[f.Name] = ParseFlag(raw)
		return true
	}

	if raw == "" {
		return false
	}
	switch f.Type {
	case catalog.FieldDate:
		if !IsDate(raw) {
			r.warn(f, raw, fmt.Sprintf("Unrecognized date for %s: %q", f.Label, raw))
		}
	case catalog.FieldSelect:
		if !f.HasOption(raw) {
			r.warn(f, raw, fmt.Sprintf("%q is not a listed option for %s", raw, f.Label))
		}
	}
	r.Data[f.Name] = raw
	return true
}

func checkFormat(r *ImportResult, f catalog.FieldDefinition) {
	s, ok := r.Data[f.Name].(string)
	if !ok {
		return
	}
	switch FormatOf(f) {
	case catalog.FormatURL:
		if !IsAbsoluteURL(s) {
			r.Errors = append(r.Errors, Issue{Field: f.Name, Value: s, Message: fmt.Sprintf("Invalid URL for %s", f.Label)})
		}
	case catalog.FormatEmail:
		if !IsEmail(s) {
			r.Errors = append(r.Errors, Issue{Field: f.Name, Value: s, Message: fmt.Sprintf("Invalid email for %s", f.Label)})
		}
	}
}

func (r *ImportResult) warn(f catalog.FieldDefinition, value, msg string) {
	r.Warnings = append(r.Warnings, Issue{Field: f.Name, Value: value, Message: msg})
}

// Valid returns only the valid results, preserving order.
func Valid(results []ImportResult) []ImportResult {
	out := make([]ImportResult, 0, len(results))
	for _, r := range results {
		if r.Valid {
			out = append(out, r)
		}
	}
	return out
}
