// Package mapping connects catalog fields to the columns of an uploaded file.
//
// AutoMap produces a best-effort initial Mapping. Every entry stays
// editable; edits are checked so a Mapping never names a header the file
// does not have.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
)

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrUnknownHeader = errors.New("column not found in file")
)

// Mapping is field name → column header. Absent fields are unmapped.
type Mapping map[string]string

// Header returns the column mapped to field.
func (m Mapping) Header(field string) (string, bool) {
	h, ok := m[field]
	return h, ok && h != ""
}

// Clone returns an independent copy.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Unmapped returns catalog fields without a column, in catalog order.
func (m Mapping) Unmapped(c catalog.Catalog) []string {
	var names []string
	for _, f := range c.Fields {
		if _, ok := m.Header(f.Name); !ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// Fields returns the mapped field names, sorted.
func (m Mapping) Fields() []string {
	names := make([]string, 0, len(m))
	for k, v := range m {
		if v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks that every entry names a catalog field and an existing header.
func (m Mapping) Validate(c catalog.Catalog, headers []string) error {
	for field, header := range m {
		if _, ok := c.Field(field); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		if header != "" && !containsHeader(headers, header) {
			return fmt.Errorf("%w: %q (field %s)", ErrUnknownHeader, header, field)
		}
	}
	return nil
}

// Apply returns a copy of m with updates applied. An empty header unmaps
// the field. Nothing is applied if any update is invalid.
func (m Mapping) Apply(updates map[string]string, c catalog.Catalog, headers []string) (Mapping, error) {
	out := m.Clone()
	for field, header := range updates {
		if _, ok := c.Field(field); !ok {
			return m, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		if header == "" {
			delete(out, field)
			continue
		}
		if !containsHeader(headers, header) {
			return m, fmt.Errorf("%w: %q (field %s)", ErrUnknownHeader, header, field)
		}
		out[field] = header
	}
	return out, nil
}

// AutoMap suggests a column for each catalog field. A field matches the
// first header whose normalized form equals the field's normalized name;
// failing that, its normalized label is tried the same way.
func AutoMap(c catalog.Catalog, headers []string) Mapping {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = Normalize(h)
	}

	m := make(Mapping)
	for _, f := range c.Fields {
		if h, ok := firstMatch(Normalize(f.Name), headers, normalized); ok {
			m[f.Name] = h
			continue
		}
		if h, ok := firstMatch(Normalize(f.Label), headers, normalized); ok {
			m[f.Name] = h
		}
	}
	return m
}

// Normalize lowercases s and drops every character that is not a letter.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func firstMatch(key string, headers, normalized []string) (string, bool) {
	if key == "" {
		return "", false
	}
	for i, n := range normalized {
		if n == key {
			return headers[i], true
		}
	}
	return "", false
}

func containsHeader(headers []string, header string) bool {
	for _, h := range headers {
		if h == header {
			return true
		}
	}
	return false
}
