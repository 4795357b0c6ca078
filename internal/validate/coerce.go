package validate

// coerce.go turns raw cell text into typed values.
//
// The value kind comes from the field type first and the field name second,
// so catalogs loaded from files that declare "tags" or "price_amount" as
// plain text still coerce the way the built-in catalogs do.

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
)

// Kind is the coerced shape of a field value.
type Kind int

const (
	KindString Kind = iota
	KindList
	KindNumber
	KindBool
)

var (
	listFamilies   = []string{"tag", "function", "coverage"}
	numberFamilies = []string{"amount", "percentage"}

	emailRegex   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

	dateLayouts = []string{
		"2006-01-02", "2006/01/02", "2006-01-02T15:04:05Z07:00",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006",
	}
)

// KindOf returns how values for f are coerced.
func KindOf(f catalog.FieldDefinition) Kind {
	switch f.Type {
	case catalog.FieldMultiSelect:
		return KindList
	case catalog.FieldNumber:
		return KindNumber
	case catalog.FieldCheckbox:
		return KindBool
	case catalog.FieldSelect, catalog.FieldDate:
		return KindString
	}

	name := strings.ToLower(f.Name)
	for _, fam := range listFamilies {
		if strings.Contains(name, fam) {
			return KindList
		}
	}
	for _, fam := range numberFamilies {
		if strings.Contains(name, fam) {
			return KindNumber
		}
	}
	return KindString
}

// FormatOf returns the content check for f. An explicit catalog format
// wins; otherwise url-named and email-named fields are checked.
func FormatOf(f catalog.FieldDefinition) catalog.Format {
	if f.Format != catalog.FormatNone {
		return f.Format
	}
	if f.Type != catalog.FieldText {
		return catalog.FormatNone
	}
	name := strings.ToLower(f.Name)
	switch {
	case name == "url" || strings.HasSuffix(name, "_url"):
		return catalog.FormatURL
	case strings.Contains(name, "email"):
		return catalog.FormatEmail
	}
	return catalog.FormatNone
}

// SplitList splits on commas, trims tokens and drops empties.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseNumber parses a float after removing currency symbols, thousands
// separators and a trailing percent sign. "(12.5)" reads as -12.5.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")

	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

// ParseFlag is true iff s is "true", "1" or "yes", ignoring case.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// IsDate reports whether s is in one of the recognized date layouts.
func IsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// IsAbsoluteURL reports whether s has both a scheme and a host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// IsEmail reports whether s looks like local@domain.tld.
func IsEmail(s string) bool {
	return emailRegex.MatchString(s)
}
