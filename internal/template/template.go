// Package template builds the downloadable example file for a resource type.
package template

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
)

// Sample values used in the example row.
const (
	SampleTitle   = "Example Resource Title"
	SampleURL     = "https://example.com/resource"
	SampleSummary = "A short description of the resource."
)

// SampleTags is joined with ", " in the example row.
var SampleTags = []string{"research", "open-data", "tools"}

// ContentType is the MIME type of a generated template.
const ContentType = "text/csv; charset=utf-8"

// FileName returns the download name for a resource type's template.
func FileName(resourceType string) string {
	return resourceType + "-template.csv"
}

// Generate returns a header line of field labels and one example row.
// Every value is wrapped in double quotes as-is.
func Generate(c catalog.Catalog) []byte {
	header := make([]string, len(c.Fields))
	example := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		header[i] = quote(f.Label)
		example[i] = quote(ExampleValue(f))
	}

	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	b.WriteString("\n")
	b.WriteString(strings.Join(example, ","))
	b.WriteString("\n")
	return []byte(b.String())
}

// ExampleValue returns the example-row value for a field.
func ExampleValue(f catalog.FieldDefinition) string {
	switch {
	case f.Name == "title":
		return SampleTitle
	case f.Name == "url":
		return SampleURL
	case f.Name == "summary":
		return SampleSummary
	case f.Name == "tags":
		return strings.Join(SampleTags, ", ")
	case f.Required:
		return fmt.Sprintf("[Required %s]", f.Label)
	default:
		return fmt.Sprintf("[Optional %s]", f.Label)
	}
}

func quote(s string) string {
	return `"` + s + `"`
}
