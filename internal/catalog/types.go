// Package catalog defines the per-resource-type field tables that drive
// column mapping, validation and template generation.
//
// A Catalog is plain data. Every pipeline stage receives the Catalog it
// should use as an argument; the Registry only decides which table is
// current for a resource type, so a table can be replaced at runtime
// without restarting the process.
package catalog

import (
	"fmt"
	"strings"
)

// FieldType represents the input type of a catalog field.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldDate        FieldType = "date"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multi-select"
	FieldCheckbox    FieldType = "checkbox"
	FieldTextarea    FieldType = "textarea"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDate, FieldSelect, FieldMultiSelect, FieldCheckbox, FieldTextarea:
		return true
	}
	return false
}

// Format is an optional content check applied to populated text values.
type Format string

const (
	FormatNone  Format = ""
	FormatURL   Format = "url"
	FormatEmail Format = "email"
)

// FieldDefinition describes a single importable field.
type FieldDefinition struct {
	Name        string    `yaml:"name" json:"name"`   // Unique key within the catalog
	Label       string    `yaml:"label" json:"label"` // Human label, used for template headers
	Type        FieldType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required" json:"required"`
	Options     []string  `yaml:"options,omitempty" json:"options,omitempty"`
	Format      Format    `yaml:"format,omitempty" json:"format,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// HasOption reports whether v is one of the field's options (case-insensitive).
// Fields without options accept any value.
func (f FieldDefinition) HasOption(v string) bool {
	if len(f.Options) == 0 {
		return true
	}
	for _, o := range f.Options {
		if strings.EqualFold(o, v) {
			return true
		}
	}
	return false
}

// Catalog is the ordered field table for one resource type.
type Catalog struct {
	ResourceType string            `yaml:"resource_type" json:"resourceType"`
	Label        string            `yaml:"label" json:"label"`
	Fields       []FieldDefinition `yaml:"fields" json:"fields"`
}

// Field returns the field definition with the given name.
func (c Catalog) Field(name string) (FieldDefinition, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Required returns the names of all required fields in catalog order.
func (c Catalog) Required() []string {
	var names []string
	for _, f := range c.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Validate checks the catalog for structural problems: missing names,
// duplicate names, unknown types or formats, and select fields without
// options. Multi-select fields may be free-form.
func (c Catalog) Validate() error {
	if c.ResourceType == "" {
		return fmt.Errorf("catalog: resource type is required")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("catalog %s: no fields defined", c.ResourceType)
	}

	seen := make(map[string]bool, len(c.Fields))
	for i, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("catalog %s: field %d has no name", c.ResourceType, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("catalog %s: duplicate field %q", c.ResourceType, f.Name)
		}
		seen[f.Name] = true

		if !f.Type.Valid() {
			return fmt.Errorf("catalog %s: field %q has unknown type %q", c.ResourceType, f.Name, f.Type)
		}
		if f.Type == FieldSelect && len(f.Options) == 0 {
			return fmt.Errorf("catalog %s: select field %q has no options", c.ResourceType, f.Name)
		}
		switch f.Format {
		case FormatNone, FormatURL, FormatEmail:
		default:
			return fmt.Errorf("catalog %s: field %q has unknown format %q", c.ResourceType, f.Name, f.Format)
		}
	}
	return nil
}

// withDefaults fills in labels that were left blank.
func (c Catalog) withDefaults() Catalog {
	out := c
	out.Fields = make([]FieldDefinition, len(c.Fields))
	for i, f := range c.Fields {
		if f.Label == "" {
			f.Label = f.Name
		}
		out.Fields[i] = f
	}
	if out.Label == "" {
		out.Label = out.ResourceType
	}
	return out
}
