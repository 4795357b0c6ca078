package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk layout of a catalog file:
//
//	catalogs:
//	  - resource_type: article
//	    label: Articles
//	    fields:
//	      - {name: title, label: Title, type: text, required: true}
type fileFormat struct {
	Catalogs []Catalog `yaml:"catalogs"`
}

// LoadFile reads and validates a YAML catalog file.
func LoadFile(path string) ([]Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	catalogs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalogs, nil
}

// Parse decodes YAML catalog data. Unknown keys are rejected so typos in
// field attributes surface at load time instead of silently disabling a rule.
func Parse(data []byte) ([]Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f fileFormat
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	if len(f.Catalogs) == 0 {
		return nil, fmt.Errorf("catalog file defines no catalogs")
	}
	for _, c := range f.Catalogs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Catalogs, nil
}

// Marshal encodes catalogs in the file format accepted by Parse.
func Marshal(catalogs []Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fileFormat{Catalogs: catalogs}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
