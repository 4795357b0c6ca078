package importer

import (
	"github.com/JonMunkholm/ResourceImport/internal/validate"
)

// Well-known field names lifted to the top level of a Record.
const (
	FieldTitle    = "title"
	FieldURL      = "url"
	FieldSummary  = "summary"
	FieldTags     = "tags"
	FieldImageURL = "image_url"
)

// Record is the payload handed to the create operation for one row.
type Record struct {
	Title    string         `json:"title"`
	URL      string         `json:"url,omitempty"`
	Summary  string         `json:"summary,omitempty"`
	Tags     []string       `json:"tags"`
	ImageURL string         `json:"image_url,omitempty"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`

	// Row is the source row number. Not sent to the store.
	Row int `json:"-"`
}

// NewRecord builds the create payload for a validated row.
func NewRecord(resourceType string, r validate.ImportResult) Record {
	rec := Record{
		Type: resourceType,
		Tags: []string{},
		Data: make(map[string]any),
		Row:  r.Row,
	}

	for name, v := range r.Data {
		switch name {
		case FieldTitle:
			rec.Title, _ = v.(string)
		case FieldURL:
			rec.URL, _ = v.(string)
		case FieldSummary:
			rec.Summary, _ = v.(string)
		case FieldImageURL:
			rec.ImageURL, _ = v.(string)
		case FieldTags:
			if tags, ok := v.([]string); ok {
				rec.Tags = tags
			}
		default:
			rec.Data[name] = v
		}
	}
	return rec
}

// Records converts the valid results to records. Invalid results are skipped.
func Records(resourceType string, results []validate.ImportResult) []Record {
	out := make([]Record, 0, len(results))
	for _, r := range results {
		if r.Valid {
			out = append(out, NewRecord(resourceType, r))
		}
	}
	return out
}

// Batches partitions records into consecutive slices of at most size.
func Batches(records []Record, size int) [][]Record {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return batches
}

func rowNumbers(batches [][]Record) []int {
	var rows []int
	for _, b := range batches {
		for _, r := range b {
			rows = append(rows, r.Row)
		}
	}
	return rows
}
