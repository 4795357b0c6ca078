package validate

// MaxErrorSamples caps the invalid rows returned in a Summary.
const MaxErrorSamples = 20

// Summary condenses a validation run for display.
type Summary struct {
	TotalRows    int            `json:"totalRows"`
	ValidRows    int            `json:"validRows"`
	InvalidRows  int            `json:"invalidRows"`
	WarningRows  int            `json:"warningRows"`
	ErrorSamples []ImportResult `json:"errorSamples"`
}

// Summarize counts results and keeps the first invalid rows as samples.
func Summarize(results []ImportResult) Summary {
	s := Summary{TotalRows: len(results), ErrorSamples: []ImportResult{}}
	for _, r := range results {
		if r.Valid {
			s.ValidRows++
		} else {
			s.InvalidRows++
			if len(s.ErrorSamples) < MaxErrorSamples {
				s.ErrorSamples = append(s.ErrorSamples, r)
			}
		}
		if len(r.Warnings) > 0 {
			s.WarningRows++
		}
	}
	return s
}
