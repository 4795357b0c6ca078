package mapping

import (
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
)

// MatchThreshold is the minimum header overlap for a preset to be suggested.
const MatchThreshold = 0.7

// Preset is a saved mapping for files that share a layout.
type Preset struct {
	ID           string    `json:"id"`
	ResourceType string    `json:"resourceType"`
	Name         string    `json:"name"`
	Mapping      Mapping   `json:"mapping"`
	Headers      []string  `json:"headers"` // Headers of the file the preset was built from
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PresetMatch pairs a preset with how well it fits a file.
type PresetMatch struct {
	Preset Preset  `json:"preset"`
	Score  float64 `json:"score"`
}

// Score is the fraction of the preset's headers present in headers,
// compared case-insensitively.
func Score(headers, presetHeaders []string) float64 {
	if len(presetHeaders) == 0 {
		return 0
	}

	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[strings.ToLower(strings.TrimSpace(h))] = true
	}

	matched := 0
	for _, h := range presetHeaders {
		if have[strings.ToLower(strings.TrimSpace(h))] {
			matched++
		}
	}
	return float64(matched) / float64(len(presetHeaders))
}

// MatchPresets returns presets scoring at least MatchThreshold, best first.
func MatchPresets(presets []Preset, headers []string) []PresetMatch {
	var matches []PresetMatch
	for _, p := range presets {
		if s := Score(headers, p.Headers); s >= MatchThreshold {
			matches = append(matches, PresetMatch{Preset: p, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// ApplyTo builds a Mapping from the preset for a file. Entries whose field
// left the catalog or whose header is missing from the file are dropped.
// Headers are matched case-insensitively and the file's spelling is kept.
func (p Preset) ApplyTo(c catalog.Catalog, headers []string) Mapping {
	byLower := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, exists := byLower[key]; !exists {
			byLower[key] = h
		}
	}

	m := make(Mapping)
	for field, header := range p.Mapping {
		if _, ok := c.Field(field); !ok {
			continue
		}
		if h, ok := byLower[strings.ToLower(strings.TrimSpace(header))]; ok {
			m[field] = h
		}
	}
	return m
}
