// Package processor classifies raw VOC records and normalizes their categories.
package processor

import (
	"strings"

	"voc-insights-go/internal/locale"
	"voc-insights-go/internal/rfm"
	"voc-insights-go/internal/types"
)

type Processor struct {
	tables locale.Tables
}

func New(tables locale.Tables) *Processor {
	return &Processor{tables: tables}
}

func Default() *Processor {
	return New(locale.Default())
}

// NormalizeCategory trims the label and, for the foreign locale, translates it
// into the Korean vocabulary. Applying it twice is a no-op.
func (p *Processor) NormalizeCategory(label string, country types.Country) string {
	label = strings.TrimSpace(label)
	if country.IsJapan() {
		label = p.tables.For(country).Translate(label)
	}
	return label
}

// Excluded reports whether a normalized category is dropped for the country.
func (p *Processor) Excluded(category string, country types.Country) bool {
	return p.tables.For(country).IsExcluded(category)
}

// Prepare classifies every record for both roles, normalizes the category
// and drops excluded records. Input order is preserved.
func (p *Processor) Prepare(records []types.Record, country types.Country) []types.ClassifiedRecord {
	out := make([]types.ClassifiedRecord, 0, len(records))
	for _, r := range records {
		r.Country = country
		r.Category = p.NormalizeCategory(r.Category, country)
		if p.Excluded(r.Category, country) {
			continue
		}
		out = append(out, types.ClassifiedRecord{
			Record:       r,
			DJCode:       rfm.CodeOf(r.DJ),
			ListenerCode: rfm.CodeOf(r.Listener),
		})
	}
	return out
}
