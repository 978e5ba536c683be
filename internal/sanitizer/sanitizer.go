// Package sanitizer strips inquiry-form boilerplate from free-text VOC bodies.
package sanitizer

import (
	"strings"

	"voc-insights-go/internal/locale"
	"voc-insights-go/internal/types"
)

// Sanitizer removes a fixed list of templates from inquiry bodies.
type Sanitizer struct {
	tables locale.Tables
}

func New(tables locale.Tables) *Sanitizer {
	return &Sanitizer{tables: tables}
}

// Default uses the compiled-in locale tables.
func Default() *Sanitizer {
	return New(locale.Default())
}

// Strip normalizes line endings, removes every verbatim occurrence of each
// template for the country and trims the rest. An empty result means the
// body had no user-authored content.
func (s *Sanitizer) Strip(text string, country types.Country) string {
	if text == "" {
		return ""
	}
	text = normalizeNewlines(text)
	for _, tpl := range s.tables.For(country).Templates {
		tpl = normalizeNewlines(tpl)
		if tpl == "" {
			continue
		}
		text = strings.ReplaceAll(text, tpl, "")
	}
	return strings.TrimSpace(text)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
