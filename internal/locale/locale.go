// Package locale holds the per-country category vocabulary and inquiry-form
// boilerplate used to clean VOC exports.
package locale

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"voc-insights-go/internal/types"
)

//go:embed locales.yaml
var defaultTables []byte

// Table is one locale's vocabulary.
type Table struct {
	// Translations maps foreign category labels onto the Korean vocabulary.
	Translations map[string]string `yaml:"translations"`
	Excluded     []string          `yaml:"excluded"`
	Templates    []string          `yaml:"templates"`

	excluded map[string]struct{}
}

// Tables is keyed by country.
type Tables map[types.Country]*Table

// Parse decodes a YAML locale document.
func Parse(data []byte) (Tables, error) {
	var raw map[string]*Table
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse locale tables: %w", err)
	}
	out := Tables{}
	for name, t := range raw {
		c, err := types.ParseCountry(name)
		if err != nil {
			return nil, fmt.Errorf("locale tables: %w", err)
		}
		if t == nil {
			t = &Table{}
		}
		t.excluded = make(map[string]struct{}, len(t.Excluded))
		for _, e := range t.Excluded {
			t.excluded[e] = struct{}{}
		}
		out[c] = t
	}
	return out, nil
}

var (
	defaultOnce sync.Once
	defaults    Tables
)

// Default returns the tables compiled into the binary.
func Default() Tables {
	defaultOnce.Do(func() {
		t, err := Parse(defaultTables)
		if err != nil {
			panic(err)
		}
		defaults = t
	})
	return defaults
}

// For returns the table for c, or an empty table when the locale is unknown.
func (ts Tables) For(c types.Country) *Table {
	if t, ok := ts[c]; ok && t != nil {
		return t
	}
	return &Table{}
}

// Translate maps a label through the translation table; unknown labels pass through.
func (t *Table) Translate(label string) string {
	if v, ok := t.Translations[label]; ok {
		return v
	}
	return label
}

// IsExcluded reports whether a normalized category is an administrative disposition.
func (t *Table) IsExcluded(category string) bool {
	_, ok := t.excluded[category]
	return ok
}
