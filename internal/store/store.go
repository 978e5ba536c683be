// Package store persists monthly snapshots keyed by month and country.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"voc-insights-go/internal/types"
)

var (
	// ErrInvalidKey is returned before any I/O for malformed months or keys.
	ErrInvalidKey = errors.New("invalid snapshot key")
	// ErrCorrupt means the persisted document exists but cannot be parsed.
	// Nothing is written while the store is in this state.
	ErrCorrupt  = errors.New("snapshot store is corrupt")
	ErrNotFound = errors.New("snapshot not found")
)

// Store holds at most one snapshot per (month, country).
type Store interface {
	// Save replaces the snapshot at its composite key and drops a same-country
	// legacy key for the month. It returns the key written.
	Save(ctx context.Context, snap types.Snapshot) (string, error)
	// LoadAll returns the whole document; a store that was never written is empty.
	LoadAll(ctx context.Context) (*types.Document, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Keys lists the document keys newest first.
func Keys(doc *types.Document) []string {
	keys := make([]string, 0, len(doc.Months))
	for k := range doc.Months {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}

// Filter lists keys for one country, newest first. Legacy keys are matched
// on the snapshot's is_japan flag.
func Filter(doc *types.Document, country types.Country) []string {
	var out []string
	for _, k := range Keys(doc) {
		parsed, err := ParseKey(k)
		if err != nil {
			continue
		}
		if parsed.Legacy {
			if doc.Months[k].Country() == country {
				out = append(out, k)
			}
			continue
		}
		if parsed.Country == country {
			out = append(out, k)
		}
	}
	return out
}

// Exists reports whether a snapshot is stored for month and country, either
// at its composite key or at a same-country legacy key the next save replaces.
func Exists(ctx context.Context, s Store, month string, country types.Country) (bool, error) {
	key, err := KeyFor(month, country)
	if err != nil {
		return false, err
	}
	doc, err := s.LoadAll(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := doc.Months[key]; ok {
		return true, nil
	}
	legacy, ok := doc.Months[month]
	return ok && legacy.Country() == country, nil
}

// Get loads a single snapshot by key.
func Get(ctx context.Context, s Store, key string) (types.Snapshot, error) {
	if _, err := ParseKey(key); err != nil {
		return types.Snapshot{}, err
	}
	doc, err := s.LoadAll(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	snap, ok := doc.Months[key]
	if !ok {
		return types.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return snap, nil
}

// merge applies the save rules to an in-memory document.
func merge(doc *types.Document, snap types.Snapshot) (key string, migrated bool, err error) {
	key, err = KeyFor(snap.Month, snap.Country())
	if err != nil {
		return "", false, err
	}
	if doc.Months == nil {
		doc.Months = map[string]types.Snapshot{}
	}
	if old, ok := doc.Months[snap.Month]; ok && old.IsJapan == snap.IsJapan {
		delete(doc.Months, snap.Month)
		migrated = true
	}
	doc.Months[key] = snap
	return key, migrated, nil
}
