package store

import (
	"fmt"
	"strings"
	"time"

	"voc-insights-go/internal/types"
)

const monthLayout = "2006-01"

// ValidateMonth checks the YYYY-MM month identifier.
func ValidateMonth(month string) error {
	if len(month) != len(monthLayout) {
		return fmt.Errorf("%w: month %q is not YYYY-MM", ErrInvalidKey, month)
	}
	if _, err := time.Parse(monthLayout, month); err != nil {
		return fmt.Errorf("%w: month %q is not YYYY-MM", ErrInvalidKey, month)
	}
	return nil
}

// KeyFor builds the composite key "<YYYY-MM>_<KR|JP>".
func KeyFor(month string, country types.Country) (string, error) {
	if err := ValidateMonth(month); err != nil {
		return "", err
	}
	if country != types.CountryKR && country != types.CountryJP {
		return "", fmt.Errorf("%w: unknown country %q", ErrInvalidKey, country)
	}
	return month + "_" + string(country), nil
}

// Key is a parsed composite key. Legacy keys carry no country suffix.
type Key struct {
	Month   string
	Country types.Country
	Legacy  bool
}

func (k Key) String() string {
	if k.Legacy {
		return k.Month
	}
	return k.Month + "_" + string(k.Country)
}

// ParseKey accepts "<YYYY-MM>_<KR|JP>" and the legacy "<YYYY-MM>".
func ParseKey(s string) (Key, error) {
	month, suffix, found := strings.Cut(s, "_")
	if err := ValidateMonth(month); err != nil {
		return Key{}, fmt.Errorf("%w: key %q", ErrInvalidKey, s)
	}
	if !found {
		return Key{Month: month, Legacy: true}, nil
	}
	switch types.Country(suffix) {
	case types.CountryKR, types.CountryJP:
		return Key{Month: month, Country: types.Country(suffix)}, nil
	}
	return Key{}, fmt.Errorf("%w: key %q has unknown country suffix", ErrInvalidKey, s)
}

// DisplayMonth strips the country suffix for presentation.
func DisplayMonth(key string) string {
	if k, err := ParseKey(key); err == nil {
		return k.Month
	}
	return key
}
