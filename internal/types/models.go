package types

import (
	"fmt"
	"strings"
	"time"
)

// Country identifies the locale a VOC export was collected in.
type Country string

const (
	CountryKR Country = "KR"
	CountryJP Country = "JP"
)

// ParseCountry accepts KR/JP in any case.
func ParseCountry(s string) (Country, error) {
	switch Country(strings.ToUpper(strings.TrimSpace(s))) {
	case CountryKR:
		return CountryKR, nil
	case CountryJP:
		return CountryJP, nil
	}
	return "", fmt.Errorf("unknown country %q (want KR or JP)", s)
}

// CountryFromJapan maps the persisted is_japan flag back to a country.
func CountryFromJapan(isJapan bool) Country {
	if isJapan {
		return CountryJP
	}
	return CountryKR
}

// IsJapan reports whether c is the foreign locale.
func (c Country) IsJapan() bool { return c == CountryJP }

// Role is one of the two actor perspectives scored on every record.
type Role string

const (
	RoleDJ       Role = "DJ"
	RoleListener Role = "Listener"
)

// Scores is one role's raw R/F/M triple. NaN means the cell was empty.
type Scores struct {
	R float64 `json:"r"`
	F float64 `json:"f"`
	M float64 `json:"m"`
}

// Record is a single inquiry row from the monthly export.
type Record struct {
	DJ       Scores  `json:"dj"`
	Listener Scores  `json:"listener"`
	Category string  `json:"category"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Country  Country `json:"country,omitempty"`
}

// ClassifiedRecord is a record after RFM classification and category normalization.
type ClassifiedRecord struct {
	Record
	DJCode       string `json:"dj_rfm"`
	ListenerCode string `json:"listener_rfm"`
}

// Code returns the RFM code for the given role.
func (c ClassifiedRecord) Code(role Role) string {
	if role == RoleListener {
		return c.ListenerCode
	}
	return c.DJCode
}

type CategorySummary struct {
	Count   int    `json:"count"`
	Summary string `json:"summary"`
}

type Segment struct {
	DJCount            int                        `json:"dj_count"`
	ListenerCount      int                        `json:"listener_count"`
	DJCategories       map[string]CategorySummary `json:"dj_categories"`
	ListenerCategories map[string]CategorySummary `json:"listener_categories"`
}

// Categories returns the bucket map for a role.
func (s Segment) Categories(role Role) map[string]CategorySummary {
	if role == RoleListener {
		return s.ListenerCategories
	}
	return s.DJCategories
}

// Snapshot is the persisted monthly result for one country.
type Snapshot struct {
	Month       string             `json:"month"`
	IsJapan     bool               `json:"is_japan"`
	TotalCount  int                `json:"total_count"`
	RFMSegments map[string]Segment `json:"rfm_segments"`
	GeneratedAt time.Time          `json:"generated_at,omitzero"`
	RunID       string             `json:"run_id,omitempty"`
}

func (s Snapshot) Country() Country { return CountryFromJapan(s.IsJapan) }

// Document is the whole persisted store.
type Document struct {
	Months map[string]Snapshot `json:"months"`
}

func NewDocument() *Document {
	return &Document{Months: map[string]Snapshot{}}
}
