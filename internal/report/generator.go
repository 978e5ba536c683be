// Package report turns a stored snapshot into per-segment breakdowns for
// callers that display them (CLI tables, API clients).
package report

import (
	"errors"
	"fmt"
	"sort"

	"voc-insights-go/internal/rfm"
	"voc-insights-go/internal/store"
	"voc-insights-go/internal/types"
)

var ErrUnknownSegment = errors.New("segment not in snapshot")

type Row struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Share    float64 `json:"share"`
	Summary  string  `json:"summary"`
}

type RoleBreakdown struct {
	Role  types.Role `json:"role"`
	Total int        `json:"total"`
	Rows  []Row      `json:"rows"`
}

type SegmentReport struct {
	Key      string        `json:"key"`
	Month    string        `json:"month"`
	Country  types.Country `json:"country"`
	Code     string        `json:"code"`
	DJ       RoleBreakdown `json:"dj"`
	Listener RoleBreakdown `json:"listener"`
}

// SegmentTotal is one line of the month overview.
type SegmentTotal struct {
	Code          string `json:"code"`
	DJCount       int    `json:"dj_count"`
	ListenerCount int    `json:"listener_count"`
}

// Overview lists the snapshot's segments in the fixed important-code order.
func Overview(snap types.Snapshot) []SegmentTotal {
	out := []SegmentTotal{}
	for _, code := range rfm.Important {
		seg, ok := snap.RFMSegments[code]
		if !ok {
			continue
		}
		out = append(out, SegmentTotal{Code: code, DJCount: seg.DJCount, ListenerCount: seg.ListenerCount})
	}
	return out
}

// Generate builds the breakdown of one segment. Shares are relative to the
// summarized categories, so they add up to 1 per role.
func Generate(key string, snap types.Snapshot, code string) (SegmentReport, error) {
	seg, ok := snap.RFMSegments[code]
	if !ok {
		return SegmentReport{}, fmt.Errorf("%w: %s in %s", ErrUnknownSegment, code, key)
	}
	return SegmentReport{
		Key:      key,
		Month:    store.DisplayMonth(key),
		Country:  snap.Country(),
		Code:     code,
		DJ:       breakdown(types.RoleDJ, seg.DJCount, seg.DJCategories),
		Listener: breakdown(types.RoleListener, seg.ListenerCount, seg.ListenerCategories),
	}, nil
}

func breakdown(role types.Role, total int, cats map[string]types.CategorySummary) RoleBreakdown {
	rb := RoleBreakdown{Role: role, Total: total, Rows: []Row{}}
	sum := 0
	for _, c := range cats {
		sum += c.Count
	}
	for name, c := range cats {
		row := Row{Category: name, Count: c.Count, Summary: c.Summary}
		if sum > 0 {
			row.Share = float64(c.Count) / float64(sum)
		}
		rb.Rows = append(rb.Rows, row)
	}
	sort.Slice(rb.Rows, func(i, j int) bool {
		if rb.Rows[i].Count != rb.Rows[j].Count {
			return rb.Rows[i].Count > rb.Rows[j].Count
		}
		return rb.Rows[i].Category < rb.Rows[j].Category
	})
	return rb
}
