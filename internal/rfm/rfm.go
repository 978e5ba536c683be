// Package rfm buckets raw Recency/Frequency/Monetary scores into H/M/L classes.
package rfm

import (
	"math"

	"voc-insights-go/internal/types"
)

const (
	High   = "H"
	Medium = "M"
	Low    = "L"
)

// Important lists the segment codes reported on the dashboard, in display order.
var Important = []string{
	"HHH",
	"HHM", "HHL", "HMH", "HLH", "MHH", "LHH",
	"HMM", "HML", "HLL", "MHM", "MHL", "LHM", "LHL",
}

// ClassifyR: 4~5 = H, 2~3 = M, anything else (including missing) = L.
func ClassifyR(score float64) string {
	switch {
	case math.IsNaN(score):
		return Low
	case score >= 4 && score <= 5:
		return High
	case score >= 2 && score <= 3:
		return Medium
	default:
		return Low
	}
}

// ClassifyFM: 8~10 = H, 4~7 = M, anything else (including missing) = L.
func ClassifyFM(score float64) string {
	switch {
	case math.IsNaN(score):
		return Low
	case score >= 8 && score <= 10:
		return High
	case score >= 4 && score <= 7:
		return Medium
	default:
		return Low
	}
}

func Code(r, f, m float64) string {
	return ClassifyR(r) + ClassifyFM(f) + ClassifyFM(m)
}

// CodeOf classifies a role's score triple.
func CodeOf(s types.Scores) string {
	return Code(s.R, s.F, s.M)
}
