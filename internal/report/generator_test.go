package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voc-insights-go/internal/types"
)

func sample() types.Snapshot {
	return types.Snapshot{
		Month:      "2025-11",
		IsJapan:    true,
		TotalCount: 9,
		RFMSegments: map[string]types.Segment{
			"LHL": {DJCount: 1, DJCategories: map[string]types.CategorySummary{"구독": {Count: 1, Summary: "s"}}, ListenerCategories: map[string]types.CategorySummary{}},
			"HHH": {
				DJCount:       6,
				ListenerCount: 2,
				DJCategories: map[string]types.CategorySummary{
					"이벤트": {Count: 1, Summary: "a"},
					"결제":  {Count: 3, Summary: "b"},
					"구독":  {Count: 1, Summary: "c"},
				},
				ListenerCategories: map[string]types.CategorySummary{},
			},
		},
	}
}

func TestOverviewOrder(t *testing.T) {
	assert.Equal(t, []SegmentTotal{
		{Code: "HHH", DJCount: 6, ListenerCount: 2},
		{Code: "LHL", DJCount: 1},
	}, Overview(sample()))
	assert.Empty(t, Overview(types.Snapshot{}))
}

func TestGenerate(t *testing.T) {
	rep, err := Generate("2025-11_JP", sample(), "HHH")
	require.NoError(t, err)

	assert.Equal(t, "2025-11", rep.Month)
	assert.Equal(t, types.CountryJP, rep.Country)
	assert.Equal(t, 6, rep.DJ.Total)

	var names []string
	for _, r := range rep.DJ.Rows {
		names = append(names, r.Category)
	}
	assert.Equal(t, []string{"결제", "구독", "이벤트"}, names)
	assert.InDelta(t, 0.6, rep.DJ.Rows[0].Share, 1e-9)
	assert.Equal(t, "b", rep.DJ.Rows[0].Summary)

	assert.Equal(t, 2, rep.Listener.Total)
	assert.Empty(t, rep.Listener.Rows)
}

func TestGenerateUnknownSegment(t *testing.T) {
	_, err := Generate("2025-11_JP", sample(), "MMM")
	assert.ErrorIs(t, err, ErrUnknownSegment)
}
