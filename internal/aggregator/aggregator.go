// Package aggregator builds the monthly RFM snapshot from classified records.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/processor"
	"voc-insights-go/internal/rfm"
	"voc-insights-go/internal/sanitizer"
	"voc-insights-go/internal/summarizer"
	"voc-insights-go/internal/types"
)

var ErrCancelled = errors.New("aggregation cancelled")

const DefaultTopCategories = 5

// Progress reports summaries finished out of the total planned for the run.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

type Options struct {
	TopCategories int
	SampleSize    int
	PrefixRunes   int
	RunID         string
	OnProgress    func(Progress)
	Now           func() time.Time
}

type Aggregator struct {
	summarizer summarizer.Summarizer
	processor  *processor.Processor
	sanitizer  *sanitizer.Sanitizer
	opts       Options
	log        *logrus.Entry
}

func New(s summarizer.Summarizer, p *processor.Processor, san *sanitizer.Sanitizer, opts Options) *Aggregator {
	if opts.TopCategories <= 0 {
		opts.TopCategories = DefaultTopCategories
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = summarizer.DefaultSampleSize
	}
	if opts.PrefixRunes <= 0 {
		opts.PrefixRunes = summarizer.DefaultPrefixRunes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		summarizer: s,
		processor:  p,
		sanitizer:  san,
		opts:       opts,
		log:        logger.Component("aggregator"),
	}
}

// bucket is every record of one category within a role's segment.
type bucket struct {
	category string
	records  []types.Record
}

type roleSegment struct {
	role    types.Role
	count   int
	buckets []bucket
}

// Build runs classification, filtering and per-category summarization for
// one month and country. Summarization failures are stored as placeholder
// text; only cancellation aborts the run.
func (a *Aggregator) Build(ctx context.Context, month string, country types.Country, records []types.Record) (types.Snapshot, error) {
	log := a.log.WithFields(logrus.Fields{"month": month, "country": country, "run_id": a.opts.RunID})

	filtered := a.processor.Prepare(records, country)
	log.WithFields(logrus.Fields{"rows": len(records), "filtered": len(filtered)}).Info("records prepared")

	snap := types.Snapshot{
		Month:       month,
		IsJapan:     country.IsJapan(),
		TotalCount:  len(filtered),
		RFMSegments: map[string]types.Segment{},
		GeneratedAt: a.opts.Now().UTC(),
		RunID:       a.opts.RunID,
	}

	// plan first so progress has a stable total
	type plan struct {
		code  string
		roles []roleSegment
	}
	var plans []plan
	total := 0
	for _, code := range rfm.Important {
		dj := a.segment(filtered, code, types.RoleDJ)
		listener := a.segment(filtered, code, types.RoleListener)
		if dj.count == 0 && listener.count == 0 {
			continue
		}
		plans = append(plans, plan{code: code, roles: []roleSegment{dj, listener}})
		total += len(dj.buckets) + len(listener.buckets)
	}

	done := 0
	a.progress(done, total)
	for _, p := range plans {
		seg := types.Segment{
			DJCount:            p.roles[0].count,
			ListenerCount:      p.roles[1].count,
			DJCategories:       map[string]types.CategorySummary{},
			ListenerCategories: map[string]types.CategorySummary{},
		}
		for _, rs := range p.roles {
			cats := seg.Categories(rs.role)
			for _, b := range rs.buckets {
				if err := ctx.Err(); err != nil {
					log.WithField("done", done).Warn("aggregation cancelled")
					return types.Snapshot{}, fmt.Errorf("%w: %v", ErrCancelled, err)
				}
				log.WithFields(logrus.Fields{"rfm": p.code, "role": rs.role, "category": b.category}).Info("summarizing")
				cats[b.category] = types.CategorySummary{
					Count:   len(b.records),
					Summary: a.summarize(ctx, b, rs.role, country),
				}
				done++
				a.progress(done, total)
			}
		}
		snap.RFMSegments[p.code] = seg
	}

	log.WithField("segments", len(snap.RFMSegments)).Info("monthly snapshot built")
	return snap, nil
}

// segment collects a role's records for code and ranks their categories.
func (a *Aggregator) segment(records []types.ClassifiedRecord, code string, role types.Role) roleSegment {
	rs := roleSegment{role: role}
	index := map[string]int{}
	for _, r := range records {
		if r.Code(role) != code {
			continue
		}
		rs.count++
		// blank categories count toward the segment but are never summarized
		if r.Category == "" {
			continue
		}
		i, ok := index[r.Category]
		if !ok {
			i = len(rs.buckets)
			index[r.Category] = i
			rs.buckets = append(rs.buckets, bucket{category: r.Category})
		}
		rs.buckets[i].records = append(rs.buckets[i].records, r.Record)
	}
	// stable: equal counts keep first-appearance order
	sort.SliceStable(rs.buckets, func(i, j int) bool {
		return len(rs.buckets[i].records) > len(rs.buckets[j].records)
	})
	if len(rs.buckets) > a.opts.TopCategories {
		rs.buckets = rs.buckets[:a.opts.TopCategories]
	}
	return rs
}

func (a *Aggregator) summarize(ctx context.Context, b bucket, role types.Role, country types.Country) string {
	excerpts := summarizer.BuildExcerpts(b.records, a.sanitizer, country, a.opts.SampleSize, a.opts.PrefixRunes)
	if len(excerpts) == 0 {
		return summarizer.PlaceholderNoData
	}
	// an in-flight call is never interrupted; cancellation is checked between calls
	summary, err := a.summarizer.Summarize(context.WithoutCancel(ctx), summarizer.Request{
		Category: b.category,
		Role:     role,
		Country:  country,
		Excerpts: excerpts,
	})
	if err != nil {
		a.log.WithFields(logrus.Fields{"category": b.category, "role": role, "error": err.Error()}).Warn("summarization failed")
		return summarizer.Placeholder(err)
	}
	return summary
}

func (a *Aggregator) progress(done, total int) {
	if a.opts.OnProgress != nil {
		a.opts.OnProgress(Progress{Done: done, Total: total})
	}
}
