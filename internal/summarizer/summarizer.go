// Package summarizer turns a category's sampled inquiries into a one or two
// sentence Korean summary using an external LLM.
package summarizer

import (
	"context"
	"errors"

	"voc-insights-go/internal/types"
)

var (
	ErrMissingAPIKey   = errors.New("OPENAI_API_KEY not configured")
	ErrEmptyCompletion = errors.New("empty completion")
)

// Summary texts stored in place of a generated summary.
const (
	PlaceholderMissingKey = "⚠️ OPENAI_API_KEY가 필요합니다."
	PlaceholderFailed     = "요약 실패"
	PlaceholderNoData     = "데이터 없음"
)

// Request is one category of one role within a segment.
type Request struct {
	Category string
	Role     types.Role
	Country  types.Country
	Excerpts []string
}

// Summarizer produces a summary for a category bucket.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// Placeholder maps a summarization failure to the text stored on the bucket.
func Placeholder(err error) string {
	if errors.Is(err, ErrMissingAPIKey) {
		return PlaceholderMissingKey
	}
	return PlaceholderFailed
}
