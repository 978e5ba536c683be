package summarizer

import (
	"context"
	"fmt"
)

// Mock returns a deterministic summary without network access (USE_MOCK_LLM=true).
type Mock struct{}

func (Mock) Summarize(_ context.Context, req Request) (string, error) {
	if len(req.Excerpts) == 0 {
		return PlaceholderNoData, nil
	}
	return fmt.Sprintf("%s 관련 이슈가 %d건의 샘플 문의에서 이어지고 있음.", req.Category, len(req.Excerpts)), nil
}
