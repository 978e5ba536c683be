package summarizer

import (
	"fmt"
	"strings"

	"voc-insights-go/internal/sanitizer"
	"voc-insights-go/internal/types"
)

const (
	DefaultSampleSize  = 20
	DefaultPrefixRunes = 100
)

// BuildExcerpts sanitizes up to limit records and formats them as
// "- <title>: <body prefix>". Records whose body is only boilerplate are skipped.
func BuildExcerpts(records []types.Record, s *sanitizer.Sanitizer, country types.Country, limit, prefixRunes int) []string {
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]string, 0, len(records))
	for _, r := range records {
		body := s.Strip(r.Body, country)
		if body == "" {
			continue
		}
		out = append(out, fmt.Sprintf("- %s: %s", r.Title, prefix(body, prefixRunes)))
	}
	return out
}

func prefix(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

const styleRules = `- 1~2문장으로만 작성
- 문장의 끝을 '~되고 있음', '~발생하고 있음', '~이어지고 있음' 스타일로 마무리
- '~에 대한 문의', '문의가 많음', '주로', '많음' 등 관찰자 표현 금지
- 번호, 하이픈, 불릿포인트 금지
- 감정·부사·추측 제거, 사실만 요약
- 원문에 없는 해석 추가 금지`

// styleExamples takes the header of the good example, which differs per locale.
const styleExamples = `[%s]
환전이 인증 실패로 자주 중단되고, 진행 상황을 확인하기 어려운 구조로 인해 처리 지연이 반복되고 있음.

[나쁜 예시]
1. 환전 지연
- 환전 관련 문의 많음
환전에 대한 문의가 주로 발생함`

// BuildPrompt renders the locale-specific instruction for one category.
// Japanese inquiries are summarized in Korean.
func BuildPrompt(req Request) string {
	vocText := strings.Join(req.Excerpts, "\n")
	if req.Country.IsJapan() {
		return fmt.Sprintf(`다음은 일본 사용자의 '%s' 대분류 문의 내용입니다.
이 일본어 VOC 내용을 분석하여 한국어로 핵심 이슈를 1~2문장으로 요약하세요.

요구사항:
- 일본어 내용을 읽고 한국어로 요약
%s

일본어 VOC 내용:
%s

%s
`, req.Category, styleRules, vocText, fmt.Sprintf(styleExamples, "좋은 예시"))
	}
	return fmt.Sprintf(`다음은 '%s' 대분류의 고객 문의 내용입니다.
대시보드 요약용으로 핵심 이슈를 1~2문장으로 작성하세요.

요구사항:
%s

%s

%s
`, req.Category, styleRules, vocText, fmt.Sprintf(styleExamples, "좋은 예시 스타일"))
}
