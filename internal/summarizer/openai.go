package summarizer

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"voc-insights-go/internal/logger"
)

const (
	DefaultModel        = "gpt-4o-mini"
	DefaultMaxTokens    = 150
	DefaultTimeout      = 25 * time.Second
	DefaultMaxRetryTime = 45 * time.Second
)

type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxRetryTime bounds all attempts for one category.
	MaxRetryTime    time.Duration
	InitialInterval time.Duration
	HTTPClient      *http.Client
}

// OpenAI summarizes through an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client openai.Client
	opts   Options
	log    *logrus.Entry
}

func NewOpenAI(opts Options) *OpenAI {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetryTime <= 0 {
		opts.MaxRetryTime = DefaultMaxRetryTime
	}

	// retries are driven by backoff below, not by the SDK
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(opts.Timeout),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
		log:    logger.Component("summarizer.openai").WithField("model", opts.Model),
	}
}

func (s *OpenAI) Summarize(ctx context.Context, req Request) (string, error) {
	if s.opts.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	if len(req.Excerpts) == 0 {
		return PlaceholderNoData, nil
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(s.opts.Model),
		MaxTokens: openai.Int(int64(s.opts.MaxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(req)),
		},
	}
	log := s.log.WithFields(logrus.Fields{
		"category": req.Category,
		"role":     req.Role,
		"excerpts": len(req.Excerpts),
	})

	var summary string
	op := func() error {
		resp, err := s.client.Chat.Completions.New(ctx, params)
		if err != nil {
			log.WithField("error", err.Error()).Warn("chat completion failed")
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(ErrEmptyCompletion)
		}
		summary = strings.TrimSpace(resp.Choices[0].Message.Content)
		if summary == "" {
			return backoff.Permanent(ErrEmptyCompletion)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.opts.MaxRetryTime
	if s.opts.InitialInterval > 0 {
		b.InitialInterval = s.opts.InitialInterval
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	log.Debug("summary generated")
	return summary, nil
}

// retryable: rate limits, server errors and transport failures.
func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
