// Package llm is the go-openai-backed backend for the "summarize"
// analysis method (spec §6 "LLM endpoint, LLM model").
//
// Grounded in the pack's lueurxax-TelegramDigestBot
// internal/core/llm.openaiClient: a rate.Limiter gate plus a
// consecutive-failure circuit breaker wrapping every call, generalized
// from chat/translation/embedding prompts onto a single "summarize this
// document text" operation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while the breaker is tripped, before the
// underlying API is called at all.
var ErrCircuitOpen = errors.New("llm: circuit breaker is open")

const (
	circuitBreakerThreshold = 5
	circuitBreakerCooldown  = 1 * time.Minute
	defaultRateLimitRPS     = 2.0
	defaultBurst            = 3
	maxInputChars           = 24000
)

const summaryPromptTemplate = "Summarize the following document in 3-5 sentences, plain text, no preamble:\n\n%s"

// Summarizer is the minimal contract internal/analysis drives the
// "summarize" method through.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type openaiSummarizer struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter

	mu                   sync.Mutex
	consecutiveFailures  int
	circuitOpenUntil     time.Time
}

// NewSummarizer builds a Summarizer pointed at endpoint (empty uses
// OpenAI's default base URL) with apiKey and model (spec §6).
func NewSummarizer(endpoint, apiKey, model string) Summarizer {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &openaiSummarizer{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimitRPS), defaultBurst),
	}
}

func (s *openaiSummarizer) checkCircuit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Now().Before(s.circuitOpenUntil) {
		return fmt.Errorf("%w until %v", ErrCircuitOpen, s.circuitOpenUntil)
	}
	return nil
}

func (s *openaiSummarizer) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
}

func (s *openaiSummarizer) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= circuitBreakerThreshold {
		s.circuitOpenUntil = time.Now().Add(circuitBreakerCooldown)
	}
}

// Summarize sends text through the configured model, truncating
// defensively since a single document version can exceed the model's
// context window.
func (s *openaiSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if err := s.checkCircuit(); err != nil {
		return "", err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: rate limiter: %w", err)
	}

	truncated := text
	if len(truncated) > maxInputChars {
		truncated = truncated[:maxInputChars]
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(summaryPromptTemplate, truncated)},
		},
	})
	if err != nil {
		s.recordFailure()
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		s.recordFailure()
		return "", errors.New("llm: empty response")
	}

	s.recordSuccess()
	return resp.Choices[0].Message.Content, nil
}
