// Package ai provides the query-processing stage behind the dispatcher. The
// dispatcher depends only on the Processor interface; the bundled
// implementation is a canned-text stand-in for a real model runtime.
package ai

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/protocol"
)

// Processor answers queries. Implementations must be safe for concurrent use.
type Processor interface {
	ProcessQuery(ctx context.Context, query string, chat []protocol.ChatMessage, params *protocol.AiParameters) (string, *protocol.ResponseMetadata, error)
}

// Config holds stub generation defaults, applied when a request leaves a
// parameter unset.
type Config struct {
	ModelName   string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// DefaultConfig mirrors the model defaults of the original deployment.
func DefaultConfig() Config {
	return Config{
		ModelName:   "llama-2-7b-chat",
		Temperature: 0.7,
		MaxTokens:   512,
		TopP:        0.9,
	}
}

// StubProcessor produces canned answers keyed off the query text. Token
// counts are word-count estimates; processing time is measured.
type StubProcessor struct {
	log *zap.Logger
	cfg Config
}

// NewStubProcessor creates a canned-text processor.
func NewStubProcessor(log *zap.Logger, cfg Config) *StubProcessor {
	if cfg.ModelName == "" {
		cfg = DefaultConfig()
	}
	return &StubProcessor{log: log, cfg: cfg}
}

// ProcessQuery implements Processor.
func (p *StubProcessor) ProcessQuery(ctx context.Context, query string, chat []protocol.ChatMessage, params *protocol.AiParameters) (string, *protocol.ResponseMetadata, error) {
	start := time.Now()

	temperature := p.cfg.Temperature
	maxTokens := p.cfg.MaxTokens
	if params != nil {
		if params.Temperature != nil {
			temperature = *params.Temperature
		}
		if params.MaxTokens != nil {
			maxTokens = *params.MaxTokens
		}
	}

	p.log.Debug("processing query",
		zap.String("model", p.cfg.ModelName),
		zap.Int("query_len", len(query)),
		zap.Int("context_messages", len(chat)),
		zap.Float64("temperature", temperature),
		zap.Int("max_tokens", maxTokens))

	answer := p.cannedAnswer(query, chat)

	meta := &protocol.ResponseMetadata{
		InputTokens:      estimateTokens(query),
		OutputTokens:     estimateTokens(answer),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	meta.TotalTokens = meta.InputTokens + meta.OutputTokens
	return answer, meta, nil
}

func (p *StubProcessor) cannedAnswer(query string, chat []protocol.ChatMessage) string {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, "hello", "hi", "greet"):
		return "Hello! I'm an AI assistant (stub implementation). How can I help you today?"
	case containsAny(q, "what", "who", "where", "when", "why", "how"):
		return "That's an interesting question! In a real implementation, I would use a language model to generate a thoughtful response. For now, this is a stub response."
	case containsAny(q, "explain", "describe", "tell me"):
		return "I'd be happy to explain that! However, this is currently a stub implementation. Once the model is integrated, I'll be able to provide detailed explanations."
	case containsAny(q, "calculate", "compute", "math"):
		return "I can help with calculations! This is a stub response. The actual implementation will use a language model for mathematical reasoning."
	case len(chat) > 0:
		return "Based on our conversation context, I understand you're asking: '" + query + "'. This is a stub response that will be replaced with model inference."
	default:
		return "Thank you for your query: '" + query + "'. This is a stub AI response. The actual implementation will use a language model to generate intelligent, context-aware responses."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// estimateTokens approximates a token count from whitespace-separated words.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Floor(float64(words) * 1.3))
}
