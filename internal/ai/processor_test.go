package ai

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/protocol"
)

func TestProcessQuery_CannedCategories(t *testing.T) {
	p := NewStubProcessor(zap.NewNop(), DefaultConfig())

	tests := []struct {
		query string
		want  string
	}{
		{"hello there", "Hello!"},
		{"what is a tracker?", "interesting question"},
		{"explain bencode", "happy to explain"},
		{"calculate 2+2", "calculations"},
		{"something unmatched", "Thank you for your query"},
	}
	for _, tt := range tests {
		answer, meta, err := p.ProcessQuery(context.Background(), tt.query, nil, nil)
		if err != nil {
			t.Fatalf("query %q: %v", tt.query, err)
		}
		if !strings.Contains(answer, tt.want) {
			t.Fatalf("query %q: answer %q does not contain %q", tt.query, answer, tt.want)
		}
		if meta == nil || meta.TotalTokens != meta.InputTokens+meta.OutputTokens {
			t.Fatalf("query %q: bad metadata %+v", tt.query, meta)
		}
	}
}

func TestProcessQuery_UsesContext(t *testing.T) {
	p := NewStubProcessor(zap.NewNop(), DefaultConfig())

	chat := []protocol.ChatMessage{{Role: "user", Content: "earlier message"}}
	answer, _, err := p.ProcessQuery(context.Background(), "unmatched zzz", chat, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(answer, "conversation context") {
		t.Fatalf("answer %q ignores conversation context", answer)
	}
}

func TestProcessQuery_ParameterOverrides(t *testing.T) {
	p := NewStubProcessor(zap.NewNop(), DefaultConfig())

	temp := 1.5
	maxTok := 32
	_, meta, err := p.ProcessQuery(context.Background(), "hello", nil, &protocol.AiParameters{
		Temperature: &temp,
		MaxTokens:   &maxTok,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.InputTokens != 1 { // "hello" is one word, floor(1*1.3) == 1
		t.Fatalf("input tokens = %d, want 1", meta.InputTokens)
	}
}
