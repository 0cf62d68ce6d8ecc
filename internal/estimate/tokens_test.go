package estimate

import (
	"strings"
	"testing"
)

func TestTokensForChars(t *testing.T) {
	tests := []struct {
		chars int64
		want  int64
	}{
		{0, 0},
		{-10, 0},
		{1, 0},   // 0 tokens before rounding, bias not enough
		{20, 10}, // 5 tokens rounds up to 10
		{40, 10},
		{400, 100},
		{401, 100},
		{420, 110},
		{4000, 1000},
	}
	for _, tt := range tests {
		if got := TokensForChars(tt.chars); got != tt.want {
			t.Errorf("TokensForChars(%d) = %d, want %d", tt.chars, got, tt.want)
		}
	}
}

func TestTokensForCharsProperties(t *testing.T) {
	var prev int64
	for c := int64(0); c <= 100_000; c += 7 {
		got := TokensForChars(c)
		if got%10 != 0 {
			t.Fatalf("TokensForChars(%d) = %d, not a multiple of 10", c, got)
		}
		if got < prev {
			t.Fatalf("TokensForChars(%d) = %d decreased from %d", c, got, prev)
		}
		prev = got
	}
}

func TestBreakdownRoundsPerCategory(t *testing.T) {
	// Rounding each category separately must not equal rounding the sum.
	b := Breakdown{HistoryChars: 22, ContextFileChars: 22, ToolChars: 22, SystemPromptChars: 22}
	tokens := b.Tokens()
	if tokens.History != 10 || tokens.ContextFiles != 10 || tokens.Tools != 10 || tokens.SystemPrompt != 10 {
		t.Fatalf("per-category rounding: got %+v", tokens)
	}
	if got, sum := tokens.Total(), TokensForChars(88); got == sum {
		t.Errorf("per-category total %d should differ from aggregate rounding %d", got, sum)
	}
}

func TestDeepCharCount(t *testing.T) {
	v := map[string]any{
		"a": "hello",
		"b": []any{"worlds", map[string]any{"c": "!!"}},
		"d": 42.0,
		"e": nil,
	}
	if got := DeepCharCount(v); got != 13 {
		t.Errorf("DeepCharCount = %d, want 13", got)
	}
}

func TestHasCompactionMarkers(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"plain text", "just a conversation", false},
		{"overflow", "context OVERFLOW detected", true},
		{"summarize stem", "Summarizing earlier turns", true},
		{"truncated nested", []any{map[string]any{"note": "history truncated"}}, true},
		{"compact", "running /compact now", true},
		{"non-string", 3.14, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCompactionMarkers(tt.v); got != tt.want {
				t.Errorf("HasCompactionMarkers(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestEstimateConversation(t *testing.T) {
	raw := []byte(`{
		"conversation_id": "abc",
		"history": [
			[{"content": "` + strings.Repeat("a", 400) + `"}, {"content": "` + strings.Repeat("b", 400) + `"}],
			[{"content": "hello"}]
		],
		"tools": {"spec": "` + strings.Repeat("t", 80) + `"},
		"context_manager": {"files": ["` + strings.Repeat("f", 120) + `"]},
		"transcript": "` + strings.Repeat("s", 40) + `"
	}`)

	est := EstimateConversation(raw)
	if est.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", est.MessageCount)
	}
	if est.HasCompaction {
		t.Error("HasCompaction = true, want false")
	}
	if est.Breakdown.History != TokensForChars(805) {
		t.Errorf("History = %d, want %d", est.Breakdown.History, TokensForChars(805))
	}
	if est.Breakdown.Tools != TokensForChars(80) {
		t.Errorf("Tools = %d, want %d", est.Breakdown.Tools, TokensForChars(80))
	}
	if est.Breakdown.ContextFiles != TokensForChars(120) {
		t.Errorf("ContextFiles = %d, want %d", est.Breakdown.ContextFiles, TokensForChars(120))
	}
	if est.Breakdown.SystemPrompt != TokensForChars(40) {
		t.Errorf("SystemPrompt = %d, want %d", est.Breakdown.SystemPrompt, TokensForChars(40))
	}
}

func TestEstimateConversationLatestSummary(t *testing.T) {
	raw := []byte(`{"history": [[{"content": "hi"}]], "latest_summary": "earlier turns condensed"}`)
	if est := EstimateConversation(raw); !est.HasCompaction {
		t.Error("latest_summary present, want HasCompaction")
	}
}

func TestEstimateConversationUnparseable(t *testing.T) {
	raw := []byte(strings.Repeat("x", 1000))
	est := EstimateConversation(raw)
	if est.Breakdown.History != TokensForChars(1000) {
		t.Errorf("fallback History = %d, want %d", est.Breakdown.History, TokensForChars(1000))
	}
	if est.MessageCount != 0 {
		t.Errorf("fallback MessageCount = %d, want 0", est.MessageCount)
	}
}
