// Package estimate converts conversation payloads into token counts and token
// counts into USD. Neither backing store exposes real tokenizer output, so
// token figures here are heuristics calibrated to match what the producing
// tools report themselves.
package estimate

import (
	"encoding/json"
	"strings"

	"github.com/qstatus/qstatus/internal/core"
)

// CharsPerToken is the base character-to-token ratio the upstream tools use.
const CharsPerToken = 4

// compactionMarkers are substrings that suggest the upstream system has
// truncated or summarized history. Matching is case-insensitive and known to
// false-positive (a user saying "let's summarize" trips it); callers treat
// the flag as a hint, not a fact.
var compactionMarkers = []string{"overflow", "compact", "summariz", "truncat"}

// TokensForChars converts a character count into tokens using the reporting
// convention of the source tools: divide by four, then round to the nearest
// ten with a half-bucket bias. Applied per category, never to a raw total:
// summing first and rounding once gives different figures.
func TokensForChars(chars int64) int64 {
	if chars <= 0 {
		return 0
	}
	return (chars/CharsPerToken + 5) / 10 * 10
}

// Breakdown holds per-category character counts for one conversation.
type Breakdown struct {
	HistoryChars      int64
	ContextFileChars  int64
	ToolChars         int64
	SystemPromptChars int64
}

// Tokens rounds each category independently and returns the breakdown.
func (b Breakdown) Tokens() core.TokenBreakdown {
	return core.TokenBreakdown{
		History:      TokensForChars(b.HistoryChars),
		ContextFiles: TokensForChars(b.ContextFileChars),
		Tools:        TokensForChars(b.ToolChars),
		SystemPrompt: TokensForChars(b.SystemPromptChars),
	}
}

// DeepCharCount walks an arbitrary decoded JSON value and sums the lengths of
// every string it contains. This is the basis of character counting for all
// categories.
func DeepCharCount(v any) int64 {
	switch val := v.(type) {
	case string:
		return int64(len(val))
	case map[string]any:
		var n int64
		for _, item := range val {
			n += DeepCharCount(item)
		}
		return n
	case []any:
		var n int64
		for _, item := range val {
			n += DeepCharCount(item)
		}
		return n
	default:
		return 0
	}
}

// HasCompactionMarkers reports whether any string inside the value contains a
// compaction marker substring.
func HasCompactionMarkers(v any) bool {
	switch val := v.(type) {
	case string:
		lower := strings.ToLower(val)
		for _, marker := range compactionMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
		return false
	case map[string]any:
		for _, item := range val {
			if HasCompactionMarkers(item) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range val {
			if HasCompactionMarkers(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ConversationEstimate is the result of estimating one raw conversation blob.
type ConversationEstimate struct {
	Breakdown     core.TokenBreakdown
	MessageCount  int
	HasCompaction bool
}

// conversationBlob is the subset of the Amazon Q conversation JSON the
// estimator understands. Unknown fields are ignored; missing fields default.
type conversationBlob struct {
	ConversationID string  `json:"conversation_id"`
	History        [][]any `json:"history"`
	Tools          any     `json:"tools"`
	ContextManager any     `json:"context_manager"`
	Transcript     any     `json:"transcript"`
	LatestSummary  *string `json:"latest_summary"`
}

// EstimateConversation parses a conversation JSON blob and estimates its
// token breakdown category by category. If the blob does not parse at all,
// the whole byte length is estimated as history via the same rounding rule.
func EstimateConversation(raw []byte) ConversationEstimate {
	var conv conversationBlob
	if err := json.Unmarshal(raw, &conv); err != nil {
		return ConversationEstimate{
			Breakdown: core.TokenBreakdown{History: TokensForChars(int64(len(raw)))},
		}
	}

	var b Breakdown
	compaction := conv.LatestSummary != nil && *conv.LatestSummary != ""

	for _, pair := range conv.History {
		for _, msg := range pair {
			b.HistoryChars += DeepCharCount(msg)
			if !compaction && HasCompactionMarkers(msg) {
				compaction = true
			}
		}
	}

	b.ContextFileChars = DeepCharCount(conv.ContextManager)
	if !compaction && HasCompactionMarkers(conv.ContextManager) {
		compaction = true
	}
	b.ToolChars = DeepCharCount(conv.Tools)
	b.SystemPromptChars = DeepCharCount(conv.Transcript)

	return ConversationEstimate{
		Breakdown:     b.Tokens(),
		MessageCount:  len(conv.History),
		HasCompaction: compaction,
	}
}
