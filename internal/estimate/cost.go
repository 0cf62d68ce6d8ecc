package estimate

import "strings"

// CostMode selects how per-entry costs are derived.
type CostMode string

const (
	// CostModeAuto prefers a supplied cost when > 0, else calculates.
	CostModeAuto CostMode = "auto"
	// CostModeCalculate always derives cost from tokens.
	CostModeCalculate CostMode = "calculate"
	// CostModeDisplay only ever uses supplied costs, 0 when absent.
	CostModeDisplay CostMode = "display"
)

// ParseCostMode maps a config string onto a mode, defaulting to auto for
// anything unrecognized.
func ParseCostMode(s string) CostMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(CostModeCalculate):
		return CostModeCalculate
	case string(CostModeDisplay):
		return CostModeDisplay
	default:
		return CostModeAuto
	}
}

// FlatCost converts a token count to USD at a flat per-1k rate.
func FlatCost(tokens int64, ratePer1k float64) float64 {
	return float64(tokens) / 1000.0 * ratePer1k
}

// TokenUsage mirrors the per-entry usage breakdown in the source data.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// Total includes cache tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// ModelPricing holds per-token USD costs for one model.
type ModelPricing struct {
	InputPerToken       float64
	OutputPerToken      float64
	CacheWritePerToken  float64
	CacheReadPerToken   float64
	ContextWindow       int64
}

// pricingPerMillion builds a ModelPricing from per-million-token rates.
// Cache-creation defaults to 1.25x input, cache-read to 0.10x input.
func pricingPerMillion(input, output float64, window int64) ModelPricing {
	perToken := input / 1_000_000
	return ModelPricing{
		InputPerToken:      perToken,
		OutputPerToken:     output / 1_000_000,
		CacheWritePerToken: perToken * 1.25,
		CacheReadPerToken:  perToken * 0.10,
		ContextWindow:      window,
	}
}

// DefaultModel is the fallback when no pricing entry matches at all.
const DefaultModel = "claude-3-5-sonnet-20241022"

// CostCalculator resolves model names to pricing and applies cost modes.
type CostCalculator struct {
	pricing      map[string]ModelPricing
	defaultModel string
}

// NewCostCalculator builds a calculator with the built-in pricing table.
func NewCostCalculator() *CostCalculator {
	table := map[string]ModelPricing{
		"claude-3-5-sonnet":          pricingPerMillion(3.0, 15.0, 200_000),
		"claude-3-5-sonnet-20241022": pricingPerMillion(3.0, 15.0, 200_000),
		"claude-3-5-sonnet-latest":   pricingPerMillion(3.0, 15.0, 200_000),
		"claude-3-opus":              pricingPerMillion(15.0, 75.0, 200_000),
		"claude-3-opus-20240229":     pricingPerMillion(15.0, 75.0, 200_000),
		"claude-3-opus-latest":       pricingPerMillion(15.0, 75.0, 200_000),
		"claude-3-haiku":             pricingPerMillion(0.25, 1.25, 200_000),
		"claude-3-haiku-20240307":    pricingPerMillion(0.25, 1.25, 200_000),
		"claude-3-5-haiku":           pricingPerMillion(1.0, 5.0, 200_000),
		"claude-3-5-haiku-20241022":  pricingPerMillion(1.0, 5.0, 200_000),
		"claude-2.1":                 pricingPerMillion(8.0, 24.0, 200_000),
		"claude-2.0":                 pricingPerMillion(8.0, 24.0, 100_000),
		"claude-instant-1.2":         pricingPerMillion(0.8, 2.4, 100_000),
	}
	return &CostCalculator{pricing: table, defaultModel: DefaultModel}
}

// Cost applies the configured mode: display trusts supplied, calculate
// always derives, auto prefers supplied when positive.
func (c *CostCalculator) Cost(usage TokenUsage, model string, mode CostMode, supplied float64) float64 {
	switch mode {
	case CostModeDisplay:
		if supplied > 0 {
			return supplied
		}
		return 0
	case CostModeCalculate:
		return c.costFromTokens(usage, model)
	default:
		if supplied > 0 {
			return supplied
		}
		return c.costFromTokens(usage, model)
	}
}

func (c *CostCalculator) costFromTokens(usage TokenUsage, model string) float64 {
	p := c.Pricing(model)
	return float64(usage.InputTokens)*p.InputPerToken +
		float64(usage.OutputTokens)*p.OutputPerToken +
		float64(usage.CacheCreationTokens)*p.CacheWritePerToken +
		float64(usage.CacheReadTokens)*p.CacheReadPerToken
}

// Pricing resolves a model name: exact match after normalization, then fuzzy
// family match, then the default model's pricing.
func (c *CostCalculator) Pricing(model string) ModelPricing {
	normalized := NormalizeModelName(model)
	if p, ok := c.pricing[normalized]; ok {
		return p
	}
	if p, ok := c.fuzzyMatch(normalized); ok {
		return p
	}
	return c.pricing[c.defaultModel]
}

// NormalizeModelName lower-cases, strips known provider prefixes, and folds
// punctuation variants like "3.5" vs "3-5".
func NormalizeModelName(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	for stripped := ""; stripped != normalized; {
		stripped = normalized
		for _, prefix := range []string{"anthropic/", "claude/", "bedrock/", "vertex/"} {
			normalized = strings.TrimPrefix(normalized, prefix)
		}
	}
	replacer := strings.NewReplacer(
		"claude-3.5-", "claude-3-5-",
		"claude3.5", "claude-3-5",
		"claude3-", "claude-3-",
	)
	return replacer.Replace(normalized)
}

func (c *CostCalculator) fuzzyMatch(model string) (ModelPricing, bool) {
	lookup := func(key string) (ModelPricing, bool) {
		p, ok := c.pricing[key]
		return p, ok
	}
	switch {
	case strings.Contains(model, "opus"):
		return lookup("claude-3-opus")
	case strings.Contains(model, "sonnet"):
		return lookup("claude-3-5-sonnet")
	case strings.Contains(model, "haiku"):
		if strings.Contains(model, "3-5") || strings.Contains(model, "3.5") {
			return lookup("claude-3-5-haiku")
		}
		return lookup("claude-3-haiku")
	case strings.Contains(model, "instant"):
		return lookup("claude-instant-1.2")
	case strings.Contains(model, "claude-2"):
		return lookup("claude-2.1")
	}
	return ModelPricing{}, false
}
