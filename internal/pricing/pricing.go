// Package pricing maps model identifiers and token usage to monetary cost.
// All functions are pure; malformed or missing counts are treated as zero.
package pricing

import "strings"

// Usage is the token breakdown attached to one assistant turn.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Breakdown is the normalized view of a Usage used for session totals.
// TotalInput includes cache reads; cache creation tokens are already part
// of InputTokens by producer convention and must not be added again.
type Breakdown struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
	TotalInput int64
}

// Pricing is a per-model rate tuple in USD per million tokens.
type Pricing struct {
	InputPerMillion       float64
	OutputPerMillion      float64
	CacheCreatePerMillion float64
	CacheReadPerMillion   float64
}

var modelPricing = map[string]Pricing{
	"opus": {
		InputPerMillion:       15.0,
		OutputPerMillion:      75.0,
		CacheCreatePerMillion: 18.75,
		CacheReadPerMillion:   1.50,
	},
	"sonnet": {
		InputPerMillion:       3.0,
		OutputPerMillion:      15.0,
		CacheCreatePerMillion: 3.75,
		CacheReadPerMillion:   0.30,
	},
	"haiku": {
		InputPerMillion:       0.80,
		OutputPerMillion:      4.0,
		CacheCreatePerMillion: 1.0,
		CacheReadPerMillion:   0.08,
	},
}

// Default is applied when the model identifier matches no known family.
var Default = modelPricing["sonnet"]

// Lookup returns the pricing tuple for a model identifier. Matching is by
// family substring (claude-sonnet-4-20250514, claude-3-5-haiku, ...);
// unrecognized models fall back to Default rather than failing.
func Lookup(model string) Pricing {
	lower := strings.ToLower(model)
	for _, family := range []string{"opus", "haiku", "sonnet"} {
		if strings.Contains(lower, family) {
			return modelPricing[family]
		}
	}
	return Default
}

// Cost computes the monetary cost of one usage record for the given model.
func Cost(model string, u Usage) float64 {
	p := Lookup(model)
	cost := float64(max64(u.InputTokens, 0)) * p.InputPerMillion / 1_000_000
	cost += float64(max64(u.OutputTokens, 0)) * p.OutputPerMillion / 1_000_000
	cost += float64(max64(u.CacheCreationInputTokens, 0)) * p.CacheCreatePerMillion / 1_000_000
	cost += float64(max64(u.CacheReadInputTokens, 0)) * p.CacheReadPerMillion / 1_000_000
	return cost
}

// ExtractUsage normalizes a Usage into the breakdown folded into session
// totals.
func ExtractUsage(u Usage) Breakdown {
	in := max64(u.InputTokens, 0)
	read := max64(u.CacheReadInputTokens, 0)
	return Breakdown{
		Input:      in,
		Output:     max64(u.OutputTokens, 0),
		CacheWrite: max64(u.CacheCreationInputTokens, 0),
		CacheRead:  read,
		TotalInput: in + read,
	}
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
