package pricing

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCost_SonnetExample(t *testing.T) {
	got := Cost("claude-sonnet-4-20250514", Usage{
		InputTokens:  2_000_000,
		OutputTokens: 100_000,
	})
	want := 2_000_000/1e6*3.00 + 100_000/1e6*15.00
	if !almostEqual(got, want) {
		t.Fatalf("Cost = %v, want %v", got, want)
	}
	if !almostEqual(got, 7.50) {
		t.Fatalf("Cost = %v, want 7.50", got)
	}
}

func TestCost_UnknownModelFallsBackToDefault(t *testing.T) {
	got := Cost("some-unreleased-model", Usage{InputTokens: 1_000_000})
	if !almostEqual(got, Default.InputPerMillion) {
		t.Fatalf("Cost = %v, want default input rate %v", got, Default.InputPerMillion)
	}
}

func TestCost_CacheRates(t *testing.T) {
	got := Cost("claude-opus-4-20250514", Usage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     2_000_000,
	})
	want := 18.75 + 2*1.50
	if !almostEqual(got, want) {
		t.Fatalf("Cost = %v, want %v", got, want)
	}
}

func TestCost_NegativeCountsTreatedAsZero(t *testing.T) {
	got := Cost("claude-3-5-haiku-20241022", Usage{InputTokens: -50, OutputTokens: 1_000_000})
	if !almostEqual(got, 4.0) {
		t.Fatalf("Cost = %v, want 4.0", got)
	}
}

func TestLookup_FamilySubstring(t *testing.T) {
	cases := []struct {
		model string
		want  float64
	}{
		{"claude-opus-4-20250514", 15.0},
		{"claude-sonnet-4-20250514", 3.0},
		{"claude-3-5-haiku-20241022", 0.80},
		{"gpt-4o", Default.InputPerMillion},
		{"", Default.InputPerMillion},
	}
	for _, tc := range cases {
		if got := Lookup(tc.model).InputPerMillion; got != tc.want {
			t.Fatalf("Lookup(%q).InputPerMillion = %v, want %v", tc.model, got, tc.want)
		}
	}
}

func TestExtractUsage_TotalInputIncludesCacheReads(t *testing.T) {
	b := ExtractUsage(Usage{
		InputTokens:              100,
		OutputTokens:             40,
		CacheCreationInputTokens: 25,
		CacheReadInputTokens:     900,
	})
	if b.TotalInput != 1000 {
		t.Fatalf("TotalInput = %d, want 1000", b.TotalInput)
	}
	if b.CacheWrite != 25 {
		t.Fatalf("CacheWrite = %d, want 25", b.CacheWrite)
	}
	// Cache creation tokens are already inside InputTokens; TotalInput must
	// not count them twice.
	if b.TotalInput != b.Input+b.CacheRead {
		t.Fatalf("TotalInput = %d, want Input+CacheRead = %d", b.TotalInput, b.Input+b.CacheRead)
	}
}
