// Package pricing centralizes the per-million-token cost table used to
// estimate session cost across producer adapters. Extracted from the
// Claude Code adapter's inline rate table so other adapters (and the local
// store's metrics computation) share one source of truth instead of each
// re-deriving rates.
package pricing

import "strings"

// Usage is the token counts needed to estimate a cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CacheRead    int
	CacheWrite   int
}

// rates holds $/million-token input and output prices.
type rates struct {
	in, out float64
}

// defaultRates is used for unrecognized models; it matches Sonnet-class
// pricing, the most common mid-tier model.
var defaultRates = rates{in: 3.0, out: 15.0}

var modelRates = []struct {
	contains string
	rates    rates
}{
	{"opus", rates{in: 15.0, out: 75.0}},
	{"sonnet", rates{in: 3.0, out: 15.0}},
	{"haiku", rates{in: 0.25, out: 1.25}},
}

func ratesFor(model string) rates {
	for _, mr := range modelRates {
		if strings.Contains(model, mr.contains) {
			return mr.rates
		}
	}
	return defaultRates
}

// ModelCost estimates dollar cost for usage under model's pricing tier.
// Cache-read tokens are billed at 10% of the input rate; cache-write tokens
// are folded into the output side since producers report them separately
// from regular output but they are billed at output-equivalent rates here.
func ModelCost(model string, usage Usage) float64 {
	r := ratesFor(model)
	regularIn := usage.InputTokens - usage.CacheRead
	if regularIn < 0 {
		regularIn = 0
	}
	return float64(usage.CacheRead)*r.in*0.1/1_000_000 +
		float64(regularIn)*r.in/1_000_000 +
		float64(usage.OutputTokens)*r.out/1_000_000
}
