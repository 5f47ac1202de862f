package llm

import "strings"

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

// Longest prefix wins, so "gpt-4o-mini" is matched before "gpt-4o".
var prices = map[string]price{
	"gpt-4o-mini":       {0.15, 0.60},
	"gpt-4o":            {2.50, 10.00},
	"gpt-4.1-mini":      {0.40, 1.60},
	"gpt-4.1":           {2.00, 8.00},
	"gpt-3.5-turbo":     {0.50, 1.50},
	"claude-3-5-haiku":  {0.80, 4.00},
	"claude-3-5-sonnet": {3.00, 15.00},
	"claude-sonnet-4":   {3.00, 15.00},
	"claude-opus-4":     {15.00, 75.00},
}

var fallbackPrice = price{1.00, 3.00}

// EstimateCost returns the USD cost of one call.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p := fallbackPrice
	best := 0
	for prefix, pp := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			p, best = pp, len(prefix)
		}
	}
	return (float64(promptTokens)*p.input + float64(completionTokens)*p.output) / 1e6
}
