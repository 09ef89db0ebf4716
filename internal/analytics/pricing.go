package analytics

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelPrice lists per-million-token prices for one model prefix.
type ModelPrice struct {
	InputPerMillion     float64 `yaml:"input_per_million"`
	OutputPerMillion    float64 `yaml:"output_per_million"`
	CachedPerMillion    float64 `yaml:"cached_per_million"`
	ReasoningPerMillion float64 `yaml:"reasoning_per_million"`
	Currency            string  `yaml:"currency"`
}

// PricingTable maps model-id prefixes to prices. Lookup is longest-prefix
// match with a "default" fallback entry; a miss on both means cost is omitted.
type PricingTable struct {
	entries map[string]ModelPrice
}

// LoadPricingTable reads the YAML pricing file.
func LoadPricingTable(path string) (*PricingTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing table: %w", err)
	}
	var entries map[string]ModelPrice
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse pricing table: %w", err)
	}
	return &PricingTable{entries: entries}, nil
}

// NewPricingTable builds a table from an in-memory map.
func NewPricingTable(entries map[string]ModelPrice) *PricingTable {
	return &PricingTable{entries: entries}
}

// Lookup resolves the price entry for a model id.
func (t *PricingTable) Lookup(modelID string) (ModelPrice, bool) {
	if t == nil || len(t.entries) == 0 {
		return ModelPrice{}, false
	}
	bestLen := -1
	var best ModelPrice
	for prefix, price := range t.entries {
		if prefix == "default" {
			continue
		}
		if strings.HasPrefix(modelID, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			best = price
		}
	}
	if bestLen >= 0 {
		return best, true
	}
	if def, ok := t.entries["default"]; ok {
		return def, true
	}
	return ModelPrice{}, false
}

// Cost computes the cost block for a usage record, or nil when the model has
// no pricing. Each component is tokens x price-per-million / 1e6 rounded to
// six decimals; the total is the sum of the rounded components.
func (t *PricingTable) Cost(modelID string, tokens *TokenInfo) *CostInfo {
	if tokens == nil {
		return nil
	}
	price, ok := t.Lookup(modelID)
	if !ok {
		return nil
	}
	currency := price.Currency
	if currency == "" {
		currency = "USD"
	}

	cost := &CostInfo{
		Input:    tokenCost(tokens.Prompt, price.InputPerMillion),
		Output:   tokenCost(tokens.Completion, price.OutputPerMillion),
		Currency: currency,
	}
	total := cost.Input + cost.Output
	if tokens.Cached != nil {
		c := tokenCost(*tokens.Cached, price.CachedPerMillion)
		cost.Cached = &c
		total += c
	}
	if tokens.Reasoning != nil {
		c := tokenCost(*tokens.Reasoning, price.ReasoningPerMillion)
		cost.Reasoning = &c
		total += c
	}
	cost.Total = round6(total)
	return cost
}

func tokenCost(tokens int, perMillion float64) float64 {
	return round6(float64(tokens) * perMillion / 1_000_000)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
