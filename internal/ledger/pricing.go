package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/soyeahso/turnstile/internal/config"
)

var million = decimal.NewFromInt(1_000_000)

// Price is a model's rate per million input and output tokens.
type Price struct {
	InputPerMillion  decimal.Decimal `json:"input_per_million"`
	OutputPerMillion decimal.Decimal `json:"output_per_million"`
}

// PriceTable maps model ids to prices.
type PriceTable map[string]Price

// NewPriceTable converts configured prices to decimals.
func NewPriceTable(entries map[string]config.PriceEntry) PriceTable {
	t := make(PriceTable, len(entries))
	for model, e := range entries {
		t[model] = Price{
			InputPerMillion:  decimal.NewFromFloat(e.InputPerMillion),
			OutputPerMillion: decimal.NewFromFloat(e.OutputPerMillion),
		}
	}
	return t
}

// EstimateCost prices a call. Unknown models cost zero.
func (t PriceTable) EstimateCost(model string, promptTokens, completionTokens int64) decimal.Decimal {
	p, ok := t[model]
	if !ok {
		return decimal.Zero
	}
	in := p.InputPerMillion.Mul(decimal.NewFromInt(promptTokens))
	out := p.OutputPerMillion.Mul(decimal.NewFromInt(completionTokens))
	return in.Add(out).Div(million)
}
