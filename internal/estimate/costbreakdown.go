package estimate

// CostBreakdown splits a cost total by provenance: amounts the source itself
// reported versus amounts derived from token counts and the pricing table.
type CostBreakdown struct {
	TotalUSD      float64 `json:"total_usd"`
	FromSourceUSD float64 `json:"from_source_usd"`
	CalculatedUSD float64 `json:"calculated_usd"`
}

// Record folds one entry's cost in. supplied is the source-reported figure
// (zero when absent); effective is what the configured mode settled on.
func (b *CostBreakdown) Record(supplied, effective float64) {
	b.TotalUSD += effective
	if supplied > 0 && supplied == effective {
		b.FromSourceUSD += effective
	} else {
		b.CalculatedUSD += effective
	}
}

// PercentActual is the share of the total that came straight from the
// source rather than the pricing table.
func (b CostBreakdown) PercentActual() float64 {
	if b.TotalUSD <= 0 {
		return 0
	}
	return b.FromSourceUSD / b.TotalUSD * 100
}
