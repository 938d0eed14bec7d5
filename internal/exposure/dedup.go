package exposure

import (
	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/pkg/models"
)

// dedupe drops filing-derived exposures that restate a repository trade:
// reporting-currency notional within tolerance of the trade's and an
// overlapping effective/maturity window. Filings corroborate trades; they
// are not additional exposure.
func dedupe(filings, trades []models.SwapExposure, tolerance decimal.Decimal) (kept []models.SwapExposure, dropped int) {
	for _, f := range filings {
		if restates(f, trades, tolerance) {
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	return kept, dropped
}

func restates(f models.SwapExposure, trades []models.SwapExposure, tolerance decimal.Decimal) bool {
	for _, t := range trades {
		if !t.Source.TransactionLevel() {
			continue
		}
		limit := t.BaseNotional.Mul(tolerance)
		if f.BaseNotional.Sub(t.BaseNotional).Abs().GreaterThan(limit) {
			continue
		}
		if f.Overlaps(t) {
			return true
		}
	}
	return false
}
