package profile

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/pkg/models"
)

// Metrics are the summary figures of an exposure set.
type Metrics struct {
	Gross          decimal.Decimal
	Net            decimal.Decimal
	ByCounterparty []models.CounterpartyExposure
	ByAssetClass   []models.AssetClassExposure
	Concentration  models.ConcentrationMetrics
}

const shareDigits = 6

type bucketKey struct {
	counterparty string
	class        models.AssetClass
}

// ComputeMetrics totals exposures in the reporting currency. Gross sums
// absolute notionals. Net offsets signed notionals within each
// counterparty and asset class pair and sums the remaining magnitudes, so
// Net never exceeds Gross and per-counterparty gross sums to the total.
func ComputeMetrics(exposures []models.SwapExposure) Metrics {
	buckets := make(map[bucketKey]decimal.Decimal)
	cps := make(map[string]*models.CounterpartyExposure)
	classes := make(map[models.AssetClass]*models.AssetClassExposure)

	var m Metrics
	for _, e := range exposures {
		m.Gross = m.Gross.Add(e.BaseNotional)

		k := bucketKey{e.Counterparty.Key, e.AssetClass}
		buckets[k] = buckets[k].Add(e.SignedBase())

		cp, ok := cps[e.Counterparty.Key]
		if !ok {
			cp = &models.CounterpartyExposure{Counterparty: e.Counterparty}
			cps[e.Counterparty.Key] = cp
		}
		cp.Gross = cp.Gross.Add(e.BaseNotional)
		cp.ExposureCount++

		ac, ok := classes[e.AssetClass]
		if !ok {
			ac = &models.AssetClassExposure{AssetClass: e.AssetClass}
			classes[e.AssetClass] = ac
		}
		ac.Gross = ac.Gross.Add(e.BaseNotional)
		ac.ExposureCount++
	}

	for k, signed := range buckets {
		net := signed.Abs()
		m.Net = m.Net.Add(net)
		cps[k.counterparty].Net = cps[k.counterparty].Net.Add(net)
		classes[k.class].Net = classes[k.class].Net.Add(net)
	}

	m.ByCounterparty = make([]models.CounterpartyExposure, 0, len(cps))
	for _, cp := range cps {
		m.ByCounterparty = append(m.ByCounterparty, *cp)
	}
	slices.SortFunc(m.ByCounterparty, func(a, b models.CounterpartyExposure) int {
		return cmp.Or(b.Gross.Cmp(a.Gross), cmp.Compare(a.Counterparty.Key, b.Counterparty.Key))
	})

	m.ByAssetClass = make([]models.AssetClassExposure, 0, len(classes))
	for _, ac := range models.AllAssetClasses() {
		if c, ok := classes[ac]; ok {
			m.ByAssetClass = append(m.ByAssetClass, *c)
		}
	}
	// classes outside the fixed set still appear, after the known ones
	var extra []models.AssetClassExposure
	for ac, c := range classes {
		if !slices.Contains(models.AllAssetClasses(), ac) {
			extra = append(extra, *c)
		}
	}
	slices.SortFunc(extra, func(a, b models.AssetClassExposure) int { return cmp.Compare(a.AssetClass, b.AssetClass) })
	m.ByAssetClass = append(m.ByAssetClass, extra...)

	m.Concentration = concentration(m.ByCounterparty, m.Gross)
	return m
}

// concentration fills shares in place and returns the summary ratios.
// HHI is the sum of squared shares, on a 0-1 scale.
func concentration(cps []models.CounterpartyExposure, gross decimal.Decimal) models.ConcentrationMetrics {
	c := models.ConcentrationMetrics{CounterpartyCount: len(cps)}
	if len(cps) == 0 || !gross.IsPositive() {
		return c
	}
	var hhi, topFive decimal.Decimal
	for i := range cps {
		share := cps[i].Gross.Div(gross)
		hhi = hhi.Add(share.Mul(share))
		if i < 5 {
			topFive = topFive.Add(share)
		}
		cps[i].Share = share.Round(shareDigits)
	}
	c.TopCounterparty = cps[0].Counterparty
	c.TopShare = cps[0].Share
	c.TopFiveShare = topFive.Round(shareDigits)
	c.HHI = hhi.Round(shareDigits)
	return c
}
