// Package obligation derives forward payment, collateral, settlement and
// reporting duties from aggregated exposures.
package obligation

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/pkg/models"
	"github.com/seenimoa/gamecock/pkg/utils"
)

// Timing selects when a period's payment falls due.
type Timing string

const (
	// TimingAdvance pays at the start of each period.
	TimingAdvance Timing = "advance"
	// TimingArrears pays at the end of each period.
	TimingArrears Timing = "arrears"
)

// ParseTiming parses a configured payment timing.
func ParseTiming(s string) (Timing, error) {
	switch Timing(s) {
	case TimingAdvance, "":
		return TimingAdvance, nil
	case TimingArrears:
		return TimingArrears, nil
	default:
		return "", fmt.Errorf("unknown payment timing %q", s)
	}
}

// Config holds the obligation derivation settings.
type Config struct {
	HorizonMonths        int // payment synthesis window (default: 12)
	MaxOccurrences       int // payments per exposure (default: 12)
	Timing               Timing
	FloatingRateEstimate decimal.Decimal // annual rate for legs with no fixed rate (default: 0.04)
	// MarginFactors are initial-margin approximations as a fraction of
	// notional, per asset class. Missing classes use DefaultMarginFactor.
	MarginFactors       map[models.AssetClass]decimal.Decimal
	DefaultMarginFactor decimal.Decimal
	RegulatoryReports   bool
	Currency            string // reporting currency for margin and settlement amounts
}

// DefaultMarginFactors is the static initial-margin table.
func DefaultMarginFactors() map[models.AssetClass]decimal.Decimal {
	return map[models.AssetClass]decimal.Decimal{
		models.AssetRates:     decimal.NewFromFloat(0.02),
		models.AssetCredit:    decimal.NewFromFloat(0.05),
		models.AssetEquity:    decimal.NewFromFloat(0.15),
		models.AssetFX:        decimal.NewFromFloat(0.06),
		models.AssetCommodity: decimal.NewFromFloat(0.15),
		models.AssetOther:     decimal.NewFromFloat(0.15),
	}
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		HorizonMonths:        12,
		MaxOccurrences:       12,
		Timing:               TimingAdvance,
		FloatingRateEstimate: decimal.NewFromFloat(0.04),
		MarginFactors:        DefaultMarginFactors(),
		DefaultMarginFactor:  decimal.NewFromFloat(0.15),
		RegulatoryReports:    true,
		Currency:             "USD",
	}
}

// Tracker derives obligations. It holds no state between calls.
type Tracker struct {
	cfg Config
}

// New returns a tracker, filling unset fields from DefaultConfig.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.HorizonMonths <= 0 {
		cfg.HorizonMonths = def.HorizonMonths
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = def.MaxOccurrences
	}
	if cfg.Timing == "" {
		cfg.Timing = def.Timing
	}
	if cfg.FloatingRateEstimate.IsZero() {
		cfg.FloatingRateEstimate = def.FloatingRateEstimate
	}
	if cfg.MarginFactors == nil {
		cfg.MarginFactors = def.MarginFactors
	}
	if cfg.DefaultMarginFactor.IsZero() {
		cfg.DefaultMarginFactor = def.DefaultMarginFactor
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	return &Tracker{cfg: cfg}
}

// Track derives every obligation for the exposure set and groups them by
// horizon relative to asOf. The result depends only on its inputs.
func (t *Tracker) Track(exposures []models.SwapExposure, asOf time.Time) models.ObligationSchedule {
	asOf = utils.DateOnly(asOf)
	var obs []models.Obligation
	for _, e := range exposures {
		obs = append(obs, t.payments(e, asOf)...)
		obs = append(obs, t.collateral(e, asOf)...)
		if o, ok := t.settlement(e); ok {
			obs = append(obs, o)
		}
	}
	if t.cfg.RegulatoryReports {
		obs = append(obs, t.reports(exposures, asOf)...)
	}

	valid := obs[:0]
	for _, o := range obs {
		if o.Horizon == "" {
			o.Horizon = models.HorizonFor(o.DueDate, asOf)
		}
		if o.Validate() == nil {
			valid = append(valid, o)
		}
	}
	return models.GroupObligations(valid)
}

// --- Payments ---

func (t *Tracker) payments(e models.SwapExposure, asOf time.Time) []models.Obligation {
	if e.Matured(asOf) {
		return nil
	}
	if !e.PaymentFrequency.Known() || e.EffectiveDate.IsZero() {
		return t.unscheduledPayment(e)
	}

	freq := int(e.PaymentFrequency)
	amount := t.periodAmount(e)
	windowEnd := utils.AddMonths(asOf, t.cfg.HorizonMonths)
	start := utils.DateOnly(e.EffectiveDate)
	maturity := utils.DateOnly(e.MaturityDate)

	var out []models.Obligation
	for k := 0; len(out) < t.cfg.MaxOccurrences; k++ {
		periodStart := utils.AddMonths(start, k*freq)
		if !e.MaturityDate.IsZero() && !periodStart.Before(maturity) {
			break
		}
		periodEnd := utils.AddMonths(start, (k+1)*freq)
		if !e.MaturityDate.IsZero() && periodEnd.After(maturity) {
			periodEnd = maturity
		}
		// Periods that ended on or before asOf are history, not obligations.
		if !periodEnd.After(asOf) {
			continue
		}
		due := periodStart
		if t.cfg.Timing == TimingArrears {
			due = periodEnd
		}
		if due.After(windowEnd) {
			break
		}

		status := models.StatusPending
		if !e.LastPaymentDate.IsZero() && !utils.DateOnly(e.LastPaymentDate).Before(due) {
			status = models.StatusSatisfied
		}
		out = append(out, models.Obligation{
			ID:           models.StableID("obligation", string(models.ObligationPayment), e.ID, utils.FormatDate(due)),
			Type:         models.ObligationPayment,
			Counterparty: e.Counterparty,
			ExposureID:   e.ID,
			Amount:       amount,
			Currency:     e.Currency,
			DueDate:      due,
			RecursUntil:  e.MaturityDate,
			Frequency:    e.PaymentFrequency.Tenor(),
			Status:       status,
			Description:  t.paymentDescription(e, periodStart, periodEnd),
		})
	}
	return out
}

// periodAmount is notional × annual rate × months/12. Fixed legs use the
// contract rate, everything else the configured floating estimate.
func (t *Tracker) periodAmount(e models.SwapExposure) decimal.Decimal {
	rate := e.FixedRate.Abs()
	if rate.IsZero() {
		rate = t.cfg.FloatingRateEstimate
	}
	fraction := decimal.NewFromInt(int64(e.PaymentFrequency)).Div(decimal.NewFromInt(12))
	return e.Notional.Mul(rate).Mul(fraction).Round(2)
}

func (t *Tracker) paymentDescription(e models.SwapExposure, from, to time.Time) string {
	leg := "floating leg (estimated)"
	if !e.FixedRate.IsZero() {
		leg = "fixed leg at " + utils.FormatPct(e.FixedRate)
	}
	return fmt.Sprintf("%s payment for %s to %s with %s", leg,
		utils.FormatDate(from), utils.FormatDate(to), e.Counterparty.Name)
}

// unscheduledPayment records a payment duty whose cadence cannot be
// determined. The maturity stands in as the due date; without one there is
// nothing to record.
func (t *Tracker) unscheduledPayment(e models.SwapExposure) []models.Obligation {
	if e.MaturityDate.IsZero() {
		return nil
	}
	return []models.Obligation{{
		ID:           models.StableID("obligation", string(models.ObligationPayment), e.ID, "unscheduled"),
		Type:         models.ObligationPayment,
		Counterparty: e.Counterparty,
		ExposureID:   e.ID,
		Amount:       decimal.Zero,
		Currency:     e.Currency,
		DueDate:      utils.DateOnly(e.MaturityDate),
		RecursUntil:  e.MaturityDate,
		Status:       models.StatusPending,
		Horizon:      models.HorizonUnscheduled,
		Description:  "payment cadence unknown; amounts not estimated",
	}}
}

// --- Collateral ---

func (t *Tracker) marginFactor(ac models.AssetClass) decimal.Decimal {
	if f, ok := t.cfg.MarginFactors[ac]; ok {
		return f
	}
	return t.cfg.DefaultMarginFactor
}

func (t *Tracker) collateral(e models.SwapExposure, asOf time.Time) []models.Obligation {
	if e.Matured(asOf) {
		return nil
	}
	var out []models.Obligation

	amount := e.BaseNotional.Mul(t.marginFactor(e.AssetClass)).Round(2)
	desc := fmt.Sprintf("initial margin approximated at %s of notional", utils.FormatPct(t.marginFactor(e.AssetClass)))
	switch {
	case e.Cleared && e.CCPMarginKnown:
		amount = e.CCPMargin.Abs()
		desc = "initial margin reported by the clearing house"
	case e.Cleared:
		desc = "cleared; " + desc
	}
	due := asOf
	if e.EffectiveDate.After(asOf) {
		due = utils.DateOnly(e.EffectiveDate)
	}
	status := models.StatusPending
	if e.CollateralKnown && e.CollateralPosted.GreaterThanOrEqual(amount) {
		status = models.StatusSatisfied
	}
	out = append(out, models.Obligation{
		ID:           models.StableID("obligation", string(models.ObligationInitialMargin), e.ID),
		Type:         models.ObligationInitialMargin,
		Counterparty: e.Counterparty,
		ExposureID:   e.ID,
		Amount:       amount,
		Currency:     t.cfg.Currency,
		DueDate:      due,
		RecursUntil:  e.MaturityDate,
		Status:       status,
		Description:  desc,
	})

	if e.MarkToMarket.IsNegative() {
		out = append(out, models.Obligation{
			ID:           models.StableID("obligation", string(models.ObligationVariationMargin), e.ID),
			Type:         models.ObligationVariationMargin,
			Counterparty: e.Counterparty,
			ExposureID:   e.ID,
			Amount:       e.MarkToMarket.Abs(),
			Currency:     t.cfg.Currency,
			DueDate:      utils.NextBusinessDay(asOf),
			Status:       models.StatusPending,
			Description:  "variation margin on negative mark-to-market",
		})
	}
	return out
}

// --- Settlement ---

func (t *Tracker) settlement(e models.SwapExposure) (models.Obligation, bool) {
	if e.Cleared || e.MaturityDate.IsZero() {
		return models.Obligation{}, false
	}
	status := models.StatusPending
	if e.Settled {
		status = models.StatusSatisfied
	}
	return models.Obligation{
		ID:           models.StableID("obligation", string(models.ObligationSettlement), e.ID),
		Type:         models.ObligationSettlement,
		Counterparty: e.Counterparty,
		ExposureID:   e.ID,
		Amount:       e.MarkToMarket.Abs(),
		Currency:     t.cfg.Currency,
		DueDate:      utils.DateOnly(e.MaturityDate),
		Status:       status,
		Description:  "final settlement at maturity",
	}, true
}

// --- Regulatory reporting ---

func (t *Tracker) reports(exposures []models.SwapExposure, asOf time.Time) []models.Obligation {
	lastMaturity := make(map[models.SourceKind]time.Time)
	for _, e := range exposures {
		if cur, ok := lastMaturity[e.Source]; !ok || e.MaturityDate.After(cur) {
			lastMaturity[e.Source] = e.MaturityDate
		}
	}
	kinds := make([]models.SourceKind, 0, len(lastMaturity))
	for k := range lastMaturity {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	var out []models.Obligation
	for _, kind := range kinds {
		due, freq, desc := reportSchedule(kind, asOf)
		if due.IsZero() {
			continue
		}
		out = append(out, models.Obligation{
			ID:          models.StableID("obligation", string(models.ObligationRegulatoryReport), string(kind)),
			Type:        models.ObligationRegulatoryReport,
			Amount:      decimal.Zero,
			DueDate:     due,
			RecursUntil: lastMaturity[kind],
			Frequency:   freq,
			Status:      models.StatusPending,
			Description: desc,
		})
	}
	return out
}

// reportSchedule returns the next reporting deadline on or after asOf.
func reportSchedule(kind models.SourceKind, asOf time.Time) (time.Time, string, string) {
	switch kind {
	case models.SourceCFTC, models.SourceDTCC:
		return utils.NextBusinessDay(asOf), "1D", "daily swap data repository reporting (" + string(kind) + ")"
	case models.SourceSECFiling:
		due := utils.QuarterEnd(utils.AddMonths(asOf, -3)).AddDate(0, 0, 45)
		if due.Before(asOf) {
			due = utils.QuarterEnd(asOf).AddDate(0, 0, 45)
		}
		return due, "3M", "quarterly derivative disclosure in periodic filing"
	case models.SourceFundDerivative:
		prevMonthEnd := time.Date(asOf.Year(), asOf.Month(), 0, 0, 0, 0, 0, time.UTC)
		due := prevMonthEnd.AddDate(0, 0, 30)
		if due.Before(asOf) {
			monthEnd := time.Date(asOf.Year(), asOf.Month()+1, 0, 0, 0, 0, 0, time.UTC)
			due = monthEnd.AddDate(0, 0, 30)
		}
		return due, "1M", "monthly fund portfolio holdings report"
	default:
		return time.Time{}, "", ""
	}
}
