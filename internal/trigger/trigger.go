// Package trigger scans aggregated exposures and counterparty credit state
// for actionable risk conditions.
package trigger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/internal/credit"
	"github.com/seenimoa/gamecock/pkg/models"
	"github.com/seenimoa/gamecock/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Configuration
// ════════════════════════════════════════════════════════════════════

// MarginBands grade a margin shortfall as a fraction of the counterparty's
// gross notional. Shortfalls below Medium are low severity.
type MarginBands struct {
	Medium   decimal.Decimal
	High     decimal.Decimal
	Critical decimal.Decimal
}

// Config holds every threshold the detector applies.
type Config struct {
	ConcentrationMedium decimal.Decimal // share of total gross (default: 0.15)
	ConcentrationHigh   decimal.Decimal // default: 0.30
	RatingThreshold     credit.Rating   // first sub-critical rating (default: BB+)
	// CDSWarningBps is the 5y CDS spread that counts as an early warning
	// (default: 1000). Zero disables the signal.
	CDSWarningBps decimal.Decimal
	DefaultShock        decimal.Decimal // fractional move on net notional (default: 0.01 = 100bp)
	Shocks              map[models.AssetClass]decimal.Decimal
	MarginBands         MarginBands
	// AssumeZeroCollateral runs the margin check for counterparties with no
	// reported collateral instead of skipping them.
	AssumeZeroCollateral bool
	Currency             string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	threshold, _ := credit.ParseRating("BB+")
	return Config{
		ConcentrationMedium: decimal.NewFromFloat(0.15),
		ConcentrationHigh:   decimal.NewFromFloat(0.30),
		RatingThreshold:     threshold,
		CDSWarningBps:       decimal.NewFromInt(1000),
		DefaultShock:        decimal.NewFromFloat(0.01),
		MarginBands: MarginBands{
			Medium:   decimal.NewFromFloat(0.0025),
			High:     decimal.NewFromFloat(0.005),
			Critical: decimal.NewFromFloat(0.01),
		},
		Currency: "USD",
	}
}

func (c Config) shock(ac models.AssetClass) decimal.Decimal {
	if s, ok := c.Shocks[ac]; ok {
		return s
	}
	return c.DefaultShock
}

// ════════════════════════════════════════════════════════════════════
// Detector
// ════════════════════════════════════════════════════════════════════

// Detector is a pure function of its inputs; it is safe for concurrent use.
type Detector struct {
	cfg Config
}

// New creates a Detector.
func New(cfg Config) *Detector {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Detector{cfg: cfg}
}

// counterparty is one counterparty's slice of the exposure set.
type counterparty struct {
	ref        models.EntityRef
	exposures  []models.SwapExposure
	gross      decimal.Decimal
	collateral decimal.Decimal
	collKnown  bool
	netMTM     decimal.Decimal
	mtmKnown   bool
}

// Detect evaluates every check for every counterparty. Checks are
// independent and non-exclusive; the result is sorted by severity
// (highest first), then type, counterparty and ID. A counterparty missing
// from states skips only the credit-based checks.
func (d *Detector) Detect(exposures []models.SwapExposure, states map[string]models.CreditState, asOf time.Time) []models.RiskTrigger {
	groups, total := group(exposures)
	out := []models.RiskTrigger{}
	for _, cp := range groups {
		if t, ok := d.concentration(cp, total); ok {
			out = append(out, t)
		}
		if t, ok := d.marginCall(cp); ok {
			out = append(out, t)
		}
		if t, ok := d.termination(cp, asOf); ok {
			out = append(out, t)
		}
		state, known := states[cp.ref.Key]
		if !known {
			continue
		}
		if t, ok := d.downgradeProximity(cp, state); ok {
			out = append(out, t)
		}
		if t, ok := d.thresholdBreach(cp, state); ok {
			out = append(out, t)
		}
	}
	models.SortTriggers(out)
	return out
}

func group(exposures []models.SwapExposure) ([]*counterparty, decimal.Decimal) {
	byKey := make(map[string]*counterparty)
	total := decimal.Zero
	for _, e := range exposures {
		cp, ok := byKey[e.Counterparty.Key]
		if !ok {
			cp = &counterparty{ref: e.Counterparty}
			byKey[e.Counterparty.Key] = cp
		}
		cp.exposures = append(cp.exposures, e)
		cp.gross = cp.gross.Add(e.BaseNotional)
		total = total.Add(e.BaseNotional)
		if e.CollateralKnown {
			cp.collateral = cp.collateral.Add(e.CollateralPosted)
			cp.collKnown = true
		}
		if !e.MarkToMarket.IsZero() {
			cp.netMTM = cp.netMTM.Add(e.MarkToMarket)
			cp.mtmKnown = true
		}
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]*counterparty, len(keys))
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out, total
}

func newTrigger(typ models.TriggerType, sev models.Severity, cp *counterparty, desc string, metrics map[string]decimal.Decimal) models.RiskTrigger {
	return models.RiskTrigger{
		ID:           models.StableID("trigger", string(typ), cp.ref.Key),
		Type:         typ,
		Severity:     sev,
		Counterparty: cp.ref,
		Description:  desc,
		Metrics:      metrics,
	}
}

func exposureIDs(es []models.SwapExposure) []string {
	ids := make([]string, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	slices.Sort(ids)
	return ids
}

// --- Concentration ---

func (d *Detector) concentration(cp *counterparty, total decimal.Decimal) (models.RiskTrigger, bool) {
	if !total.IsPositive() {
		return models.RiskTrigger{}, false
	}
	share := cp.gross.Div(total)
	var sev models.Severity
	switch {
	case share.GreaterThan(d.cfg.ConcentrationHigh):
		sev = models.SeverityHigh
	case share.GreaterThan(d.cfg.ConcentrationMedium):
		sev = models.SeverityMedium
	default:
		return models.RiskTrigger{}, false
	}
	desc := fmt.Sprintf("%s holds %s of gross notional (%s of %s)", cp.ref.Name,
		utils.FormatPct(share), utils.FormatCompact(cp.gross, d.cfg.Currency), utils.FormatCompact(total, d.cfg.Currency))
	return newTrigger(models.TriggerConcentration, sev, cp, desc, map[string]decimal.Decimal{
		"gross":       cp.gross,
		"total_gross": total,
		"share":       share.Round(6),
	}), true
}

// --- Downgrade proximity ---

// earlyWarnings lists the negative credit signals in state: a negative
// outlook, a negative watch or review, and a CDS spread past the warning
// level. Explicit state fields win over rating decorations.
func (d *Detector) earlyWarnings(r credit.Rating, state models.CreditState) (signals []string, metrics map[string]decimal.Decimal) {
	metrics = make(map[string]decimal.Decimal)
	outlook := credit.ParseDirection(state.Outlook)
	if outlook == credit.DirNone {
		outlook = r.Outlook
	}
	watch := credit.ParseDirection(state.Watch)
	if watch == credit.DirNone {
		watch = r.Watch
	}
	if outlook == credit.DirNegative {
		signals = append(signals, "negative outlook")
		metrics["negative_outlook"] = decimal.NewFromInt(1)
	}
	if watch == credit.DirNegative {
		signals = append(signals, "on negative watch")
		metrics["negative_watch"] = decimal.NewFromInt(1)
	}
	if state.CDSKnown && d.cfg.CDSWarningBps.IsPositive() && state.CDSSpreadBps.GreaterThan(d.cfg.CDSWarningBps) {
		signals = append(signals, fmt.Sprintf("5y CDS at %sbp above %sbp",
			state.CDSSpreadBps.StringFixed(0), d.cfg.CDSWarningBps.StringFixed(0)))
		metrics["cds_warning_bps"] = d.cfg.CDSWarningBps
	}
	return signals, metrics
}

// downgradeProximity grades ratings one or two notches above the threshold.
// Any early-warning signal raises the severity one step.
func (d *Detector) downgradeProximity(cp *counterparty, state models.CreditState) (models.RiskTrigger, bool) {
	if state.Rating == "" {
		return models.RiskTrigger{}, false
	}
	r, err := credit.ParseRating(state.Rating)
	if err != nil {
		return models.RiskTrigger{}, false
	}
	notches := r.NotchesAbove(d.cfg.RatingThreshold)
	var sev models.Severity
	switch notches {
	case 1:
		sev = models.SeverityHigh
	case 2:
		sev = models.SeverityMedium
	default:
		return models.RiskTrigger{}, false
	}
	signals, metrics := d.earlyWarnings(r, state)
	if len(signals) > 0 {
		sev = raise(sev)
	}

	desc := fmt.Sprintf("%s is rated %s, %d notch(es) above %s", cp.ref.Name, r.Symbol, notches, d.cfg.RatingThreshold.Symbol)
	if n := len(state.RecentChanges); n > 0 {
		last := state.RecentChanges[0]
		desc += fmt.Sprintf("; last change %s -> %s", last.From, last.To)
		if !last.Date.IsZero() {
			desc += " on " + utils.FormatDate(last.Date)
		}
	}
	if len(signals) > 0 {
		desc += "; early warning: " + strings.Join(signals, ", ")
	}
	metrics["notches_above_threshold"] = decimal.NewFromInt(int64(notches))
	if state.CDSKnown {
		metrics["cds_spread_bps"] = state.CDSSpreadBps
	}
	return newTrigger(models.TriggerRatingDowngradeProximity, sev, cp, desc, metrics), true
}

func raise(s models.Severity) models.Severity {
	switch s {
	case models.SeverityLow:
		return models.SeverityMedium
	case models.SeverityMedium:
		return models.SeverityHigh
	}
	return models.SeverityCritical
}

// --- Margin call ---

// stressedLoss shocks the net signed notional of each asset class bucket.
func (d *Detector) stressedLoss(cp *counterparty) decimal.Decimal {
	net := make(map[models.AssetClass]decimal.Decimal)
	for _, e := range cp.exposures {
		net[e.AssetClass] = net[e.AssetClass].Add(e.SignedBase())
	}
	loss := decimal.Zero
	for _, ac := range models.AllAssetClasses() {
		if n, ok := net[ac]; ok {
			loss = loss.Add(n.Abs().Mul(d.cfg.shock(ac)))
		}
	}
	return loss
}

func (d *Detector) marginCall(cp *counterparty) (models.RiskTrigger, bool) {
	if !cp.collKnown && !d.cfg.AssumeZeroCollateral {
		return models.RiskTrigger{}, false
	}
	loss := d.stressedLoss(cp)
	shortfall := loss.Sub(cp.collateral)
	if !shortfall.IsPositive() || !cp.gross.IsPositive() {
		return models.RiskTrigger{}, false
	}
	ratio := shortfall.Div(cp.gross)
	b := d.cfg.MarginBands
	sev := models.SeverityLow
	switch {
	case ratio.GreaterThanOrEqual(b.Critical):
		sev = models.SeverityCritical
	case ratio.GreaterThanOrEqual(b.High):
		sev = models.SeverityHigh
	case ratio.GreaterThanOrEqual(b.Medium):
		sev = models.SeverityMedium
	}
	desc := fmt.Sprintf("stressed loss of %s against %s posted collateral leaves a %s shortfall with %s",
		utils.FormatCompact(loss, d.cfg.Currency), utils.FormatCompact(cp.collateral, d.cfg.Currency),
		utils.FormatCompact(shortfall, d.cfg.Currency), cp.ref.Name)
	return newTrigger(models.TriggerMarginCall, sev, cp, desc, map[string]decimal.Decimal{
		"stressed_loss":      loss,
		"collateral_posted":  cp.collateral,
		"shortfall":          shortfall,
		"shortfall_to_gross": ratio.Round(6),
	}), true
}

// --- Collateral threshold breach ---

func (d *Detector) thresholdBreach(cp *counterparty, state models.CreditState) (models.RiskTrigger, bool) {
	if !state.CSAThresholdKnown || !cp.mtmKnown {
		return models.RiskTrigger{}, false
	}
	uncollateralized := cp.netMTM.Abs().Sub(cp.collateral)
	threshold := state.CSAThreshold
	if !uncollateralized.GreaterThan(threshold) {
		return models.RiskTrigger{}, false
	}
	sev := models.SeverityHigh
	if threshold.IsPositive() && uncollateralized.GreaterThanOrEqual(threshold.Mul(decimal.NewFromInt(2))) {
		sev = models.SeverityCritical
	}
	desc := fmt.Sprintf("uncollateralized mark of %s with %s exceeds the %s CSA threshold",
		utils.FormatCompact(uncollateralized, d.cfg.Currency), cp.ref.Name, utils.FormatCompact(threshold, d.cfg.Currency))
	return newTrigger(models.TriggerCollateralThresholdBreach, sev, cp, desc, map[string]decimal.Decimal{
		"net_mtm":           cp.netMTM,
		"collateral_posted": cp.collateral,
		"uncollateralized":  uncollateralized,
		"csa_threshold":     threshold,
	}), true
}

// --- Termination event ---

func (d *Detector) termination(cp *counterparty, asOf time.Time) (models.RiskTrigger, bool) {
	var stale []models.SwapExposure
	notional := decimal.Zero
	for _, e := range cp.exposures {
		if e.Matured(asOf) && !e.Settled {
			stale = append(stale, e)
			notional = notional.Add(e.BaseNotional)
		}
	}
	if len(stale) == 0 {
		return models.RiskTrigger{}, false
	}
	desc := fmt.Sprintf("%d position(s) with %s matured without a recorded settlement (%s notional)",
		len(stale), cp.ref.Name, utils.FormatCompact(notional, d.cfg.Currency))
	t := newTrigger(models.TriggerTerminationEvent, models.SeverityCritical, cp, desc, map[string]decimal.Decimal{
		"positions": decimal.NewFromInt(int64(len(stale))),
		"notional":  notional,
	})
	t.ExposureIDs = exposureIDs(stale)
	return t, true
}
