package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// --- Sources ---

// SourceKind identifies the regulatory source a record came from.
type SourceKind string

const (
	SourceCFTC           SourceKind = "cftc"
	SourceDTCC           SourceKind = "dtcc"
	SourceSECFiling      SourceKind = "sec_filing"
	SourceFundDerivative SourceKind = "fund_derivative"
)

// AllSourceKinds returns the fixed set of supported sources in query order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{SourceCFTC, SourceDTCC, SourceSECFiling, SourceFundDerivative}
}

// ParseSourceKind parses a configured source name.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllSourceKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// TransactionLevel reports whether records from this source are trade-level
// reports (swap data repositories) rather than disclosure-derived.
func (k SourceKind) TransactionLevel() bool {
	return k == SourceCFTC || k == SourceDTCC
}

// --- Asset classes ---

// AssetClass is the broad derivative asset class.
type AssetClass string

const (
	AssetRates     AssetClass = "rates"
	AssetCredit    AssetClass = "credit"
	AssetEquity    AssetClass = "equity"
	AssetFX        AssetClass = "fx"
	AssetCommodity AssetClass = "commodity"
	AssetOther     AssetClass = "other"
)

// AllAssetClasses returns every asset class in display order.
func AllAssetClasses() []AssetClass {
	return []AssetClass{AssetRates, AssetCredit, AssetEquity, AssetFX, AssetCommodity, AssetOther}
}

// ClassifyAssetClass maps free-text asset class / product / category names
// from source tables onto an AssetClass. Credit and FX terms are checked
// before the generic "rate"/"swap" terms so "credit default swap" and
// "fx rate swap" do not land in rates.
func ClassifyAssetClass(texts ...string) AssetClass {
	combined := strings.ToLower(strings.Join(texts, " "))
	if strings.TrimSpace(combined) == "" {
		return AssetOther
	}
	switch {
	case containsAny(combined, "credit", "cds", "default"):
		return AssetCredit
	case containsAny(combined, "currency", "forex", "fx", "foreign exchange", "cross-currency"):
		return AssetFX
	case containsAny(combined, "equity", "stock", "share"):
		return AssetEquity
	case containsAny(combined, "commodity", "energy", "metal", "oil", "gas", "agricultur"):
		return AssetCommodity
	case containsAny(combined, "interest", "rate", "irs", "ois", "swaption", "inflation", "cpi"):
		return AssetRates
	default:
		return AssetOther
	}
}

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// --- Direction ---

// Direction is the reporting entity's side of a position.
type Direction string

const (
	DirectionPayFixed     Direction = "pay_fixed"
	DirectionReceiveFixed Direction = "receive_fixed"
	DirectionLong         Direction = "long"
	DirectionShort        Direction = "short"
)

// ParseDirection normalizes source direction strings. Anything unrecognized
// is treated as a generic long position.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pay_fixed", "pay fixed", "payer", "pay", "p":
		return DirectionPayFixed
	case "receive_fixed", "receive fixed", "receiver", "receive", "rec", "r":
		return DirectionReceiveFixed
	case "short", "sell", "seller", "s":
		return DirectionShort
	default:
		return DirectionLong
	}
}

// Sign returns +1 for receive-fixed/long and -1 for pay-fixed/short.
func (d Direction) Sign() int {
	switch d {
	case DirectionPayFixed, DirectionShort:
		return -1
	default:
		return 1
	}
}

// Mirror returns the direction seen from the other leg of the trade.
func (d Direction) Mirror() Direction {
	switch d {
	case DirectionPayFixed:
		return DirectionReceiveFixed
	case DirectionReceiveFixed:
		return DirectionPayFixed
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionShort
	}
}

// --- Payment frequency ---

// Frequency is a payment frequency in months. Zero means unscheduled.
type Frequency int

const (
	FreqUnscheduled Frequency = 0
	FreqMonthly     Frequency = 1
	FreqQuarterly   Frequency = 3
	FreqSemiAnnual  Frequency = 6
	FreqAnnual      Frequency = 12
)

// ParseFrequency accepts tenor codes ("3M", "1Y"), letter codes ("Q", "SA")
// and words ("quarterly"). Unknown input returns FreqUnscheduled.
func ParseFrequency(s string) Frequency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1M", "M", "MONTHLY", "MNTH":
		return FreqMonthly
	case "3M", "Q", "QUARTERLY", "QTR":
		return FreqQuarterly
	case "6M", "S", "SA", "SEMIANNUAL", "SEMI-ANNUAL", "SEMI":
		return FreqSemiAnnual
	case "12M", "1Y", "A", "ANNUAL", "YEARLY", "YEAR":
		return FreqAnnual
	default:
		return FreqUnscheduled
	}
}

// Known reports whether the frequency determines a cadence.
func (f Frequency) Known() bool { return f > 0 }

// Tenor renders the frequency as a tenor code ("3M", "1Y"), or "" when
// unscheduled.
func (f Frequency) Tenor() string {
	switch {
	case !f.Known():
		return ""
	case f%12 == 0:
		return fmt.Sprintf("%dY", f/12)
	default:
		return fmt.Sprintf("%dM", f)
	}
}

// --- Exposure ---

// SwapExposure is one normalized derivative position or transaction as seen
// from the reporting entity. It is a view over source rows, built fresh on
// every aggregation and never mutated afterwards.
//
// Notional is in the trade Currency. BaseNotional, MarkToMarket,
// CollateralPosted and CCPMargin are in the reporting currency once the
// aggregator has converted them.
type SwapExposure struct {
	ID               string          `json:"id"`
	Source           SourceKind      `json:"source"`
	RecordID         string          `json:"record_id"`
	AssetClass       AssetClass      `json:"asset_class"`
	Product          string          `json:"product,omitempty"`
	Counterparty     EntityRef       `json:"counterparty"`
	Notional         decimal.Decimal `json:"notional"`
	Currency         string          `json:"currency"`
	BaseNotional     decimal.Decimal `json:"base_notional"`
	EffectiveDate    time.Time       `json:"effective_date,omitzero"`
	MaturityDate     time.Time       `json:"maturity_date,omitzero"`
	Direction        Direction       `json:"direction"`
	Cleared          bool            `json:"cleared"`
	PaymentFrequency Frequency       `json:"payment_frequency,omitempty"`
	FixedRate        decimal.Decimal `json:"fixed_rate,omitzero"`
	MarkToMarket     decimal.Decimal `json:"mark_to_market,omitzero"`
	CollateralPosted decimal.Decimal `json:"collateral_posted,omitzero"`
	CollateralKnown  bool            `json:"collateral_known"`
	CCPMargin        decimal.Decimal `json:"ccp_margin,omitzero"`
	CCPMarginKnown   bool            `json:"ccp_margin_known,omitempty"`
	LastPaymentDate  time.Time       `json:"last_payment_date,omitzero"`
	Settled          bool            `json:"settled"`
	FilingReference  string          `json:"filing_reference,omitempty"`
}

// Validation errors.
var (
	ErrNegativeNotional    = errors.New("notional must be non-negative")
	ErrMaturityBeforeStart = errors.New("maturity precedes effective date")
	ErrMissingCounterparty = errors.New("exposure has no counterparty")
)

// Validate checks the exposure invariants.
func (e SwapExposure) Validate() error {
	if e.Notional.IsNegative() || e.BaseNotional.IsNegative() {
		return fmt.Errorf("exposure %s: %w", e.ID, ErrNegativeNotional)
	}
	if !e.EffectiveDate.IsZero() && !e.MaturityDate.IsZero() && e.MaturityDate.Before(e.EffectiveDate) {
		return fmt.Errorf("exposure %s: %w", e.ID, ErrMaturityBeforeStart)
	}
	if e.Counterparty.IsZero() {
		return fmt.Errorf("exposure %s: %w", e.ID, ErrMissingCounterparty)
	}
	return nil
}

// SignedBase returns the reporting-currency notional signed by direction.
func (e SwapExposure) SignedBase() decimal.Decimal {
	if e.Direction.Sign() < 0 {
		return e.BaseNotional.Neg()
	}
	return e.BaseNotional
}

// Overlaps reports whether two exposures' effective/maturity windows
// intersect. A missing bound is treated as open-ended.
func (e SwapExposure) Overlaps(o SwapExposure) bool {
	if !e.MaturityDate.IsZero() && !o.EffectiveDate.IsZero() && e.MaturityDate.Before(o.EffectiveDate) {
		return false
	}
	if !o.MaturityDate.IsZero() && !e.EffectiveDate.IsZero() && o.MaturityDate.Before(e.EffectiveDate) {
		return false
	}
	return true
}

// Matured reports whether the exposure's maturity is before asOf.
func (e SwapExposure) Matured(asOf time.Time) bool {
	return !e.MaturityDate.IsZero() && e.MaturityDate.Before(asOf)
}
