package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// --- Coverage ---

// CoverageStatus flags whether every configured source answered.
type CoverageStatus string

const (
	CoverageComplete CoverageStatus = "complete"
	CoveragePartial  CoverageStatus = "partial"
)

// SourceFailure records a source that could not be queried.
type SourceFailure struct {
	Source SourceKind `json:"source"`
	Error  string     `json:"error"`
	At     time.Time  `json:"at"`
}

// Coverage describes how complete an aggregation was.
type Coverage struct {
	Status                CoverageStatus  `json:"status"`
	Sources               []SourceKind    `json:"sources"`
	Unavailable           []SourceFailure `json:"unavailable,omitempty"`
	SkippedRows           int             `json:"skipped_rows,omitempty"`
	DuplicatesDropped     int             `json:"duplicates_dropped,omitempty"`
	UnconvertedCurrencies []string        `json:"unconverted_currencies,omitempty"`
}

// Complete reports whether no source failed.
func (c Coverage) Complete() bool {
	return len(c.Unavailable) == 0
}

// UnavailableSources lists the failed source kinds.
func (c Coverage) UnavailableSources() []SourceKind {
	out := make([]SourceKind, len(c.Unavailable))
	for i, f := range c.Unavailable {
		out[i] = f.Source
	}
	return out
}

// --- Breakdown ---

// CounterpartyExposure is one counterparty's slice of the profile.
type CounterpartyExposure struct {
	Counterparty  EntityRef       `json:"counterparty"`
	Gross         decimal.Decimal `json:"gross"`
	Net           decimal.Decimal `json:"net"`
	Share         decimal.Decimal `json:"share"`
	ExposureCount int             `json:"exposure_count"`
	Rating        string          `json:"rating,omitempty"`
}

// AssetClassExposure is one asset class's slice of the profile.
type AssetClassExposure struct {
	AssetClass    AssetClass      `json:"asset_class"`
	Gross         decimal.Decimal `json:"gross"`
	Net           decimal.Decimal `json:"net"`
	ExposureCount int             `json:"exposure_count"`
}

// ConcentrationMetrics summarizes counterparty concentration.
type ConcentrationMetrics struct {
	CounterpartyCount int             `json:"counterparty_count"`
	TopCounterparty   EntityRef       `json:"top_counterparty,omitzero"`
	TopShare          decimal.Decimal `json:"top_share"`
	TopFiveShare      decimal.Decimal `json:"top_five_share"`
	HHI               decimal.Decimal `json:"hhi"`
}

// --- Profiles ---

// SinglePartyRiskProfile is the consolidated risk view of one entity.
// Built once per request; safe to serialize and cache by
// (Entity.Key, SnapshotVersion).
type SinglePartyRiskProfile struct {
	Entity          Entity                 `json:"entity"`
	Currency        string                 `json:"currency"`
	GrossExposure   decimal.Decimal        `json:"gross_exposure"`
	NetExposure     decimal.Decimal        `json:"net_exposure"`
	ExposureCount   int                    `json:"exposure_count"`
	ByCounterparty  []CounterpartyExposure `json:"by_counterparty"`
	ByAssetClass    []AssetClassExposure   `json:"by_asset_class"`
	Triggers        []RiskTrigger          `json:"triggers"`
	Obligations     ObligationSchedule     `json:"obligations"`
	Concentration   ConcentrationMetrics   `json:"concentration"`
	Coverage        Coverage               `json:"coverage"`
	Summary         string                 `json:"summary"`
	SnapshotVersion string                 `json:"snapshot_version"`
	AsOf            time.Time              `json:"as_of"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// TopCounterparties returns the n largest counterparties by share.
// ByCounterparty is kept sorted by gross descending, so this is a prefix.
func (p *SinglePartyRiskProfile) TopCounterparties(n int) []CounterpartyExposure {
	if n <= 0 || n >= len(p.ByCounterparty) {
		return p.ByCounterparty
	}
	return p.ByCounterparty[:n]
}

// Discrepancy is a gap between filing-disclosed and aggregated exposure.
type Discrepancy struct {
	Entity       EntityRef       `json:"entity"`
	FilingPeriod string          `json:"filing_period,omitempty"`
	Disclosed    decimal.Decimal `json:"disclosed"`
	Aggregated   decimal.Decimal `json:"aggregated"`
	Gap          decimal.Decimal `json:"gap"`
	RelativeGap  decimal.Decimal `json:"relative_gap"`
}

// CoverageNote records a member that could not be fully consolidated.
type CoverageNote struct {
	Entity EntityRef `json:"entity"`
	Reason string    `json:"reason"`
}

// ConsolidatedRiskProfile extends the single-party view across a parent and
// its subsidiaries.
type ConsolidatedRiskProfile struct {
	Root           Entity                   `json:"root"`
	Members        []Entity                 `json:"members"`
	Profiles       []SinglePartyRiskProfile `json:"profiles"`
	Currency       string                   `json:"currency"`
	GrossExposure  decimal.Decimal          `json:"gross_exposure"`
	NetExposure    decimal.Decimal          `json:"net_exposure"`
	ByCounterparty []CounterpartyExposure   `json:"by_counterparty"`
	Discrepancies  []Discrepancy            `json:"discrepancies"`
	Notes          []CoverageNote           `json:"notes,omitempty"`
	Coverage       CoverageStatus           `json:"coverage"`
	GeneratedAt    time.Time                `json:"generated_at"`
}
