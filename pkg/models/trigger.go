package models

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TriggerType is the kind of actionable risk condition.
type TriggerType string

const (
	TriggerConcentration             TriggerType = "concentration"
	TriggerMarginCall                TriggerType = "margin_call"
	TriggerTerminationEvent          TriggerType = "termination_event"
	TriggerCollateralThresholdBreach TriggerType = "collateral_threshold_breach"
	TriggerRatingDowngradeProximity  TriggerType = "rating_downgrade_proximity"
)

// Severity grades a trigger.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; higher is worse. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// RiskTrigger is a detected actionable condition for one counterparty.
type RiskTrigger struct {
	ID           string                     `json:"id"`
	Type         TriggerType                `json:"type"`
	Severity     Severity                   `json:"severity"`
	Counterparty EntityRef                  `json:"counterparty"`
	Description  string                     `json:"description"`
	Metrics      map[string]decimal.Decimal `json:"metrics,omitempty"`
	ExposureIDs  []string                   `json:"exposure_ids,omitempty"`
}

// SortTriggers orders triggers by severity descending, then type,
// counterparty key and ID, so equal inputs always render identically.
func SortTriggers(ts []RiskTrigger) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Counterparty.Key != b.Counterparty.Key {
			return a.Counterparty.Key < b.Counterparty.Key
		}
		return a.ID < b.ID
	})
}
