package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ObligationType is the kind of forward duty.
type ObligationType string

const (
	ObligationPayment          ObligationType = "payment"
	ObligationInitialMargin    ObligationType = "initial_margin"
	ObligationVariationMargin  ObligationType = "variation_margin"
	ObligationSettlement       ObligationType = "settlement"
	ObligationRegulatoryReport ObligationType = "regulatory_report"
)

// ObligationStatus is best-effort: satisfaction depends on source freshness.
type ObligationStatus string

const (
	StatusPending   ObligationStatus = "pending"
	StatusSatisfied ObligationStatus = "satisfied"
)

// Horizon buckets obligations by time to due date.
type Horizon string

const (
	HorizonNearTerm    Horizon = "near_term"   // <= 30 days, including past due
	HorizonMediumTerm  Horizon = "medium_term" // 31-180 days
	HorizonLongTerm    Horizon = "long_term"   // > 180 days
	HorizonUnscheduled Horizon = "unscheduled" // no determinable due date
)

// Obligation is a forward payment, collateral, settlement or reporting duty.
type Obligation struct {
	ID           string           `json:"id"`
	Type         ObligationType   `json:"type"`
	Counterparty EntityRef        `json:"counterparty,omitzero"`
	ExposureID   string           `json:"exposure_id,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     string           `json:"currency,omitempty"`
	DueDate      time.Time        `json:"due_date,omitzero"`
	RecursUntil  time.Time        `json:"recurs_until,omitzero"`
	Frequency    string           `json:"frequency,omitempty"`
	Status       ObligationStatus `json:"status"`
	Horizon      Horizon          `json:"horizon"`
	Description  string           `json:"description,omitempty"`
}

// ErrMissingDueDate is returned for payment/settlement obligations without a due date.
var ErrMissingDueDate = errors.New("obligation requires a due date")

// ErrNegativeAmount is returned for obligations with a negative amount.
var ErrNegativeAmount = errors.New("obligation amount must be non-negative")

// Validate checks the obligation invariants.
func (o Obligation) Validate() error {
	if o.Amount.IsNegative() {
		return fmt.Errorf("obligation %s: %w", o.ID, ErrNegativeAmount)
	}
	if (o.Type == ObligationPayment || o.Type == ObligationSettlement) && o.DueDate.IsZero() {
		return fmt.Errorf("obligation %s: %w", o.ID, ErrMissingDueDate)
	}
	return nil
}

// HorizonFor buckets a due date relative to asOf.
func HorizonFor(due, asOf time.Time) Horizon {
	if due.IsZero() {
		return HorizonUnscheduled
	}
	days := int(due.Sub(asOf).Hours() / 24)
	switch {
	case days <= 30:
		return HorizonNearTerm
	case days <= 180:
		return HorizonMediumTerm
	default:
		return HorizonLongTerm
	}
}

// ObligationSchedule groups obligations by horizon.
type ObligationSchedule struct {
	NearTerm    []Obligation `json:"near_term"`
	MediumTerm  []Obligation `json:"medium_term"`
	LongTerm    []Obligation `json:"long_term"`
	Unscheduled []Obligation `json:"unscheduled"`
}

// GroupObligations sorts obligations (due date, type, ID; undated last)
// and splits them by their Horizon.
func GroupObligations(obs []Obligation) ObligationSchedule {
	sorted := make([]Obligation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.DueDate.Equal(b.DueDate) {
			if a.DueDate.IsZero() {
				return false
			}
			if b.DueDate.IsZero() {
				return true
			}
			return a.DueDate.Before(b.DueDate)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})

	s := ObligationSchedule{
		NearTerm:    []Obligation{},
		MediumTerm:  []Obligation{},
		LongTerm:    []Obligation{},
		Unscheduled: []Obligation{},
	}
	for _, o := range sorted {
		switch o.Horizon {
		case HorizonNearTerm:
			s.NearTerm = append(s.NearTerm, o)
		case HorizonMediumTerm:
			s.MediumTerm = append(s.MediumTerm, o)
		case HorizonLongTerm:
			s.LongTerm = append(s.LongTerm, o)
		default:
			s.Unscheduled = append(s.Unscheduled, o)
		}
	}
	return s
}

// All returns every obligation, near-term first.
func (s ObligationSchedule) All() []Obligation {
	out := make([]Obligation, 0, s.Count())
	out = append(out, s.NearTerm...)
	out = append(out, s.MediumTerm...)
	out = append(out, s.LongTerm...)
	out = append(out, s.Unscheduled...)
	return out
}

// Count returns the total number of obligations.
func (s ObligationSchedule) Count() int {
	return len(s.NearTerm) + len(s.MediumTerm) + len(s.LongTerm) + len(s.Unscheduled)
}
