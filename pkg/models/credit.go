package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatingChange is one entry of a counterparty's rating history.
type RatingChange struct {
	Agency string    `json:"agency,omitempty"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Date   time.Time `json:"date,omitzero"`
}

// CreditState is what the credit provider knows about a counterparty.
// Optional fields carry a Known flag so zero can be told apart from absent.
type CreditState struct {
	Rating            string          `json:"rating,omitempty"`
	Agency            string          `json:"agency,omitempty"`
	RatedAt           time.Time       `json:"rated_at,omitzero"`
	RecentChanges     []RatingChange  `json:"recent_changes,omitempty"`
	Outlook           string          `json:"outlook,omitempty"` // "negative", "stable", "positive", "developing"
	Watch             string          `json:"watch,omitempty"`   // watch or review direction; empty when not placed
	CDSSpreadBps      decimal.Decimal `json:"cds_spread_bps,omitzero"`
	CDSKnown          bool            `json:"cds_known,omitempty"`
	CSAThreshold      decimal.Decimal `json:"csa_threshold,omitzero"`
	CSAThresholdKnown bool            `json:"csa_threshold_known,omitempty"`
}
