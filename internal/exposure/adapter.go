// Package exposure aggregates swap and derivative records for one entity
// across every configured regulatory source and normalizes them into
// models.SwapExposure values.
package exposure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/pkg/models"
)

// Adapter normalizes one source's raw rows. Every SourceKind has exactly one
// adapter; see AdapterFor.
type Adapter interface {
	Kind() models.SourceKind
	Normalize(subject models.Entity, raw store.RawRow) (models.SwapExposure, error)
}

// Normalization errors. Rows failing with these are skipped, not fatal.
var (
	ErrMissingRecordID = errors.New("row has no record id")
	ErrMissingNotional = errors.New("row has no notional")
	ErrUnrelatedRow    = errors.New("row does not reference the subject entity")
)

// AdapterFor returns the adapter for a source kind.
func AdapterFor(kind models.SourceKind) (Adapter, error) {
	switch kind {
	case models.SourceCFTC, models.SourceDTCC:
		return repositoryAdapter{kind: kind}, nil
	case models.SourceSECFiling:
		return filingAdapter{}, nil
	case models.SourceFundDerivative:
		return fundAdapter{}, nil
	default:
		return nil, fmt.Errorf("exposure: no adapter for source %q", kind)
	}
}

// --- Swap data repositories (CFTC, DTCC) ---

type repositoryAdapter struct{ kind models.SourceKind }

func (a repositoryAdapter) Kind() models.SourceKind { return a.kind }

func (a repositoryAdapter) Normalize(subject models.Entity, raw store.RawRow) (models.SwapExposure, error) {
	return normalize(a.kind, subject, raw, func(r store.RawRow) (decimal.Decimal, bool, error) {
		return r.Decimal("mark_to_market")
	})
}

// --- 10-K derivative disclosures ---

type filingAdapter struct{}

func (filingAdapter) Kind() models.SourceKind { return models.SourceSECFiling }

func (filingAdapter) Normalize(subject models.Entity, raw store.RawRow) (models.SwapExposure, error) {
	return normalize(models.SourceSECFiling, subject, raw, func(r store.RawRow) (decimal.Decimal, bool, error) {
		return r.Decimal("mark_to_market")
	})
}

// --- N-PORT fund derivatives ---

type fundAdapter struct{}

func (fundAdapter) Kind() models.SourceKind { return models.SourceFundDerivative }

// N-PORT reports no mark directly; it is appreciation minus depreciation.
func (fundAdapter) Normalize(subject models.Entity, raw store.RawRow) (models.SwapExposure, error) {
	return normalize(models.SourceFundDerivative, subject, raw, func(r store.RawRow) (decimal.Decimal, bool, error) {
		app, okA, err := r.Decimal("unrealized_appreciation")
		if err != nil {
			return decimal.Zero, false, err
		}
		dep, okD, err := r.Decimal("unrealized_depreciation")
		if err != nil {
			return decimal.Zero, false, err
		}
		return app.Sub(dep.Abs()), okA || okD, nil
	})
}

// --- Shared normalization ---

type markFunc func(store.RawRow) (decimal.Decimal, bool, error)

type leg struct {
	id, name, key string
}

func readLeg(raw store.RawRow, prefix string) leg {
	return leg{
		id:   raw.String(prefix + "_id"),
		name: raw.String(prefix + "_name"),
		key:  raw.String(prefix + "_key"),
	}
}

func (l leg) is(subject models.Entity, ids map[string]bool) bool {
	if l.key != "" && l.key == subject.Key {
		return true
	}
	return l.id != "" && ids[strings.ToUpper(l.id)]
}

// ref names the other side of the trade. Unregistered parties get a key
// derived from their source identifier or, failing that, their name.
func (l leg) ref() models.EntityRef {
	name := l.name
	switch {
	case l.key != "":
		if name == "" {
			name = l.key
		}
		return models.EntityRef{Key: l.key, Name: name}
	case l.id != "":
		if name == "" {
			name = l.id
		}
		return models.EntityRef{Key: "ext:" + strings.ToUpper(l.id), Name: name}
	case name != "":
		return models.EntityRef{Key: "name:" + strings.Join(strings.Fields(strings.ToLower(name)), "-"), Name: name}
	default:
		return models.EntityRef{}
	}
}

func subjectIDs(subject models.Entity) map[string]bool {
	ids := make(map[string]bool)
	for _, v := range subject.Identifiers.Values() {
		ids[strings.ToUpper(v)] = true
	}
	return ids
}

var hundred = decimal.NewFromInt(100)

func normalize(kind models.SourceKind, subject models.Entity, raw store.RawRow, mark markFunc) (models.SwapExposure, error) {
	recordID := raw.String("record_id")
	if recordID == "" {
		return models.SwapExposure{}, ErrMissingRecordID
	}
	fail := func(err error) (models.SwapExposure, error) {
		return models.SwapExposure{}, fmt.Errorf("%s record %s: %w", kind, recordID, err)
	}

	principal, other := readLeg(raw, "principal"), readLeg(raw, "counterparty")
	ids := subjectIDs(subject)
	mirrored := false
	switch {
	case principal.is(subject, ids):
	case other.is(subject, ids):
		principal, other = other, principal
		mirrored = true
	default:
		return fail(ErrUnrelatedRow)
	}

	notional, ok, err := raw.Decimal("notional")
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(ErrMissingNotional)
	}

	dirText := raw.String("direction")
	direction := models.ParseDirection(dirText)
	if dirText == "" && notional.IsNegative() {
		// some filers sign the notional instead of reporting a side
		direction = models.DirectionShort
	}
	notional = notional.Abs()
	if mirrored {
		direction = direction.Mirror()
	}

	e := models.SwapExposure{
		ID:               models.StableID(string(kind), recordID, subject.Key),
		Source:           kind,
		RecordID:         recordID,
		AssetClass:       models.ClassifyAssetClass(raw.String("asset_class"), raw.String("product")),
		Product:          raw.String("product"),
		Counterparty:     other.ref(),
		Notional:         notional,
		Currency:         strings.ToUpper(raw.String("currency")),
		BaseNotional:     notional,
		Direction:        direction,
		Cleared:          raw.Bool("cleared"),
		PaymentFrequency: models.ParseFrequency(raw.String("payment_frequency")),
		Settled:          raw.Bool("settled"),
		FilingReference:  raw.String("filing_reference"),
	}

	if e.EffectiveDate, err = raw.Time("effective_date"); err != nil {
		return fail(err)
	}
	if e.MaturityDate, err = raw.Time("maturity_date"); err != nil {
		return fail(err)
	}
	if e.LastPaymentDate, err = raw.Time("last_payment_date"); err != nil {
		return fail(err)
	}

	rate, ok, err := raw.Decimal("fixed_rate")
	if err != nil {
		return fail(err)
	}
	if ok {
		// repositories disagree on 0.045 vs 4.5
		if rate.Abs().GreaterThan(decimal.NewFromInt(1)) {
			rate = rate.Div(hundred)
		}
		e.FixedRate = rate
	}

	mtm, ok, err := mark(raw)
	if err != nil {
		return fail(err)
	}
	if ok {
		if mirrored {
			mtm = mtm.Neg()
		}
		e.MarkToMarket = mtm
	}

	if e.CollateralPosted, e.CollateralKnown, err = raw.Decimal("collateral_posted"); err != nil {
		return fail(err)
	}
	e.CollateralPosted = e.CollateralPosted.Abs()
	if e.CCPMargin, e.CCPMarginKnown, err = raw.Decimal("ccp_margin"); err != nil {
		return fail(err)
	}
	e.CCPMargin = e.CCPMargin.Abs()

	if err := e.Validate(); err != nil {
		return fail(err)
	}
	return e, nil
}
