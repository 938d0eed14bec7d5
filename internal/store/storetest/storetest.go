// Package storetest seeds throwaway sqlite stores for tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/pkg/models"
)

var dbSeq atomic.Int64

// Fixture is a bootstrapped in-memory store plus seeding helpers.
// Helpers fail the test on any error.
type Fixture struct {
	DB *store.DB
	t  testing.TB
}

// New opens a private in-memory sqlite store with the bootstrap schema.
func New(t testing.TB) *Fixture {
	t.Helper()
	name := fmt.Sprintf("gamecock_%d_%s", dbSeq.Add(1), strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := store.Open(context.Background(), store.Options{
		Driver:       store.DriverSQLite,
		DSN:          "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		QueryTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return &Fixture{DB: db, t: t}
}

func (f *Fixture) exec(query string, args ...any) {
	f.t.Helper()
	if err := f.DB.Exec(context.Background(), query, args...); err != nil {
		f.t.Fatalf("seed: %v\n%s", err, query)
	}
}

func date(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return store.FormatDate(t)
}

func text(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Entity registers an entity and its identifiers.
func (f *Fixture) Entity(key, name string, ids ...models.Identifier) {
	f.t.Helper()
	f.exec(`INSERT INTO entities (entity_key, name) VALUES (?, ?)`, key, name)
	for _, id := range ids {
		f.exec(`INSERT INTO entity_identifiers (entity_key, id_type, value) VALUES (?, ?, ?)`, key, string(id.Type), id.Value)
	}
}

// Snapshot records a data load.
func (f *Fixture) Snapshot(version string, asOf time.Time) {
	f.t.Helper()
	f.exec(`INSERT INTO data_snapshots (version, as_of, loaded_at) VALUES (?, ?, ?)`,
		version, store.FormatDate(asOf), asOf.UTC().Format(time.RFC3339))
}

// Swap is one swap-data-repository trade. Party 1 is the principal and
// Direction is party 1's side.
type Swap struct {
	ID          string
	AssetClass  string
	Product     string
	Notional    string
	Currency    string
	Effective   time.Time
	Maturity    time.Time
	Cleared     bool
	Party1ID    string
	Party1Name  string
	Party2ID    string
	Party2Name  string
	Direction   string
	Frequency   string
	FixedRate   string
	MTM         string
	Collateral  string
	CCPMargin   string
	LastPayment time.Time
	Settled     bool
}

func cleared(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// CFTCSwap inserts a CFTC swap data repository record.
func (f *Fixture) CFTCSwap(s Swap) {
	f.t.Helper()
	f.exec(`INSERT INTO cftc_swap_data (dissemination_id, action_type, asset_class, product_name,
		notional_amount_leg_1, notional_currency_leg_1, effective_date, expiration_date, cleared,
		counterparty_1_id, counterparty_1_name, counterparty_2_id, counterparty_2_name,
		direction_leg_1, payment_frequency_leg_1, fixed_rate_leg_1, mark_to_market, collateral_posted,
		ccp_margin, last_payment_date, settled)
		VALUES (?, 'NEW', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, text(s.AssetClass), text(s.Product), s.Notional, text(s.Currency), date(s.Effective), date(s.Maturity),
		cleared(s.Cleared), text(s.Party1ID), text(s.Party1Name), text(s.Party2ID), text(s.Party2Name),
		text(s.Direction), text(s.Frequency), text(s.FixedRate), text(s.MTM), text(s.Collateral),
		text(s.CCPMargin), date(s.LastPayment), flag(s.Settled))
}

// DTCCSwap inserts a DTCC-style repository trade.
func (f *Fixture) DTCCSwap(s Swap) {
	f.t.Helper()
	f.exec(`INSERT INTO dtcc_swap_data (trade_id, asset_class, product_name, notional_amount,
		notional_currency, effective_date, maturity_date, cleared, party_1_id, party_1_name,
		party_2_id, party_2_name, direction, payment_frequency, fixed_rate, mark_to_market,
		collateral_posted, ccp_margin, last_payment_date, settled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, text(s.AssetClass), text(s.Product), s.Notional, text(s.Currency), date(s.Effective), date(s.Maturity),
		cleared(s.Cleared), text(s.Party1ID), text(s.Party1Name), text(s.Party2ID), text(s.Party2Name),
		text(s.Direction), text(s.Frequency), text(s.FixedRate), text(s.MTM), text(s.Collateral),
		text(s.CCPMargin), date(s.LastPayment), flag(s.Settled))
}

// Position is one derivative line from a 10-K or N-PORT filing. The filer
// is the principal.
type Position struct {
	ID               string
	CounterpartyLEI  string
	CounterpartyName string
	Category         string
	Notional         string
	Currency         string
	Direction        string
	Effective        time.Time
	Maturity         time.Time
	FairValue        string
	Frequency        string
	FixedRate        string
	Appreciation     string
	Depreciation     string
	Collateral       string
}

// Filing registers a 10-K submission.
func (f *Fixture) Filing(accession, cik, company string, filed time.Time) {
	f.t.Helper()
	f.exec(`INSERT INTO sec_10k_submissions (accession_number, cik, company_name, filing_date, period_of_report)
		VALUES (?, ?, ?, ?, ?)`, accession, cik, company, date(filed), date(filed))
}

// FilingDerivative inserts a filing-disclosed position under a submission.
func (f *Fixture) FilingDerivative(accession string, p Position) {
	f.t.Helper()
	f.exec(`INSERT INTO sec_filing_derivatives (id, accession_number, counterparty_name, counterparty_lei,
		derivative_category, notional_amount, currency_code, direction, effective_date, maturity_date, fair_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, accession, text(p.CounterpartyName), text(p.CounterpartyLEI), text(p.Category), p.Notional,
		text(p.Currency), text(p.Direction), date(p.Effective), date(p.Maturity), text(p.FairValue))
}

// FundReport registers an N-PORT submission.
func (f *Fixture) FundReport(accession, cik, registrant string, reported time.Time) {
	f.t.Helper()
	f.exec(`INSERT INTO nport_submissions (accession_number, cik, registrant_name, report_date)
		VALUES (?, ?, ?, ?)`, accession, cik, registrant, date(reported))
}

// FundDerivative inserts an N-PORT derivative holding.
func (f *Fixture) FundDerivative(accession string, p Position) {
	f.t.Helper()
	f.exec(`INSERT INTO nport_derivatives (id, accession_number, counterparty_name, counterparty_lei,
		derivative_category, notional_amount, currency_code, direction, effective_date, maturity_date,
		payment_frequency, fixed_rate, unrealized_appreciation, unrealized_depreciation, collateral_posted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, accession, text(p.CounterpartyName), text(p.CounterpartyLEI), text(p.Category), p.Notional,
		text(p.Currency), text(p.Direction), date(p.Effective), date(p.Maturity), text(p.Frequency),
		text(p.FixedRate), text(p.Appreciation), text(p.Depreciation), text(p.Collateral))
}

// Rating appends a rating history entry.
func (f *Fixture) Rating(key, agency, rating string, at time.Time) {
	f.t.Helper()
	f.exec(`INSERT INTO credit_ratings (entity_key, agency, rating, rated_at) VALUES (?, ?, ?, ?)`,
		key, agency, rating, store.FormatDate(at))
}

// CounterpartyCredit sets CDS spread and CSA threshold; empty strings store NULL.
func (f *Fixture) CounterpartyCredit(key, cdsBps, csaThreshold string) {
	f.t.Helper()
	f.exec(`INSERT INTO counterparty_credit (entity_key, cds_spread_bps, csa_threshold) VALUES (?, ?, ?)`,
		key, text(cdsBps), text(csaThreshold))
}

// CreditWatch sets the rating outlook and watch status on a row written by
// CounterpartyCredit.
func (f *Fixture) CreditWatch(key, outlook, watch string) {
	f.t.Helper()
	f.exec(`UPDATE counterparty_credit SET rating_outlook = ?, watch_status = ? WHERE entity_key = ?`,
		text(outlook), text(watch), key)
}

// Subsidiary links a child entity under a parent.
func (f *Fixture) Subsidiary(parent, child string) {
	f.t.Helper()
	f.exec(`INSERT INTO corporate_structure (parent_key, child_key) VALUES (?, ?)`, parent, child)
}

// Disclosure records a filing-disclosed aggregate derivative notional.
func (f *Fixture) Disclosure(key, period, amount string) {
	f.t.Helper()
	f.exec(`INSERT INTO filing_disclosures (entity_key, filing_period, aggregate_notional, currency, accession_number)
		VALUES (?, ?, ?, 'USD', ?)`, key, period, amount, "acc-"+key+"-"+period)
}
