package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seenimoa/gamecock/pkg/models"
)

// SourceReader streams raw rows for one regulatory source. Rows reference
// the entity on either leg. No match yields no rows and a nil error;
// connectivity failures return *SourceUnavailableError. An error returned
// by fn stops the scan and is returned unchanged.
type SourceReader interface {
	ReadSource(ctx context.Context, kind models.SourceKind, identifiers []string, fn func(RawRow) error) error
}

// Every source query projects the same column aliases so adapters see one
// shape: record_id, asset_class, product, notional, currency,
// effective_date, maturity_date, cleared, principal_{id,name,key},
// counterparty_{id,name,key}, direction, payment_frequency, fixed_rate,
// mark_to_market, collateral_posted, ccp_margin, last_payment_date,
// settled, filing_reference. Direction is always the principal's.

const cftcQuery = `
SELECT s.dissemination_id AS record_id,
       s.asset_class, s.product_name AS product,
       s.notional_amount_leg_1 AS notional, s.notional_currency_leg_1 AS currency,
       s.effective_date, s.expiration_date AS maturity_date, s.cleared,
       s.counterparty_1_id AS principal_id, s.counterparty_1_name AS principal_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = s.counterparty_1_id LIMIT 1) AS principal_key,
       s.counterparty_2_id AS counterparty_id, s.counterparty_2_name AS counterparty_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = s.counterparty_2_id LIMIT 1) AS counterparty_key,
       s.direction_leg_1 AS direction, s.payment_frequency_leg_1 AS payment_frequency,
       s.fixed_rate_leg_1 AS fixed_rate, s.mark_to_market, s.collateral_posted, s.ccp_margin,
       s.last_payment_date, s.settled, NULL AS filing_reference
FROM cftc_swap_data s
WHERE s.action_type = 'NEW'
  AND (s.counterparty_1_id IN (%[1]s) OR s.counterparty_2_id IN (%[1]s))
ORDER BY s.dissemination_id`

const dtccQuery = `
SELECT t.trade_id AS record_id,
       t.asset_class, t.product_name AS product,
       t.notional_amount AS notional, t.notional_currency AS currency,
       t.effective_date, t.maturity_date, t.cleared,
       t.party_1_id AS principal_id, t.party_1_name AS principal_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = t.party_1_id LIMIT 1) AS principal_key,
       t.party_2_id AS counterparty_id, t.party_2_name AS counterparty_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = t.party_2_id LIMIT 1) AS counterparty_key,
       t.direction, t.payment_frequency, t.fixed_rate, t.mark_to_market,
       t.collateral_posted, t.ccp_margin, t.last_payment_date, t.settled,
       NULL AS filing_reference
FROM dtcc_swap_data t
WHERE t.party_1_id IN (%[1]s) OR t.party_2_id IN (%[1]s)
ORDER BY t.trade_id`

const filingQuery = `
SELECT d.id AS record_id,
       d.derivative_category AS asset_class, d.derivative_category AS product,
       d.notional_amount AS notional, d.currency_code AS currency,
       d.effective_date, d.maturity_date, NULL AS cleared,
       s.cik AS principal_id, s.company_name AS principal_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = s.cik LIMIT 1) AS principal_key,
       d.counterparty_lei AS counterparty_id, d.counterparty_name AS counterparty_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = d.counterparty_lei LIMIT 1) AS counterparty_key,
       d.direction, NULL AS payment_frequency, NULL AS fixed_rate,
       d.fair_value AS mark_to_market, NULL AS collateral_posted, NULL AS ccp_margin,
       NULL AS last_payment_date, 0 AS settled, s.accession_number AS filing_reference
FROM sec_filing_derivatives d
JOIN sec_10k_submissions s ON s.accession_number = d.accession_number
WHERE s.cik IN (%[1]s) OR d.counterparty_lei IN (%[1]s)
ORDER BY d.id`

const fundQuery = `
SELECT d.id AS record_id,
       d.derivative_category AS asset_class, d.derivative_category AS product,
       d.notional_amount AS notional, d.currency_code AS currency,
       d.effective_date, d.maturity_date, NULL AS cleared,
       s.cik AS principal_id, s.registrant_name AS principal_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = s.cik LIMIT 1) AS principal_key,
       d.counterparty_lei AS counterparty_id, d.counterparty_name AS counterparty_name,
       (SELECT ei.entity_key FROM entity_identifiers ei WHERE ei.value = d.counterparty_lei LIMIT 1) AS counterparty_key,
       d.direction, d.payment_frequency, d.fixed_rate,
       d.unrealized_appreciation, d.unrealized_depreciation,
       NULL AS mark_to_market, d.collateral_posted, NULL AS ccp_margin,
       NULL AS last_payment_date, 0 AS settled, s.accession_number AS filing_reference
FROM nport_derivatives d
JOIN nport_submissions s ON s.accession_number = d.accession_number
WHERE s.cik IN (%[1]s) OR d.counterparty_lei IN (%[1]s)
ORDER BY d.id`

var sourceQueries = map[models.SourceKind]string{
	models.SourceCFTC:           cftcQuery,
	models.SourceDTCC:           dtccQuery,
	models.SourceSECFiling:      filingQuery,
	models.SourceFundDerivative: fundQuery,
}

// errStop marks errors raised by the caller's row callback.
type errStop struct{ err error }

func (e errStop) Error() string { return e.err.Error() }

// ReadSource implements SourceReader against the bootstrap schema.
func (d *DB) ReadSource(ctx context.Context, kind models.SourceKind, identifiers []string, fn func(RawRow) error) error {
	tmpl, ok := sourceQueries[kind]
	if !ok {
		return fmt.Errorf("store: no query for source %q", kind)
	}
	ids := dedupe(identifiers)
	if len(ids) == 0 {
		return nil
	}

	// The id list appears once per leg; binds are numbered in order.
	query := d.Rebind(fmt.Sprintf(tmpl, placeholders(len(ids))))
	args := make([]any, 0, 2*len(ids))
	for range 2 {
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return unavailable(kind, err)
	}
	defer rows.Close()

	err = scanRows(kind, rows, func(r RawRow) error {
		if err := fn(r); err != nil {
			return errStop{err}
		}
		return nil
	})
	var stop errStop
	if errors.As(err, &stop) {
		return stop.err
	}
	if err != nil {
		return unavailable(kind, err)
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
