package store

import (
	"context"
	"fmt"
)

// schema is the subset of the ETL schema the risk core reads. Production
// stores are migrated by the loaders; Bootstrap exists for local databases
// and tests. Amounts are TEXT so sqlite keeps them exact.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		entity_key TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entity_identifiers (
		entity_key TEXT NOT NULL,
		id_type TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (id_type, value)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entity_identifiers_value ON entity_identifiers (value)`,
	`CREATE TABLE IF NOT EXISTS data_snapshots (
		version TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		loaded_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cftc_swap_data (
		dissemination_id TEXT PRIMARY KEY,
		action_type TEXT NOT NULL DEFAULT 'NEW',
		asset_class TEXT,
		product_name TEXT,
		notional_amount_leg_1 TEXT,
		notional_currency_leg_1 TEXT,
		effective_date TEXT,
		expiration_date TEXT,
		cleared TEXT,
		counterparty_1_id TEXT,
		counterparty_1_name TEXT,
		counterparty_2_id TEXT,
		counterparty_2_name TEXT,
		direction_leg_1 TEXT,
		payment_frequency_leg_1 TEXT,
		fixed_rate_leg_1 TEXT,
		mark_to_market TEXT,
		collateral_posted TEXT,
		ccp_margin TEXT,
		last_payment_date TEXT,
		settled INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS dtcc_swap_data (
		trade_id TEXT PRIMARY KEY,
		asset_class TEXT,
		product_name TEXT,
		notional_amount TEXT,
		notional_currency TEXT,
		effective_date TEXT,
		maturity_date TEXT,
		cleared TEXT,
		party_1_id TEXT,
		party_1_name TEXT,
		party_2_id TEXT,
		party_2_name TEXT,
		direction TEXT,
		payment_frequency TEXT,
		fixed_rate TEXT,
		mark_to_market TEXT,
		collateral_posted TEXT,
		ccp_margin TEXT,
		last_payment_date TEXT,
		settled INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS sec_10k_submissions (
		accession_number TEXT PRIMARY KEY,
		cik TEXT NOT NULL,
		company_name TEXT,
		filing_date TEXT,
		period_of_report TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sec_filing_derivatives (
		id TEXT PRIMARY KEY,
		accession_number TEXT NOT NULL,
		counterparty_name TEXT,
		counterparty_lei TEXT,
		derivative_category TEXT,
		notional_amount TEXT,
		currency_code TEXT,
		direction TEXT,
		effective_date TEXT,
		maturity_date TEXT,
		fair_value TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS nport_submissions (
		accession_number TEXT PRIMARY KEY,
		cik TEXT NOT NULL,
		registrant_name TEXT,
		report_date TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS nport_derivatives (
		id TEXT PRIMARY KEY,
		accession_number TEXT NOT NULL,
		counterparty_name TEXT,
		counterparty_lei TEXT,
		derivative_category TEXT,
		notional_amount TEXT,
		currency_code TEXT,
		direction TEXT,
		effective_date TEXT,
		maturity_date TEXT,
		payment_frequency TEXT,
		fixed_rate TEXT,
		unrealized_appreciation TEXT,
		unrealized_depreciation TEXT,
		collateral_posted TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS credit_ratings (
		entity_key TEXT NOT NULL,
		agency TEXT NOT NULL,
		rating TEXT NOT NULL,
		rated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS counterparty_credit (
		entity_key TEXT PRIMARY KEY,
		cds_spread_bps TEXT,
		csa_threshold TEXT,
		rating_outlook TEXT,
		watch_status TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS corporate_structure (
		parent_key TEXT NOT NULL,
		child_key TEXT NOT NULL,
		ownership_pct TEXT,
		PRIMARY KEY (parent_key, child_key)
	)`,
	`CREATE TABLE IF NOT EXISTS filing_disclosures (
		entity_key TEXT NOT NULL,
		filing_period TEXT NOT NULL,
		aggregate_notional TEXT NOT NULL,
		currency TEXT,
		accession_number TEXT,
		PRIMARY KEY (entity_key, filing_period)
	)`,
}

// Bootstrap creates any missing tables.
func (d *DB) Bootstrap(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: bootstrap: %w", err)
		}
	}
	return nil
}

// Exec runs a statement with '?' placeholders rebound for the driver.
// The risk core never writes; this serves seeding in local setups and tests.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	_, err := d.db.ExecContext(ctx, d.Rebind(query), args...)
	return err
}
