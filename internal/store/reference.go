package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/pkg/models"
)

// --- Snapshot metadata ---

// Snapshot identifies the data load the store currently serves. Version
// keys profile caches; AsOf is the business date every date-relative rule
// is evaluated against.
type Snapshot struct {
	Version  string    `json:"version"`
	AsOf     time.Time `json:"as_of"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Snapshot returns the most recently loaded snapshot. A store without
// snapshot metadata returns the zero Snapshot and no error.
func (d *DB) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var version, asOf, loadedAt string
	err := d.db.QueryRowContext(ctx,
		`SELECT version, as_of, loaded_at FROM data_snapshots ORDER BY loaded_at DESC, version DESC LIMIT 1`,
	).Scan(&version, &asOf, &loadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: snapshot: %w", err)
	}
	row := NewRawRow("", map[string]any{"as_of": asOf, "loaded_at": loadedAt})
	s := Snapshot{Version: version}
	if s.AsOf, err = row.Time("as_of"); err != nil {
		return Snapshot{}, fmt.Errorf("store: snapshot: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, loadedAt); err == nil {
		s.LoadedAt = t.UTC()
	}
	return s, nil
}

// --- Credit state ---

const maxRatingChanges = 5

// CreditState returns the stored credit state for an entity key. found is
// false when nothing is known about the entity.
func (d *DB) CreditState(ctx context.Context, key string) (state models.CreditState, found bool, err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, d.Rebind(
		`SELECT agency, rating, rated_at FROM credit_ratings WHERE entity_key = ? ORDER BY rated_at DESC, agency`), key)
	if err != nil {
		return models.CreditState{}, false, fmt.Errorf("store: credit ratings %s: %w", key, err)
	}
	type entry struct {
		agency, rating string
		at             time.Time
	}
	var history []entry
	for rows.Next() {
		var agency, rating, ratedAt string
		if err := rows.Scan(&agency, &rating, &ratedAt); err != nil {
			rows.Close()
			return models.CreditState{}, false, fmt.Errorf("store: scan rating: %w", err)
		}
		at, _ := NewRawRow("", map[string]any{"at": ratedAt}).Time("at")
		history = append(history, entry{agency: agency, rating: rating, at: at})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.CreditState{}, false, fmt.Errorf("store: credit ratings %s: %w", key, err)
	}

	if len(history) > 0 {
		found = true
		state.Agency = history[0].agency
		state.Rating = history[0].rating
		state.RatedAt = history[0].at
		// history is newest first; a change is an entry whose next-older
		// entry from the same agency carried a different rating.
		for i, h := range history {
			for _, older := range history[i+1:] {
				if older.agency != h.agency {
					continue
				}
				if older.rating != h.rating {
					state.RecentChanges = append(state.RecentChanges, models.RatingChange{
						Agency: h.agency, From: older.rating, To: h.rating, Date: h.at,
					})
				}
				break
			}
			if len(state.RecentChanges) == maxRatingChanges {
				break
			}
		}
	}

	var cds, csa, outlook, watch sql.NullString
	err = d.db.QueryRowContext(ctx, d.Rebind(
		`SELECT cds_spread_bps, csa_threshold, rating_outlook, watch_status FROM counterparty_credit WHERE entity_key = ?`), key).
		Scan(&cds, &csa, &outlook, &watch)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.CreditState{}, false, fmt.Errorf("store: counterparty credit %s: %w", key, err)
	default:
		found = true
		if v, perr := decimal.NewFromString(cds.String); cds.Valid && perr == nil {
			state.CDSSpreadBps, state.CDSKnown = v, true
		}
		if v, perr := decimal.NewFromString(csa.String); csa.Valid && perr == nil {
			state.CSAThreshold, state.CSAThresholdKnown = v, true
		}
		state.Outlook = strings.ToLower(strings.TrimSpace(outlook.String))
		state.Watch = strings.ToLower(strings.TrimSpace(watch.String))
	}
	return state, found, nil
}

// --- Corporate structure ---

// Subsidiaries returns the direct children of an entity, ordered by key.
func (d *DB) Subsidiaries(ctx context.Context, key string) ([]models.Entity, error) {
	qctx, cancel := d.withTimeout(ctx)
	rows, err := d.db.QueryContext(qctx, d.Rebind(
		`SELECT child_key FROM corporate_structure WHERE parent_key = ? ORDER BY child_key`), key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store: subsidiaries %s: %w", key, err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			cancel()
			return nil, fmt.Errorf("store: scan subsidiary: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	err = rows.Err()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("store: subsidiaries %s: %w", key, err)
	}

	out := make([]models.Entity, 0, len(keys))
	for _, k := range keys {
		e, err := d.LoadEntity(ctx, k)
		if errors.Is(err, ErrEntityNotFound) {
			// structure rows may reference entities not yet loaded
			out = append(out, models.Entity{Key: k, Name: k})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// --- Filing disclosures ---

// Disclosure is the aggregate derivative notional an entity reported in a
// filing.
type Disclosure struct {
	Period    string          `json:"period"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

// LatestPeriod selects the most recent filing period.
const LatestPeriod = "latest"

// DisclosedExposure returns the disclosure for an entity and period
// ("latest" picks the most recent). found is false when nothing was disclosed.
func (d *DB) DisclosedExposure(ctx context.Context, key, period string) (disc Disclosure, found bool, err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	query := `SELECT filing_period, aggregate_notional, currency, accession_number
FROM filing_disclosures WHERE entity_key = ? AND filing_period = ?`
	args := []any{key, period}
	if period == "" || period == LatestPeriod {
		query = `SELECT filing_period, aggregate_notional, currency, accession_number
FROM filing_disclosures WHERE entity_key = ? ORDER BY filing_period DESC LIMIT 1`
		args = args[:1]
	}

	var amount string
	var currency, accession sql.NullString
	err = d.db.QueryRowContext(ctx, d.Rebind(query), args...).Scan(&disc.Period, &amount, &currency, &accession)
	if errors.Is(err, sql.ErrNoRows) {
		return Disclosure{}, false, nil
	}
	if err != nil {
		return Disclosure{}, false, fmt.Errorf("store: disclosure %s: %w", key, err)
	}
	disc.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Disclosure{}, false, fmt.Errorf("store: disclosure %s: amount %q: %w", key, amount, err)
	}
	disc.Currency = currency.String
	disc.Reference = accession.String
	return disc, true, nil
}
