package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/seenimoa/gamecock/pkg/models"
)

// FindByIdentifier returns the entities holding an exact identifier.
// Tickers match case-insensitively; every other type matches exactly.
func (d *DB) FindByIdentifier(ctx context.Context, t models.IdentifierType, value string) ([]models.Entity, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	query := `SELECT DISTINCT entity_key FROM entity_identifiers WHERE id_type = ? AND value = ?`
	if t == models.IdentifierTicker {
		query = `SELECT DISTINCT entity_key FROM entity_identifiers WHERE id_type = ? AND UPPER(value) = UPPER(?)`
	}
	rows, err := d.db.QueryContext(ctx, d.Rebind(query), string(t), value)
	if err != nil {
		return nil, fmt.Errorf("store: find %s %q: %w", t, value, err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan entity key: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find %s %q: %w", t, value, err)
	}
	sort.Strings(keys)

	out := make([]models.Entity, 0, len(keys))
	for _, k := range keys {
		e, err := d.LoadEntity(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ErrEntityNotFound is returned by LoadEntity for unknown keys.
var ErrEntityNotFound = errors.New("entity not found")

// LoadEntity loads one entity with all of its identifiers.
func (d *DB) LoadEntity(ctx context.Context, key string) (models.Entity, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	e := models.Entity{Key: key}
	err := d.db.QueryRowContext(ctx, d.Rebind(`SELECT name FROM entities WHERE entity_key = ?`), key).Scan(&e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, fmt.Errorf("store: %s: %w", key, ErrEntityNotFound)
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("store: load entity %s: %w", key, err)
	}

	rows, err := d.db.QueryContext(ctx, d.Rebind(
		`SELECT id_type, value FROM entity_identifiers WHERE entity_key = ? ORDER BY id_type, value`), key)
	if err != nil {
		return models.Entity{}, fmt.Errorf("store: load identifiers %s: %w", key, err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ, val string
		if err := rows.Scan(&typ, &val); err != nil {
			return models.Entity{}, fmt.Errorf("store: scan identifier: %w", err)
		}
		e.Identifiers.Add(models.IdentifierType(typ), val)
	}
	if err := rows.Err(); err != nil {
		return models.Entity{}, fmt.Errorf("store: load identifiers %s: %w", key, err)
	}
	return e, nil
}

// ListEntities returns every entity with its identifiers, ordered by key.
// The resolver scans this for fuzzy name matches.
func (d *DB) ListEntities(ctx context.Context) ([]models.Entity, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
SELECT e.entity_key, e.name, i.id_type, i.value
FROM entities e
LEFT JOIN entity_identifiers i ON i.entity_key = e.entity_key
ORDER BY e.entity_key, i.id_type, i.value`)
	if err != nil {
		return nil, fmt.Errorf("store: list entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var key, name string
		var typ, val sql.NullString
		if err := rows.Scan(&key, &name, &typ, &val); err != nil {
			return nil, fmt.Errorf("store: scan entity: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Key != key {
			out = append(out, models.Entity{Key: key, Name: name})
		}
		if typ.Valid && val.Valid {
			out[len(out)-1].Identifiers.Add(models.IdentifierType(strings.ToLower(typ.String)), val.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list entities: %w", err)
	}
	return out, nil
}
