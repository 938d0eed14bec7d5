package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/pkg/models"
)

// RawRow is one untyped source row keyed by lower-case column name.
// Drivers disagree on value types (TEXT vs NUMERIC vs DATE), so the typed
// accessors accept whatever the driver hands back.
type RawRow struct {
	Source models.SourceKind
	cols   map[string]any
}

// NewRawRow builds a row from column values.
func NewRawRow(kind models.SourceKind, cols map[string]any) RawRow {
	m := make(map[string]any, len(cols))
	for k, v := range cols {
		m[strings.ToLower(k)] = v
	}
	return RawRow{Source: kind, cols: m}
}

// Has reports whether the column is present and non-null.
func (r RawRow) Has(col string) bool {
	v, ok := r.cols[col]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	if b, ok := v.([]byte); ok {
		return len(strings.TrimSpace(string(b))) > 0
	}
	return true
}

// String returns the column as trimmed text, "" when null.
func (r RawRow) String(col string) string {
	switch v := r.cols[col].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case time.Time:
		return v.Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Decimal parses a numeric column. ok is false when the column is null or
// blank. Thousands separators and a leading currency sign are tolerated.
func (r RawRow) Decimal(col string) (d decimal.Decimal, ok bool, err error) {
	switch v := r.cols[col].(type) {
	case nil:
		return decimal.Zero, false, nil
	case int64:
		return decimal.NewFromInt(v), true, nil
	case int:
		return decimal.NewFromInt(int64(v)), true, nil
	case float64:
		return decimal.NewFromFloat(v), true, nil
	}
	s := r.String(col)
	if s == "" {
		return decimal.Zero, false, nil
	}
	s = strings.NewReplacer(",", "", "$", "", " ", "").Replace(s)
	d, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("column %s: %w", col, err)
	}
	return d, true, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"20060102",
}

// Time parses a date column. A null or blank column returns the zero time.
func (r RawRow) Time(col string) (time.Time, error) {
	if t, ok := r.cols[col].(time.Time); ok {
		return dateOnly(t), nil
	}
	s := r.String(col)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("column %s: unrecognized date %q", col, s)
}

// Bool reads flag columns stored as booleans, integers or Y/N text.
func (r RawRow) Bool(col string) bool {
	switch v := r.cols[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	}
	switch strings.ToUpper(r.String(col)) {
	case "Y", "YES", "TRUE", "T", "1", "C", "CLEARED":
		return true
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// scanRows iterates rows as RawRow values.
func scanRows(kind models.SourceKind, rows *sql.Rows, fn func(RawRow) error) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for i := range cols {
		cols[i] = strings.ToLower(cols[i])
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = vals[i]
		}
		if err := fn(RawRow{Source: kind, cols: m}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// FormatDate renders dates the way the bootstrap schema stores them.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
