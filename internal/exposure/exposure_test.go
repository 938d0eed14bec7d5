package exposure

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/internal/store/storetest"
	"github.com/seenimoa/gamecock/pkg/models"
)

// fakeReader serves canned rows per source.
type fakeReader struct {
	rows  map[models.SourceKind][]map[string]any
	fail  map[models.SourceKind]error
	block map[models.SourceKind]bool
	calls atomic.Int32
}

func (f *fakeReader) ReadSource(ctx context.Context, kind models.SourceKind, _ []string, fn func(store.RawRow) error) error {
	f.calls.Add(1)
	if f.block[kind] {
		<-ctx.Done()
		return &store.SourceUnavailableError{Source: kind, At: time.Now().UTC(), Err: ctx.Err()}
	}
	if err := f.fail[kind]; err != nil {
		return err
	}
	for _, cols := range f.rows[kind] {
		if err := fn(store.NewRawRow(kind, cols)); err != nil {
			return err
		}
	}
	return nil
}

var subject = func() models.Entity {
	e := models.Entity{Key: "abc", Name: "ABC Corp"}
	e.Identifiers.Add(models.IdentifierLEI, "ABCLEI00000000000001")
	e.Identifiers.Add(models.IdentifierCIK, "0000012345")
	return e
}()

func swapRow(id, notional string) map[string]any {
	return map[string]any{
		"record_id":         id,
		"asset_class":       "IR",
		"product":           "InterestRate:IRSwap:FixedFloat",
		"notional":          notional,
		"currency":          "USD",
		"effective_date":    "2024-01-15",
		"maturity_date":     "2029-01-15",
		"cleared":           "N",
		"principal_id":      "ABCLEI00000000000001",
		"principal_name":    "ABC Corp",
		"principal_key":     "abc",
		"counterparty_id":   "BANKLEI0000000000001",
		"counterparty_name": "Big Bank NA",
		"counterparty_key":  "bigbank",
		"direction":         "pay_fixed",
		"payment_frequency": "3M",
		"fixed_rate":        "4.25",
		"mark_to_market":    "-125000",
		"collateral_posted": "50000",
	}
}

func with(row map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

func mustAdapter(t *testing.T, kind models.SourceKind) Adapter {
	t.Helper()
	ad, err := AdapterFor(kind)
	require.NoError(t, err)
	return ad
}

// ── Normalization ──

func TestNormalizePrincipalLeg(t *testing.T) {
	e, err := mustAdapter(t, models.SourceCFTC).Normalize(subject, store.NewRawRow(models.SourceCFTC, swapRow("c1", "100,000,000")))
	require.NoError(t, err)

	assert.Equal(t, models.SourceCFTC, e.Source)
	assert.Equal(t, "c1", e.RecordID)
	assert.Equal(t, models.AssetRates, e.AssetClass)
	assert.Equal(t, models.EntityRef{Key: "bigbank", Name: "Big Bank NA"}, e.Counterparty)
	assert.True(t, e.Notional.Equal(decimal.NewFromInt(100_000_000)))
	assert.Equal(t, models.DirectionPayFixed, e.Direction)
	assert.Equal(t, models.FreqQuarterly, e.PaymentFrequency)
	assert.True(t, e.FixedRate.Equal(decimal.RequireFromString("0.0425")), "percent rates are scaled")
	assert.True(t, e.MarkToMarket.Equal(decimal.NewFromInt(-125000)))
	assert.True(t, e.CollateralKnown)
	assert.False(t, e.CCPMarginKnown)
	assert.Equal(t, time.Date(2029, 1, 15, 0, 0, 0, 0, time.UTC), e.MaturityDate)
	assert.Equal(t, models.StableID("cftc", "c1", "abc"), e.ID)
}

func TestNormalizeCounterpartyLegIsMirrored(t *testing.T) {
	row := with(swapRow("d1", "5000000"),
		"principal_id", "BANKLEI0000000000001", "principal_name", "Big Bank NA", "principal_key", "bigbank",
		"counterparty_id", "ABCLEI00000000000001", "counterparty_name", "ABC Corp", "counterparty_key", nil,
	)
	e, err := mustAdapter(t, models.SourceDTCC).Normalize(subject, store.NewRawRow(models.SourceDTCC, row))
	require.NoError(t, err)

	assert.Equal(t, "bigbank", e.Counterparty.Key)
	assert.Equal(t, models.DirectionReceiveFixed, e.Direction)
	assert.True(t, e.MarkToMarket.Equal(decimal.NewFromInt(125000)))
	assert.True(t, e.CollateralPosted.Equal(decimal.NewFromInt(50000)))
}

func TestNormalizeUnregisteredCounterparty(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]any
		want models.EntityRef
	}{
		{"by source id", with(swapRow("x", "1"), "counterparty_key", nil),
			models.EntityRef{Key: "ext:BANKLEI0000000000001", Name: "Big Bank NA"}},
		{"by name", with(swapRow("x", "1"), "counterparty_key", nil, "counterparty_id", nil),
			models.EntityRef{Key: "name:big-bank-na", Name: "Big Bank NA"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := mustAdapter(t, models.SourceCFTC).Normalize(subject, store.NewRawRow(models.SourceCFTC, tc.row))
			require.NoError(t, err)
			assert.Equal(t, tc.want, e.Counterparty)
		})
	}
}

func TestNormalizeRejectsBadRows(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]any
		err  error
	}{
		{"no record id", with(swapRow("", "1")), ErrMissingRecordID},
		{"no notional", with(swapRow("x", ""), "notional", nil), ErrMissingNotional},
		{"unrelated", with(swapRow("x", "1"), "principal_id", "OTHER", "principal_key", "other"), ErrUnrelatedRow},
		{"maturity before effective", with(swapRow("x", "1"), "maturity_date", "2020-01-01"), models.ErrMaturityBeforeStart},
		{"no counterparty", with(swapRow("x", "1"), "counterparty_key", nil, "counterparty_id", nil, "counterparty_name", nil), models.ErrMissingCounterparty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mustAdapter(t, models.SourceCFTC).Normalize(subject, store.NewRawRow(models.SourceCFTC, tc.row))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestNormalizeFundMarkIsNetAppreciation(t *testing.T) {
	row := with(swapRow("n1", "2000000"), "mark_to_market", nil,
		"unrealized_appreciation", "500", "unrealized_depreciation", "200")
	e, err := mustAdapter(t, models.SourceFundDerivative).Normalize(subject, store.NewRawRow(models.SourceFundDerivative, row))
	require.NoError(t, err)
	assert.True(t, e.MarkToMarket.Equal(decimal.NewFromInt(300)))
}

func TestNormalizeSignedNotional(t *testing.T) {
	row := with(swapRow("s1", "-750000"), "direction", nil)
	e, err := mustAdapter(t, models.SourceSECFiling).Normalize(subject, store.NewRawRow(models.SourceSECFiling, row))
	require.NoError(t, err)
	assert.True(t, e.Notional.Equal(decimal.NewFromInt(750000)))
	assert.Equal(t, models.DirectionShort, e.Direction)
}

func TestAdapterForUnknown(t *testing.T) {
	_, err := AdapterFor("bloomberg")
	assert.Error(t, err)
	for _, k := range models.AllSourceKinds() {
		assert.Equal(t, k, mustAdapter(t, k).Kind())
	}
}

// ── Aggregation ──

func newAggregator(t *testing.T, r store.SourceReader, mutate ...func(*Config)) *Aggregator {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(r, cfg)
	require.NoError(t, err)
	return a
}

func TestStreamDropsFilingDuplicates(t *testing.T) {
	r := &fakeReader{rows: map[models.SourceKind][]map[string]any{
		models.SourceCFTC: {swapRow("c1", "100000000")},
		models.SourceSECFiling: {
			swapRow("f-dup", "100500000"),
			swapRow("f-own", "150000000"),
			with(swapRow("f-later", "100000000"), "effective_date", "2030-01-01", "maturity_date", "2031-01-01"),
		},
	}}
	got, cov, err := newAggregator(t, r).Collect(context.Background(), subject)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.RecordID
	}
	assert.Equal(t, []string{"c1", "f-later", "f-own"}, ids)
	assert.Equal(t, 1, cov.DuplicatesDropped)
	assert.Equal(t, models.CoverageComplete, cov.Status)
}

func TestDedupIdempotence(t *testing.T) {
	r := &fakeReader{rows: map[models.SourceKind][]map[string]any{
		models.SourceCFTC:           {swapRow("c1", "100000000"), swapRow("c2", "25000000")},
		models.SourceDTCC:           {swapRow("d1", "40000000")},
		models.SourceSECFiling:      {swapRow("f1", "99500000"), swapRow("f2", "3000000")},
		models.SourceFundDerivative: {swapRow("n1", "1000000")},
	}}
	a := newAggregator(t, r)

	first, _, err := a.Collect(context.Background(), subject)
	require.NoError(t, err)
	second, _, err := a.Collect(context.Background(), subject)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 5)
	total := func(es []models.SwapExposure) decimal.Decimal {
		sum := decimal.Zero
		for _, e := range es {
			sum = sum.Add(e.BaseNotional)
		}
		return sum
	}
	assert.True(t, total(first).Equal(total(second)))
}

func TestStreamIsRestartable(t *testing.T) {
	r := &fakeReader{rows: map[models.SourceKind][]map[string]any{
		models.SourceCFTC: {swapRow("c1", "1"), swapRow("c2", "2")},
	}}
	s := newAggregator(t, r).Stream(context.Background(), subject)
	assert.Equal(t, int32(0), r.calls.Load(), "nothing is read before iteration")

	count := func() int {
		n := 0
		for range s.All() {
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())
	assert.Equal(t, int32(8), r.calls.Load())
}

func TestStreamEarlyBreak(t *testing.T) {
	rows := make([]map[string]any, 500)
	for i := range rows {
		rows[i] = swapRow(fmt.Sprintf("c%03d", i), "1")
	}
	r := &fakeReader{rows: map[models.SourceKind][]map[string]any{models.SourceCFTC: rows}}
	s := newAggregator(t, r).Stream(context.Background(), subject)

	n := 0
	for range s.All() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
	assert.Empty(t, s.Coverage().Unavailable, "stopping early is not a source failure")
}

func TestPartialFailureDegrades(t *testing.T) {
	r := &fakeReader{
		rows: map[models.SourceKind][]map[string]any{
			models.SourceCFTC:           {swapRow("c1", "100")},
			models.SourceFundDerivative: {swapRow("n1", "200")},
		},
		fail: map[models.SourceKind]error{
			models.SourceDTCC: &store.SourceUnavailableError{Source: models.SourceDTCC, At: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Err: errors.New("connection refused")},
		},
	}
	a := newAggregator(t, r, func(c *Config) {
		c.Sources = []models.SourceKind{models.SourceCFTC, models.SourceDTCC, models.SourceFundDerivative}
	})

	got, cov, err := a.Collect(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, models.CoveragePartial, cov.Status)
	require.Len(t, cov.Unavailable, 1)
	assert.Equal(t, models.SourceDTCC, cov.Unavailable[0].Source)
	assert.Contains(t, cov.Unavailable[0].Error, "connection refused")
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), cov.Unavailable[0].At)
}

func TestSourceTimeoutIsPartialCoverage(t *testing.T) {
	r := &fakeReader{
		rows:  map[models.SourceKind][]map[string]any{models.SourceCFTC: {swapRow("c1", "100")}},
		block: map[models.SourceKind]bool{models.SourceDTCC: true},
	}
	a := newAggregator(t, r, func(c *Config) {
		c.Sources = []models.SourceKind{models.SourceCFTC, models.SourceDTCC}
		c.SourceTimeout = 20 * time.Millisecond
	})

	got, cov, err := a.Collect(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.Equal(t, []models.SourceKind{models.SourceDTCC}, cov.UnavailableSources())
	assert.Contains(t, cov.Unavailable[0].Error, "timed out")
}

func TestCollectCancelled(t *testing.T) {
	r := &fakeReader{block: map[models.SourceKind]bool{models.SourceCFTC: true}}
	a := newAggregator(t, r, func(c *Config) { c.Sources = []models.SourceKind{models.SourceCFTC} })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, cov, err := a.Collect(ctx, subject)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.CoveragePartial, cov.Status)
}

func TestSkippedRowsAreCounted(t *testing.T) {
	r := &fakeReader{rows: map[models.SourceKind][]map[string]any{
		models.SourceCFTC: {swapRow("c1", "100"), swapRow("", "100"), with(swapRow("c3", "abc"))},
	}}
	got, cov, err := newAggregator(t, r).Collect(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, cov.SkippedRows)
	assert.True(t, cov.Complete())
}

func TestCurrencyConversion(t *testing.T) {
	r := &fakeReader{rows: map[models.SourceKind][]map[string]any{
		models.SourceCFTC: {
			with(swapRow("eur", "1000000"), "currency", "eur", "mark_to_market", "-1000"),
			with(swapRow("jpy", "1000000"), "currency", "JPY"),
			with(swapRow("blank", "1000000"), "currency", nil),
		},
	}}
	a := newAggregator(t, r, func(c *Config) {
		c.FXRates = map[string]decimal.Decimal{"EUR": decimal.RequireFromString("1.10")}
	})

	got, cov, err := a.Collect(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, got, 3)
	byID := map[string]models.SwapExposure{}
	for _, e := range got {
		byID[e.RecordID] = e
	}
	assert.True(t, byID["eur"].BaseNotional.Equal(decimal.NewFromInt(1_100_000)))
	assert.True(t, byID["eur"].Notional.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, byID["eur"].MarkToMarket.Equal(decimal.NewFromInt(-1100)))
	assert.True(t, byID["jpy"].BaseNotional.Equal(decimal.NewFromInt(1_000_000)), "unknown currencies convert at par")
	assert.Equal(t, "USD", byID["blank"].Currency)
	assert.Equal(t, []string{"JPY"}, cov.UnconvertedCurrencies)
}

func TestNewRejectsUnknownSource(t *testing.T) {
	_, err := New(&fakeReader{}, Config{Sources: []models.SourceKind{"bloomberg"}})
	assert.Error(t, err)
}

// ── Against the bootstrap schema ──

func TestCollectFromStore(t *testing.T) {
	f := storetest.New(t)
	f.Entity("abc", "ABC Corp",
		models.Identifier{Type: models.IdentifierLEI, Value: "ABCLEI00000000000001"},
		models.Identifier{Type: models.IdentifierCIK, Value: "0000012345"})
	f.Entity("bigbank", "Big Bank NA", models.Identifier{Type: models.IdentifierLEI, Value: "BANKLEI0000000000001"})

	eff := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	mat := time.Date(2029, 1, 15, 0, 0, 0, 0, time.UTC)
	f.CFTCSwap(storetest.Swap{
		ID: "c1", AssetClass: "IR", Product: "IRSwap", Notional: "100000000", Currency: "USD",
		Effective: eff, Maturity: mat, Party1ID: "ABCLEI00000000000001", Party1Name: "ABC Corp",
		Party2ID: "BANKLEI0000000000001", Party2Name: "Big Bank NA", Direction: "pay_fixed", Frequency: "3M",
	})
	f.DTCCSwap(storetest.Swap{
		ID: "d1", AssetClass: "CR", Product: "CDS", Notional: "20000000", Currency: "USD",
		Effective: eff, Maturity: mat, Party1ID: "BANKLEI0000000000001", Party1Name: "Big Bank NA",
		Party2ID: "ABCLEI00000000000001", Party2Name: "ABC Corp", Direction: "long", Cleared: true,
	})
	f.Filing("0000012345-24-000001", "0000012345", "ABC Corp", eff)
	f.FilingDerivative("0000012345-24-000001", storetest.Position{
		ID: "f1", CounterpartyLEI: "BANKLEI0000000000001", CounterpartyName: "Big Bank NA",
		Category: "Interest rate swap", Notional: "100200000", Currency: "USD", Effective: eff, Maturity: mat,
	})

	got, cov, err := newAggregator(t, f.DB).Collect(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.CoverageComplete, cov.Status)
	assert.Equal(t, 1, cov.DuplicatesDropped)

	assert.Equal(t, "c1", got[0].RecordID)
	assert.Equal(t, models.AssetRates, got[0].AssetClass)
	assert.Equal(t, "d1", got[1].RecordID)
	assert.Equal(t, models.AssetCredit, got[1].AssetClass)
	assert.Equal(t, models.DirectionShort, got[1].Direction)
	assert.Equal(t, "bigbank", got[1].Counterparty.Key)
	assert.True(t, got[1].Cleared)
}
