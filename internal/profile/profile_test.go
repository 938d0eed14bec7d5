package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/gamecock/internal/credit"
	"github.com/seenimoa/gamecock/internal/exposure"
	"github.com/seenimoa/gamecock/internal/obligation"
	"github.com/seenimoa/gamecock/internal/resolver"
	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/internal/store/storetest"
	"github.com/seenimoa/gamecock/internal/trigger"
	"github.com/seenimoa/gamecock/pkg/models"
)

var asOf = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func exp(id, cp string, ac models.AssetClass, d models.Direction, notional string) models.SwapExposure {
	return models.SwapExposure{
		ID:            id,
		Source:        models.SourceCFTC,
		RecordID:      id,
		AssetClass:    ac,
		Counterparty:  models.EntityRef{Key: cp, Name: cp},
		Notional:      dec(notional),
		Currency:      "USD",
		BaseNotional:  dec(notional),
		EffectiveDate: asOf.AddDate(-1, 0, 0),
		MaturityDate:  asOf.AddDate(4, 0, 0),
		Direction:     d,
	}
}

// ── Fakes ──

type fakeResolver struct {
	entities map[string]models.Entity
}

func (f *fakeResolver) Resolve(_ context.Context, id string, hint models.IdentifierType) (models.Entity, error) {
	if e, ok := f.entities[id]; ok {
		return e, nil
	}
	return models.Entity{}, &resolver.ResolutionError{Identifier: id, Hint: hint, Err: resolver.ErrNotFound}
}

type fakeAggregator struct {
	exposures []models.SwapExposure
	coverage  models.Coverage
	calls     atomic.Int32
}

func (f *fakeAggregator) Collect(ctx context.Context, _ models.Entity) ([]models.SwapExposure, models.Coverage, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, f.coverage, err
	}
	return f.exposures, f.coverage, nil
}

func (f *fakeAggregator) ReportingCurrency() string { return "USD" }

type fakeCredit struct {
	states map[string]models.CreditState
	err    error
}

func (f *fakeCredit) FetchAll(context.Context, []string) (map[string]models.CreditState, error) {
	return f.states, f.err
}

type fakeSnapshots struct {
	snap store.Snapshot
	err  error
}

func (f *fakeSnapshots) Snapshot(context.Context) (store.Snapshot, error) { return f.snap, f.err }

var abc = models.Entity{Key: "abc", Name: "ABC Corp"}

func complete() models.Coverage {
	return models.Coverage{Status: models.CoverageComplete, Sources: models.AllSourceKinds()}
}

func newBuilder(agg *fakeAggregator, opts ...Option) *Builder {
	r := &fakeResolver{entities: map[string]models.Entity{"ABC": abc}}
	return New(r, agg, &fakeCredit{}, trigger.New(trigger.DefaultConfig()), obligation.New(obligation.DefaultConfig()), opts...)
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// ── Metrics ──

func TestComputeMetrics(t *testing.T) {
	m := ComputeMetrics([]models.SwapExposure{
		exp("1", "bank-a", models.AssetRates, models.DirectionReceiveFixed, "100"),
		exp("2", "bank-a", models.AssetRates, models.DirectionPayFixed, "60"),
		exp("3", "bank-a", models.AssetCredit, models.DirectionLong, "50"),
		exp("4", "bank-b", models.AssetRates, models.DirectionPayFixed, "30"),
	})

	assert.True(t, dec("240").Equal(m.Gross), "gross %s", m.Gross)
	assert.True(t, dec("120").Equal(m.Net), "net %s", m.Net)

	require.Len(t, m.ByCounterparty, 2)
	a, b := m.ByCounterparty[0], m.ByCounterparty[1]
	assert.Equal(t, "bank-a", a.Counterparty.Key)
	assert.True(t, dec("210").Equal(a.Gross))
	assert.True(t, dec("90").Equal(a.Net), "rates nets to 40, credit stands at 50")
	assert.Equal(t, 3, a.ExposureCount)
	assert.True(t, dec("0.875").Equal(a.Share))
	assert.True(t, dec("30").Equal(b.Net))

	require.Len(t, m.ByAssetClass, 2)
	assert.Equal(t, models.AssetRates, m.ByAssetClass[0].AssetClass)
	assert.True(t, dec("190").Equal(m.ByAssetClass[0].Gross))
	assert.True(t, dec("70").Equal(m.ByAssetClass[0].Net))

	c := m.Concentration
	assert.Equal(t, 2, c.CounterpartyCount)
	assert.Equal(t, "bank-a", c.TopCounterparty.Key)
	assert.True(t, dec("0.78125").Equal(c.HHI), "hhi %s", c.HHI)
	assert.True(t, dec("1").Equal(c.TopFiveShare))
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil)
	assert.True(t, m.Gross.IsZero())
	assert.True(t, m.Net.IsZero())
	assert.NotNil(t, m.ByCounterparty)
	assert.Equal(t, 0, m.Concentration.CounterpartyCount)
}

func TestComputeMetricsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	classes := models.AllAssetClasses()
	build := func(notionals []int64, cps []uint8, sides []bool) []models.SwapExposure {
		n := min(len(notionals), len(cps), len(sides))
		out := make([]models.SwapExposure, n)
		for i := range n {
			d := models.DirectionReceiveFixed
			if sides[i] {
				d = models.DirectionPayFixed
			}
			cp := fmt.Sprintf("cp-%d", cps[i]%7)
			out[i] = exp(fmt.Sprint(i), cp, classes[int(cps[i])%len(classes)], d, "0")
			out[i].BaseNotional = decimal.NewFromInt(notionals[i])
			out[i].Notional = out[i].BaseNotional
		}
		return out
	}
	notionals := gen.SliceOf(gen.Int64Range(0, 5_000_000_000))
	cps := gen.SliceOf(gen.UInt8())
	sides := gen.SliceOf(gen.Bool())

	properties.Property("net never exceeds gross", prop.ForAll(
		func(ns []int64, cs []uint8, ss []bool) bool {
			m := ComputeMetrics(build(ns, cs, ss))
			return m.Net.LessThanOrEqual(m.Gross) && !m.Net.IsNegative()
		},
		notionals, cps, sides,
	))

	properties.Property("counterparty gross sums to total gross", prop.ForAll(
		func(ns []int64, cs []uint8, ss []bool) bool {
			m := ComputeMetrics(build(ns, cs, ss))
			sum := decimal.Zero
			for _, cp := range m.ByCounterparty {
				sum = sum.Add(cp.Gross)
			}
			return sum.Equal(m.Gross)
		},
		notionals, cps, sides,
	))

	properties.Property("shares sum to one and HHI is a fraction", prop.ForAll(
		func(ns []int64, cs []uint8, ss []bool) bool {
			m := ComputeMetrics(build(ns, cs, ss))
			if !m.Gross.IsPositive() {
				return true
			}
			sum := decimal.Zero
			for _, cp := range m.ByCounterparty {
				sum = sum.Add(cp.Share)
			}
			tolerance := dec("0.00001")
			return sum.Sub(decimal.NewFromInt(1)).Abs().LessThanOrEqual(tolerance) &&
				m.Concentration.HHI.IsPositive() &&
				m.Concentration.HHI.LessThanOrEqual(decimal.NewFromInt(1).Add(tolerance))
		},
		notionals, cps, sides,
	))

	properties.TestingRun(t)
}

// ── Builder ──

func TestBuildResolutionErrorHasNoProfile(t *testing.T) {
	agg := &fakeAggregator{coverage: complete()}
	p, err := newBuilder(agg).Build(context.Background(), "NOPE")

	assert.Nil(t, p)
	require.Error(t, err)
	assert.True(t, resolver.IsResolutionError(err))
	assert.True(t, errors.Is(err, resolver.ErrNotFound))
	assert.Zero(t, agg.calls.Load(), "nothing is aggregated for an unresolved identifier")
}

func TestBuildAssemblesProfile(t *testing.T) {
	agg := &fakeAggregator{
		exposures: []models.SwapExposure{
			exp("1", "bank-a", models.AssetRates, models.DirectionReceiveFixed, "400"),
			exp("2", "bank-b", models.AssetRates, models.DirectionReceiveFixed, "100"),
		},
		coverage: complete(),
	}
	b := newBuilder(agg,
		WithSnapshots(&fakeSnapshots{snap: store.Snapshot{Version: "v1", AsOf: asOf}}),
		WithClock(fixedClock(time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC))))

	p, err := b.Build(context.Background(), "ABC")
	require.NoError(t, err)

	assert.Equal(t, abc, p.Entity)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, asOf, p.AsOf, "asOf comes from the snapshot, not the clock")
	assert.Equal(t, "v1", p.SnapshotVersion)
	assert.Equal(t, 2, p.ExposureCount)
	assert.True(t, dec("500").Equal(p.GrossExposure))
	assert.NotEmpty(t, p.Triggers, "an 80% share is a concentration trigger")
	assert.Equal(t, models.TriggerConcentration, p.Triggers[0].Type)
	assert.NotZero(t, p.Obligations.Count())
	assert.Contains(t, p.Summary, "ABC Corp: gross $500.00")
	assert.Contains(t, p.Summary, "largest bank-a at 80.0%")
}

func TestBuildIsReproducible(t *testing.T) {
	agg := &fakeAggregator{
		exposures: []models.SwapExposure{
			exp("1", "bank-a", models.AssetRates, models.DirectionReceiveFixed, "400"),
			exp("2", "bank-b", models.AssetCredit, models.DirectionShort, "250"),
			exp("3", "bank-c", models.AssetFX, models.DirectionLong, "90"),
		},
		coverage: complete(),
	}
	snaps := &fakeSnapshots{snap: store.Snapshot{Version: "v1", AsOf: asOf}}

	first, err := newBuilder(agg, WithSnapshots(snaps), WithClock(fixedClock(asOf.Add(time.Hour)))).Build(context.Background(), "ABC")
	require.NoError(t, err)
	second, err := newBuilder(agg, WithSnapshots(snaps), WithClock(fixedClock(asOf.Add(50*time.Hour)))).Build(context.Background(), "ABC")
	require.NoError(t, err)

	assert.NotEqual(t, first.GeneratedAt, second.GeneratedAt)
	second.GeneratedAt = first.GeneratedAt
	assert.Equal(t, first, second)
}

func TestBuildAsOfFallbacks(t *testing.T) {
	agg := &fakeAggregator{coverage: complete()}
	clock := time.Date(2024, 9, 2, 17, 45, 0, 0, time.UTC)
	b := newBuilder(agg, WithSnapshots(&fakeSnapshots{err: errors.New("no table")}), WithClock(fixedClock(clock)))

	p, err := b.BuildRequest(context.Background(), Request{Identifier: "ABC", AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, asOf, p.AsOf, "request asOf when the store has no snapshot")

	p, err = b.Build(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), p.AsOf, "clock truncated to the day")
}

func TestBuildPartialCoverage(t *testing.T) {
	cov := complete()
	cov.Status = models.CoveragePartial
	cov.Unavailable = []models.SourceFailure{{Source: models.SourceDTCC, Error: "timeout", At: asOf}}
	agg := &fakeAggregator{
		exposures: []models.SwapExposure{exp("1", "bank-a", models.AssetRates, models.DirectionReceiveFixed, "400")},
		coverage:  cov,
	}
	cache := NewMemoryCache(time.Minute)
	b := newBuilder(agg, WithCache(cache), WithSnapshots(&fakeSnapshots{snap: store.Snapshot{Version: "v1", AsOf: asOf}}))

	p, err := b.Build(context.Background(), "ABC")
	require.NoError(t, err, "partial coverage degrades, it does not fail")
	assert.Equal(t, models.CoveragePartial, p.Coverage.Status)
	assert.Contains(t, p.Summary, "partial coverage (unavailable: dtcc)")
	assert.Zero(t, cache.Len(), "partial profiles are not cached")
}

func TestBuildCachesBySnapshotVersion(t *testing.T) {
	agg := &fakeAggregator{
		exposures: []models.SwapExposure{exp("1", "bank-a", models.AssetRates, models.DirectionReceiveFixed, "400")},
		coverage:  complete(),
	}
	snaps := &fakeSnapshots{snap: store.Snapshot{Version: "v1", AsOf: asOf}}
	b := newBuilder(agg, WithCache(NewMemoryCache(time.Minute)), WithSnapshots(snaps))

	first, err := b.Build(context.Background(), "ABC")
	require.NoError(t, err)
	again, err := b.Build(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.EqualValues(t, 1, agg.calls.Load())

	snaps.snap.Version = "v2"
	_, err = b.Build(context.Background(), "ABC")
	require.NoError(t, err)
	assert.EqualValues(t, 2, agg.calls.Load(), "a new snapshot version is a miss")
}

func TestBuildWithoutSnapshotVersionSkipsCache(t *testing.T) {
	agg := &fakeAggregator{coverage: complete()}
	cache := NewMemoryCache(time.Minute)
	b := newBuilder(agg, WithCache(cache))

	for range 2 {
		_, err := b.Build(context.Background(), "ABC")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, agg.calls.Load())
	assert.Zero(t, cache.Len())
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg := &fakeAggregator{coverage: complete()}

	_, err := newBuilder(agg).Build(ctx, "ABC")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resolver.IsResolutionError(err))
}

func TestBuildCreditFailureIsFatalOnlyOnCancel(t *testing.T) {
	agg := &fakeAggregator{
		exposures: []models.SwapExposure{exp("1", "bank-a", models.AssetRates, models.DirectionReceiveFixed, "400")},
		coverage:  complete(),
	}
	r := &fakeResolver{entities: map[string]models.Entity{"ABC": abc}}
	b := New(r, agg, &fakeCredit{err: context.DeadlineExceeded},
		trigger.New(trigger.DefaultConfig()), obligation.New(obligation.DefaultConfig()))

	_, err := b.Build(context.Background(), "ABC")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ── Caches ──

type fakeByteStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (f *fakeByteStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeByteStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func TestSharedCacheRoundTrip(t *testing.T) {
	bs := &fakeByteStore{data: map[string][]byte{}}
	c := NewSharedCache(bs, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "abc@v1")
	assert.False(t, ok)

	in := &models.SinglePartyRiskProfile{
		Entity:        abc,
		Currency:      "USD",
		GrossExposure: dec("5200000000"),
		NetExposure:   dec("4100000000"),
		AsOf:          asOf,
		Summary:       "ABC Corp",
	}
	c.Set(ctx, "abc@v1", in)
	out, ok := c.Get(ctx, "abc@v1")
	require.True(t, ok)
	assert.True(t, in.GrossExposure.Equal(out.GrossExposure))
	assert.Equal(t, in.Entity.Key, out.Entity.Key)
	assert.True(t, in.AsOf.Equal(out.AsOf))
}

func TestSharedCacheFailuresAreMisses(t *testing.T) {
	bs := &fakeByteStore{data: map[string][]byte{"bad": []byte("{not json")}}
	c := NewSharedCache(bs, nil)

	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)

	bs.err = errors.New("connection refused")
	c.Set(context.Background(), "abc@v1", &models.SinglePartyRiskProfile{})
	_, ok = c.Get(context.Background(), "abc@v1")
	assert.False(t, ok)
}

// ── End to end ──

func TestABCCorpProfileFromStore(t *testing.T) {
	f := storetest.New(t)
	f.Snapshot("2024-06-28", asOf)
	f.Entity("abc", "ABC Corp",
		models.Identifier{Type: models.IdentifierTicker, Value: "ABC"},
		models.Identifier{Type: models.IdentifierLEI, Value: "ABCLEI00000000000001"})

	banks := []struct {
		key   string
		count int
		each  string
	}{
		{"bank-a", 4, "400000000"},
		{"bank-b", 5, "180000000"},
		{"bank-c", 5, "180000000"},
		{"bank-d", 5, "180000000"},
		{"bank-e", 4, "225000000"},
	}
	for i, bank := range banks {
		lei := fmt.Sprintf("BANK%dLEI00000000000%d", i, i)
		f.Entity(bank.key, "Bank "+bank.key[5:], models.Identifier{Type: models.IdentifierLEI, Value: lei})
		for n := range bank.count {
			eff := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
			if bank.key == "bank-a" && n == 0 {
				eff = asOf.AddDate(0, 0, -20)
			}
			f.CFTCSwap(storetest.Swap{
				ID: fmt.Sprintf("%s-%d", bank.key, n), AssetClass: "IR", Product: "IRSwap",
				Notional: bank.each, Currency: "USD",
				Effective: eff, Maturity: time.Date(2029, 1, 15, 0, 0, 0, 0, time.UTC),
				Party1ID: "ABCLEI00000000000001", Party1Name: "ABC Corp",
				Party2ID: lei, Party2Name: "Bank " + bank.key[5:],
				Direction: "receive_fixed", Frequency: "3M", FixedRate: "3.5",
			})
		}
	}
	f.Rating("bank-a", "S&P", "A-", time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))
	f.Rating("bank-a", "S&P", "BBB-", time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC))

	agg, err := exposure.New(f.DB, exposure.DefaultConfig())
	require.NoError(t, err)
	b := New(
		resolver.New(f.DB, resolver.DefaultConfig()),
		agg,
		credit.NewFetcher(credit.NewStoreProvider(f.DB), credit.FetchConfig{}, nil),
		trigger.New(trigger.DefaultConfig()),
		obligation.New(obligation.DefaultConfig()),
		WithSnapshots(f.DB),
	)

	p, err := b.Build(context.Background(), "ABC")
	require.NoError(t, err)

	assert.Equal(t, "abc", p.Entity.Key)
	assert.Equal(t, 23, p.ExposureCount)
	assert.True(t, dec("5200000000").Equal(p.GrossExposure), "gross %s", p.GrossExposure)
	assert.Equal(t, models.CoverageComplete, p.Coverage.Status)
	assert.Equal(t, "2024-06-28", p.SnapshotVersion)

	require.Len(t, p.ByCounterparty, 5)
	top := p.ByCounterparty[0]
	assert.Equal(t, "bank-a", top.Counterparty.Key)
	assert.True(t, dec("1600000000").Equal(top.Gross))
	assert.Equal(t, "BBB-", top.Rating)

	var bankA []models.RiskTrigger
	for _, tr := range p.Triggers {
		if tr.Counterparty.Key == "bank-a" {
			bankA = append(bankA, tr)
		}
	}
	require.Len(t, bankA, 2)
	types := map[models.TriggerType]models.Severity{}
	for _, tr := range bankA {
		types[tr.Type] = tr.Severity
	}
	assert.Equal(t, models.SeverityHigh, types[models.TriggerConcentration])
	assert.Equal(t, models.SeverityHigh, types[models.TriggerRatingDowngradeProximity])

	var nearPayments int
	for _, o := range p.Obligations.NearTerm {
		if o.Type == models.ObligationPayment && o.ExposureID != "" {
			nearPayments++
		}
	}
	assert.GreaterOrEqual(t, nearPayments, 1, "the swap effective 20 days ago is due this period")
	assert.Contains(t, p.Summary, "$5.20B")
}
