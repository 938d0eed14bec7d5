// Package profile composes resolution, aggregation, trigger detection and
// obligation tracking into one risk profile per entity.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/internal/obligation"
	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/internal/trigger"
	"github.com/seenimoa/gamecock/pkg/models"
	"github.com/seenimoa/gamecock/pkg/utils"
)

// --- Collaborators ---

// Resolver maps an identifier to one entity.
type Resolver interface {
	Resolve(ctx context.Context, identifier string, hint models.IdentifierType) (models.Entity, error)
}

// Aggregator collects an entity's exposures, in the reporting currency.
type Aggregator interface {
	Collect(ctx context.Context, entity models.Entity) ([]models.SwapExposure, models.Coverage, error)
	ReportingCurrency() string
}

// CreditFetcher looks up credit state for a batch of counterparties.
type CreditFetcher interface {
	FetchAll(ctx context.Context, keys []string) (map[string]models.CreditState, error)
}

// SnapshotSource reports the data load the store serves.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (store.Snapshot, error)
}

// --- Builder ---

// Builder builds single-party risk profiles. It keeps no per-request state
// and is safe for concurrent use.
type Builder struct {
	resolver  Resolver
	agg       Aggregator
	credit    CreditFetcher
	detector  *trigger.Detector
	tracker   *obligation.Tracker
	snapshots SnapshotSource
	cache     Cache
	metrics   *infra.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.log = logging.OrDiscard(l) }
}

// WithMetrics records build counts and durations.
func WithMetrics(m *infra.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithCache caches profiles by entity key and snapshot version.
func WithCache(c Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithSnapshots supplies the snapshot metadata that fixes asOf.
func WithSnapshots(s SnapshotSource) Option {
	return func(b *Builder) { b.snapshots = s }
}

// WithClock overrides the clock used for GeneratedAt and the asOf fallback.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// New creates a Builder.
func New(r Resolver, agg Aggregator, credit CreditFetcher, detector *trigger.Detector, tracker *obligation.Tracker, opts ...Option) *Builder {
	b := &Builder{
		resolver: r,
		agg:      agg,
		credit:   credit,
		detector: detector,
		tracker:  tracker,
		log:      logging.Discard(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Request is a profile build request.
type Request struct {
	Identifier string
	Hint       models.IdentifierType
	// AsOf is used when the store carries no snapshot date.
	AsOf time.Time
}

// Build resolves identifier and builds its profile. Resolution failures are
// returned as *resolver.ResolutionError with no partial profile.
func (b *Builder) Build(ctx context.Context, identifier string) (*models.SinglePartyRiskProfile, error) {
	return b.BuildRequest(ctx, Request{Identifier: identifier, Hint: models.IdentifierAuto})
}

// BuildRequest is Build with an identifier hint and asOf fallback.
func (b *Builder) BuildRequest(ctx context.Context, req Request) (*models.SinglePartyRiskProfile, error) {
	entity, err := b.resolver.Resolve(ctx, req.Identifier, req.Hint)
	if err != nil {
		b.metrics.ObserveProfile("unresolved", 0)
		return nil, err
	}
	return b.BuildEntity(ctx, entity, req.AsOf)
}

// BuildEntity builds the profile of an already-resolved entity.
func (b *Builder) BuildEntity(ctx context.Context, entity models.Entity, fallbackAsOf time.Time) (*models.SinglePartyRiskProfile, error) {
	start := b.now()
	snap := b.snapshot(ctx)
	asOf := snap.AsOf
	if asOf.IsZero() {
		asOf = fallbackAsOf
	}
	if asOf.IsZero() {
		asOf = start
	}
	asOf = utils.DateOnly(asOf)

	key := cacheKey(entity.Key, snap.Version)
	if b.cache != nil && key != "" {
		if p, ok := b.cache.Get(ctx, key); ok {
			b.metrics.CacheResult(true)
			b.metrics.ObserveProfile("cached", b.now().Sub(start))
			return p, nil
		}
		b.metrics.CacheResult(false)
	}

	p, err := b.assemble(ctx, entity, asOf)
	if err != nil {
		b.metrics.ObserveProfile("error", b.now().Sub(start))
		return nil, err
	}
	p.SnapshotVersion = snap.Version
	p.GeneratedAt = b.now().UTC()

	if b.cache != nil && key != "" && p.Coverage.Complete() {
		b.cache.Set(ctx, key, p)
	}
	b.metrics.ObserveProfile("ok", b.now().Sub(start))
	b.log.Info("profile built",
		"entity", entity.Key,
		"exposures", p.ExposureCount,
		"triggers", len(p.Triggers),
		"coverage", p.Coverage.Status,
		"elapsed", b.now().Sub(start))
	return p, nil
}

func (b *Builder) snapshot(ctx context.Context) store.Snapshot {
	if b.snapshots == nil {
		return store.Snapshot{}
	}
	snap, err := b.snapshots.Snapshot(ctx)
	if err != nil {
		b.log.Warn("snapshot metadata unavailable", "error", err)
		return store.Snapshot{}
	}
	return snap
}

// cacheKey is empty when there is no snapshot version to key on.
func cacheKey(entityKey, version string) string {
	if version == "" {
		return ""
	}
	return entityKey + "@" + version
}

func (b *Builder) assemble(ctx context.Context, entity models.Entity, asOf time.Time) (*models.SinglePartyRiskProfile, error) {
	exposures, coverage, err := b.agg.Collect(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", entity.Key, err)
	}
	if coverage.Status == models.CoveragePartial {
		b.log.Warn("partial coverage", "entity", entity.Key, "unavailable", coverage.UnavailableSources())
	}

	keys := make([]string, 0, len(exposures))
	for _, e := range exposures {
		keys = append(keys, e.Counterparty.Key)
	}
	states, err := b.credit.FetchAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	// Detection and tracking read the same immutable exposure slice.
	var (
		triggers []models.RiskTrigger
		schedule models.ObligationSchedule
	)
	var g errgroup.Group
	g.Go(func() error {
		triggers = b.detector.Detect(exposures, states, asOf)
		return nil
	})
	g.Go(func() error {
		schedule = b.tracker.Track(exposures, asOf)
		return nil
	})
	_ = g.Wait()

	m := ComputeMetrics(exposures)
	for i := range m.ByCounterparty {
		if st, ok := states[m.ByCounterparty[i].Counterparty.Key]; ok {
			m.ByCounterparty[i].Rating = st.Rating
		}
	}

	p := &models.SinglePartyRiskProfile{
		Entity:         entity,
		Currency:       b.agg.ReportingCurrency(),
		GrossExposure:  m.Gross,
		NetExposure:    m.Net,
		ExposureCount:  len(exposures),
		ByCounterparty: m.ByCounterparty,
		ByAssetClass:   m.ByAssetClass,
		Triggers:       triggers,
		Obligations:    schedule,
		Concentration:  m.Concentration,
		Coverage:       coverage,
		AsOf:           asOf,
	}
	p.Summary = Summarize(p)
	return p, nil
}

// --- Summary ---

// Summarize renders the one-line profile headline.
func Summarize(p *models.SinglePartyRiskProfile) string {
	s := fmt.Sprintf("%s: gross %s, net %s across %d exposures with %d counterparties",
		p.Entity.Name,
		utils.FormatCompact(p.GrossExposure, p.Currency),
		utils.FormatCompact(p.NetExposure, p.Currency),
		p.ExposureCount,
		p.Concentration.CounterpartyCount)
	if !p.Concentration.TopCounterparty.IsZero() {
		s += fmt.Sprintf("; largest %s at %s", p.Concentration.TopCounterparty.Name, utils.FormatPct(p.Concentration.TopShare))
	}

	counts := make(map[models.Severity]int)
	for _, t := range p.Triggers {
		counts[t.Severity]++
	}
	var parts []string
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	if len(parts) > 0 {
		s += "; triggers: " + strings.Join(parts, ", ")
	}
	if near := len(p.Obligations.NearTerm); near > 0 {
		s += fmt.Sprintf("; %d obligations due within 30 days", near)
	}
	if !p.Coverage.Complete() {
		var names []string
		for _, k := range p.Coverage.UnavailableSources() {
			names = append(names, string(k))
		}
		slices.Sort(names)
		s += "; partial coverage (unavailable: " + strings.Join(names, ", ") + ")"
	}
	return s
}
