// Package crossfiling consolidates risk profiles across a parent and its
// subsidiaries and reconciles them against filing-disclosed exposure.
package crossfiling

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/pkg/models"
)

// --- Collaborators ---

// Resolver maps an identifier to one entity.
type Resolver interface {
	Resolve(ctx context.Context, identifier string, hint models.IdentifierType) (models.Entity, error)
}

// ProfileBuilder builds the profile of a resolved entity.
type ProfileBuilder interface {
	BuildEntity(ctx context.Context, entity models.Entity, asOf time.Time) (*models.SinglePartyRiskProfile, error)
}

// StructureProvider enumerates an entity's direct subsidiaries.
type StructureProvider interface {
	Subsidiaries(ctx context.Context, key string) ([]models.Entity, error)
}

// DisclosureProvider returns the aggregate derivative notional an entity
// disclosed for a filing period. found is false when nothing was disclosed.
type DisclosureProvider interface {
	DisclosedExposure(ctx context.Context, entity models.Entity, period string) (disc store.Disclosure, found bool, err error)
}

// --- Configuration ---

// Config holds the consolidation settings.
type Config struct {
	Tolerance         decimal.Decimal // relative gap that counts as a discrepancy (default: 0.10)
	FilingPeriod      string          // "latest" or a period such as "2024Q4"
	MaxDepth          int             // subsidiary levels below the root (default: 1)
	Concurrency       int             // member builds in flight (default: 4)
	DisclosureTimeout time.Duration   // per disclosure lookup (default: 10s)
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Tolerance:         decimal.NewFromFloat(0.10),
		FilingPeriod:      store.LatestPeriod,
		MaxDepth:          1,
		Concurrency:       4,
		DisclosureTimeout: 10 * time.Second,
	}
}

// --- Engine ---

// Engine builds consolidated profiles. It is safe for concurrent use.
type Engine struct {
	resolver    Resolver
	profiles    ProfileBuilder
	structure   StructureProvider
	disclosures DisclosureProvider
	cfg         Config
	log         *slog.Logger
	metrics     *infra.Metrics
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = logging.OrDiscard(l) }
}

// WithMetrics counts flagged discrepancies.
func WithMetrics(m *infra.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Zero config values take DefaultConfig values,
// except Tolerance where zero means exact agreement.
func New(r Resolver, profiles ProfileBuilder, structure StructureProvider, disclosures DisclosureProvider, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.FilingPeriod == "" {
		cfg.FilingPeriod = def.FilingPeriod
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.DisclosureTimeout <= 0 {
		cfg.DisclosureTimeout = def.DisclosureTimeout
	}
	e := &Engine{
		resolver:    r,
		profiles:    profiles,
		structure:   structure,
		disclosures: disclosures,
		cfg:         cfg,
		log:         logging.Discard(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Request is a consolidation request.
type Request struct {
	Identifier string
	Hint       models.IdentifierType
	AsOf       time.Time // fallback when the store carries no snapshot date
}

// BuildConsolidated resolves the root entity and consolidates it with its
// subsidiaries. Only root resolution errors and cancellation are returned;
// member failures become coverage notes.
func (e *Engine) BuildConsolidated(ctx context.Context, identifier string) (*models.ConsolidatedRiskProfile, error) {
	return e.BuildConsolidatedRequest(ctx, Request{Identifier: identifier, Hint: models.IdentifierAuto})
}

// BuildConsolidatedRequest is BuildConsolidated with a hint and asOf fallback.
func (e *Engine) BuildConsolidatedRequest(ctx context.Context, req Request) (*models.ConsolidatedRiskProfile, error) {
	root, err := e.resolver.Resolve(ctx, req.Identifier, req.Hint)
	if err != nil {
		return nil, err
	}

	members, notes := e.members(ctx, root)
	results := e.buildMembers(ctx, members, req.AsOf)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("consolidate %s: %w", root.Key, err)
	}

	out := &models.ConsolidatedRiskProfile{
		Root:          root,
		Members:       members,
		Profiles:      []models.SinglePartyRiskProfile{},
		Discrepancies: []models.Discrepancy{},
		Coverage:      models.CoverageComplete,
	}
	for _, r := range results {
		notes = append(notes, r.notes...)
		if r.profile == nil {
			continue
		}
		out.Profiles = append(out.Profiles, *r.profile)
		if r.discrepancy != nil {
			out.Discrepancies = append(out.Discrepancies, *r.discrepancy)
		}
	}
	e.total(out)
	out.Notes = notes
	if len(notes) > 0 {
		out.Coverage = models.CoveragePartial
	}
	out.GeneratedAt = e.now().UTC()

	e.metrics.CountDiscrepancies(len(out.Discrepancies))
	e.log.Info("consolidated profile built",
		"root", root.Key,
		"members", len(members),
		"profiles", len(out.Profiles),
		"discrepancies", len(out.Discrepancies),
		"coverage", out.Coverage)
	return out, nil
}

// members walks the corporate structure breadth first from root, up to
// MaxDepth levels. Entities already seen are skipped, so cycles terminate.
func (e *Engine) members(ctx context.Context, root models.Entity) ([]models.Entity, []models.CoverageNote) {
	members := []models.Entity{root}
	seen := map[string]bool{root.Key: true}
	var notes []models.CoverageNote

	level := []models.Entity{root}
	for depth := 0; depth < e.cfg.MaxDepth && len(level) > 0; depth++ {
		var next []models.Entity
		for _, parent := range level {
			children, err := e.structure.Subsidiaries(ctx, parent.Key)
			if err != nil {
				e.log.Warn("corporate structure unavailable", "entity", parent.Key, "error", err)
				notes = append(notes, models.CoverageNote{
					Entity: parent.Ref(),
					Reason: "subsidiaries unavailable: " + err.Error(),
				})
				continue
			}
			for _, c := range children {
				if seen[c.Key] {
					continue
				}
				seen[c.Key] = true
				members = append(members, c)
				next = append(next, c)
			}
		}
		level = next
	}
	return members, notes
}

type memberResult struct {
	profile     *models.SinglePartyRiskProfile
	discrepancy *models.Discrepancy
	notes       []models.CoverageNote
}

func (e *Engine) buildMembers(ctx context.Context, members []models.Entity, asOf time.Time) []memberResult {
	results := make([]memberResult, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, m := range members {
		g.Go(func() error {
			results[i] = e.buildMember(gctx, m, asOf)
			// member failures never cancel siblings
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) buildMember(ctx context.Context, m models.Entity, asOf time.Time) memberResult {
	var r memberResult
	note := func(reason string) {
		r.notes = append(r.notes, models.CoverageNote{Entity: m.Ref(), Reason: reason})
	}

	p, err := e.profiles.BuildEntity(ctx, m, asOf)
	if err != nil {
		e.log.Warn("member profile failed", "entity", m.Key, "error", err)
		note("profile unavailable: " + err.Error())
		return r
	}
	r.profile = p
	if !p.Coverage.Complete() {
		note("partial source coverage; aggregated exposure may be understated")
	}

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DisclosureTimeout)
	disc, found, err := e.disclosures.DisclosedExposure(dctx, m, e.cfg.FilingPeriod)
	cancel()
	switch {
	case err != nil:
		e.log.Warn("disclosure lookup failed", "entity", m.Key, "error", err)
		note("disclosure unavailable: " + err.Error())
	case !found:
	case disc.Currency != "" && p.Currency != "" && disc.Currency != p.Currency:
		note(fmt.Sprintf("disclosure in %s is not comparable with %s aggregation", disc.Currency, p.Currency))
	default:
		if d, ok := Compare(m.Ref(), disc, p.GrossExposure, e.cfg.Tolerance); ok {
			r.discrepancy = &d
		}
	}
	return r
}

// Compare reports a discrepancy when aggregated differs from the disclosed
// amount by more than tolerance, relative to the disclosed amount. A zero
// disclosure against any aggregated exposure has a relative gap of 1.
func Compare(entity models.EntityRef, disc store.Disclosure, aggregated, tolerance decimal.Decimal) (models.Discrepancy, bool) {
	gap := aggregated.Sub(disc.Amount)
	var rel decimal.Decimal
	switch {
	case disc.Amount.IsPositive():
		rel = gap.Abs().Div(disc.Amount.Abs())
	case gap.IsZero():
		rel = decimal.Zero
	default:
		rel = decimal.NewFromInt(1)
	}
	if !rel.GreaterThan(tolerance) {
		return models.Discrepancy{}, false
	}
	return models.Discrepancy{
		Entity:       entity,
		FilingPeriod: disc.Period,
		Disclosed:    disc.Amount,
		Aggregated:   aggregated,
		Gap:          gap,
		RelativeGap:  rel.Round(6),
	}, true
}

// total sums member profiles into the consolidated figures and merges the
// counterparty breakdown across members.
func (e *Engine) total(out *models.ConsolidatedRiskProfile) {
	byKey := make(map[string]*models.CounterpartyExposure)
	for _, p := range out.Profiles {
		if out.Currency == "" {
			out.Currency = p.Currency
		}
		out.GrossExposure = out.GrossExposure.Add(p.GrossExposure)
		out.NetExposure = out.NetExposure.Add(p.NetExposure)
		for _, cp := range p.ByCounterparty {
			agg, ok := byKey[cp.Counterparty.Key]
			if !ok {
				agg = &models.CounterpartyExposure{Counterparty: cp.Counterparty, Rating: cp.Rating}
				byKey[cp.Counterparty.Key] = agg
			}
			agg.Gross = agg.Gross.Add(cp.Gross)
			agg.Net = agg.Net.Add(cp.Net)
			agg.ExposureCount += cp.ExposureCount
		}
	}

	out.ByCounterparty = make([]models.CounterpartyExposure, 0, len(byKey))
	for _, cp := range byKey {
		if out.GrossExposure.IsPositive() {
			cp.Share = cp.Gross.Div(out.GrossExposure).Round(6)
		}
		out.ByCounterparty = append(out.ByCounterparty, *cp)
	}
	slices.SortFunc(out.ByCounterparty, func(a, b models.CounterpartyExposure) int {
		return cmp.Or(b.Gross.Cmp(a.Gross), cmp.Compare(a.Counterparty.Key, b.Counterparty.Key))
	})
}

// --- Store-backed providers ---

// StoreDisclosures serves disclosures recorded in the relational store.
type StoreDisclosures struct {
	db interface {
		DisclosedExposure(ctx context.Context, key, period string) (store.Disclosure, bool, error)
	}
}

// NewStoreDisclosures wraps a store.
func NewStoreDisclosures(db *store.DB) *StoreDisclosures {
	return &StoreDisclosures{db: db}
}

// DisclosedExposure implements DisclosureProvider.
func (s *StoreDisclosures) DisclosedExposure(ctx context.Context, entity models.Entity, period string) (store.Disclosure, bool, error) {
	return s.db.DisclosedExposure(ctx, entity.Key, period)
}
