package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/api"
	"github.com/seenimoa/gamecock/internal/config"
	"github.com/seenimoa/gamecock/internal/credit"
	"github.com/seenimoa/gamecock/internal/crossfiling"
	"github.com/seenimoa/gamecock/internal/exposure"
	"github.com/seenimoa/gamecock/internal/filings"
	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/obligation"
	"github.com/seenimoa/gamecock/internal/profile"
	"github.com/seenimoa/gamecock/internal/resolver"
	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/internal/trigger"
	"github.com/seenimoa/gamecock/pkg/models"
)

// app holds the wired services for one command run.
type app struct {
	db           *store.DB
	redis        *infra.RedisCache
	metrics      *infra.Metrics
	resolver     *resolver.Resolver
	profiles     *profile.Builder
	consolidated *crossfiling.Engine
}

// newApp opens the store and builds every service from cfg.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	db, err := store.Open(ctx, store.Options{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		QueryTimeout: cfg.Store.QueryTimeout(),
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	a := &app{db: db, metrics: infra.NewMetrics()}
	if err := a.wire(ctx, cfg, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Store.Bootstrap {
		if err := a.db.Bootstrap(ctx); err != nil {
			return err
		}
	}

	a.resolver = resolver.New(a.db, resolver.Config{
		FuzzyThreshold: cfg.Resolver.FuzzyThreshold,
		MaxCandidates:  cfg.Resolver.MaxCandidates,
	},
		resolver.WithLogger(log),
		resolver.WithIndexCache(infra.NewMemoryCache[[]models.Entity](cfg.Cache.TTL())),
	)

	agg, err := exposure.New(a.db, exposure.Config{
		Sources:           cfg.SourceKinds(),
		SourceTimeout:     cfg.Store.SourceTimeout(),
		ReportingCurrency: strings.ToUpper(cfg.Risk.ReportingCurrency),
		FXRates:           fxRates(cfg.Risk.FXRates),
		DedupTolerance:    decimal.NewFromFloat(cfg.Risk.DedupTolerance),
	}, exposure.WithLogger(log), exposure.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	detector, err := newDetector(cfg)
	if err != nil {
		return err
	}
	tracker, err := newTracker(cfg)
	if err != nil {
		return err
	}

	fetcher := credit.NewFetcher(credit.NewStoreProvider(a.db), credit.FetchConfig{
		Timeout:     cfg.Risk.CreditTimeout(),
		Concurrency: cfg.Risk.CreditConcurrency,
	}, log)

	opts := []profile.Option{
		profile.WithLogger(log),
		profile.WithMetrics(a.metrics),
		profile.WithSnapshots(a.db),
	}
	switch cfg.Cache.Backend {
	case "memory":
		opts = append(opts, profile.WithCache(profile.NewMemoryCache(cfg.Cache.TTL())))
	case "redis":
		a.redis = infra.NewRedisCache(infra.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   "gamecock:profile:",
			TTL:      cfg.Cache.TTL(),
		})
		opts = append(opts, profile.WithCache(profile.NewSharedCache(a.redis, log)))
	}
	a.profiles = profile.New(a.resolver, agg, fetcher, detector, tracker, opts...)

	disclosures, err := newDisclosures(cfg, a.db, a.metrics, log)
	if err != nil {
		return err
	}
	a.consolidated = crossfiling.New(a.resolver, a.profiles, a.db, disclosures, crossfiling.Config{
		Tolerance:         decimal.NewFromFloat(cfg.CrossFiling.Tolerance),
		FilingPeriod:      cfg.CrossFiling.FilingPeriod,
		MaxDepth:          cfg.CrossFiling.MaxDepth,
		Concurrency:       cfg.CrossFiling.Concurrency,
		DisclosureTimeout: cfg.CrossFiling.DisclosureTimeout(),
	}, crossfiling.WithLogger(log), crossfiling.WithMetrics(a.metrics))
	return nil
}

// services exposes the wired app to the HTTP API.
func (a *app) services() api.Services {
	return api.Services{
		Resolver:     a.resolver,
		Profiles:     a.profiles,
		Consolidated: a.consolidated,
		Store:        a.db,
	}
}

// Close releases the store and cache connections.
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// --- Config mapping ---

func newDetector(cfg *config.Config) (*trigger.Detector, error) {
	threshold, err := credit.ParseRating(cfg.Risk.RatingThreshold)
	if err != nil {
		return nil, fmt.Errorf("risk.rating_threshold: %w", err)
	}
	return trigger.New(trigger.Config{
		ConcentrationMedium: decimal.NewFromFloat(cfg.Risk.ConcentrationMedium),
		ConcentrationHigh:   decimal.NewFromFloat(cfg.Risk.ConcentrationHigh),
		RatingThreshold:     threshold,
		CDSWarningBps:       decimal.NewFromFloat(cfg.Risk.CDSWarningBps),
		DefaultShock:        decimal.NewFromFloat(cfg.Risk.DefaultShock),
		Shocks:              byAssetClass(cfg.Risk.Shocks),
		MarginBands: trigger.MarginBands{
			Medium:   decimal.NewFromFloat(cfg.Risk.MarginBands.Medium),
			High:     decimal.NewFromFloat(cfg.Risk.MarginBands.High),
			Critical: decimal.NewFromFloat(cfg.Risk.MarginBands.Critical),
		},
		AssumeZeroCollateral: cfg.Risk.AssumeZeroCollateral,
		Currency:             strings.ToUpper(cfg.Risk.ReportingCurrency),
	}), nil
}

func newTracker(cfg *config.Config) (*obligation.Tracker, error) {
	timing, err := obligation.ParseTiming(cfg.Obligations.PaymentTiming)
	if err != nil {
		return nil, fmt.Errorf("obligations.payment_timing: %w", err)
	}
	factors := obligation.DefaultMarginFactors()
	for class, f := range byAssetClass(cfg.Obligations.MarginFactors) {
		factors[class] = f
	}
	return obligation.New(obligation.Config{
		HorizonMonths:        cfg.Obligations.HorizonMonths,
		MaxOccurrences:       cfg.Obligations.MaxOccurrences,
		Timing:               timing,
		FloatingRateEstimate: decimal.NewFromFloat(cfg.Obligations.FloatingRateEstimate),
		MarginFactors:        factors,
		DefaultMarginFactor:  decimal.NewFromFloat(cfg.Obligations.DefaultMarginFactor),
		RegulatoryReports:    cfg.Obligations.RegulatoryReports,
		Currency:             strings.ToUpper(cfg.Risk.ReportingCurrency),
	}), nil
}

func newDisclosures(cfg *config.Config, db *store.DB, m *infra.Metrics, log *slog.Logger) (crossfiling.DisclosureProvider, error) {
	if cfg.CrossFiling.DisclosureSource != "edgar" {
		return crossfiling.NewStoreDisclosures(db), nil
	}
	ec := filings.DefaultConfig()
	if cfg.EDGAR.BaseURL != "" {
		ec.BaseURL = cfg.EDGAR.BaseURL
	}
	if cfg.EDGAR.UserAgent != "" {
		ec.UserAgent = cfg.EDGAR.UserAgent
	}
	if cfg.EDGAR.RequestsPerSecond > 0 {
		ec.RequestsPerSecond = cfg.EDGAR.RequestsPerSecond
	}
	return filings.New(ec, filings.WithLogger(log), filings.WithMetrics(m))
}

// fxRates upper-cases currency codes; viper lower-cases map keys.
func fxRates(in map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for code, rate := range in {
		out[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
	}
	return out
}

func byAssetClass(in map[string]float64) map[models.AssetClass]decimal.Decimal {
	out := make(map[models.AssetClass]decimal.Decimal, len(in))
	for class, v := range in {
		out[models.AssetClass(strings.ToLower(class))] = decimal.NewFromFloat(v)
	}
	return out
}
