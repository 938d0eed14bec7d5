// Package config handles configuration loading for GameCock.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"       yaml:"store"`
	Sources     SourcesConfig     `mapstructure:"sources"     yaml:"sources"`
	Resolver    ResolverConfig    `mapstructure:"resolver"    yaml:"resolver"`
	Risk        RiskConfig        `mapstructure:"risk"        yaml:"risk"`
	Obligations ObligationsConfig `mapstructure:"obligations" yaml:"obligations"`
	CrossFiling CrossFilingConfig `mapstructure:"crossfiling" yaml:"crossfiling"`
	Cache       CacheConfig       `mapstructure:"cache"       yaml:"cache"`
	EDGAR       EDGARConfig       `mapstructure:"edgar"       yaml:"edgar"`
	API         APIConfig         `mapstructure:"api"         yaml:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	Driver           string `mapstructure:"driver"             yaml:"driver"             validate:"oneof=sqlite postgres"` // "sqlite" or "postgres"
	DSN              string `mapstructure:"dsn"                yaml:"dsn"`
	QueryTimeoutSec  int    `mapstructure:"query_timeout_sec"  yaml:"query_timeout_sec"  validate:"gt=0"`
	SourceTimeoutSec int    `mapstructure:"source_timeout_sec" yaml:"source_timeout_sec" validate:"gt=0"`
	MaxOpenConns     int    `mapstructure:"max_open_conns"     yaml:"max_open_conns"`
	Bootstrap        bool   `mapstructure:"bootstrap"          yaml:"bootstrap"` // create tables if missing
}

// QueryTimeout returns the per-query timeout.
func (s StoreConfig) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutSec) * time.Second
}

// SourceTimeout returns the timeout applied to one source's aggregation.
func (s StoreConfig) SourceTimeout() time.Duration {
	return time.Duration(s.SourceTimeoutSec) * time.Second
}

// SourcesConfig selects which regulatory sources are aggregated.
type SourcesConfig struct {
	Enabled []string `mapstructure:"enabled" yaml:"enabled" validate:"min=1"` // "cftc", "dtcc", "sec_filing", "fund_derivative"
}

// ResolverConfig holds entity resolution settings.
type ResolverConfig struct {
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold" yaml:"fuzzy_threshold" validate:"gt=0,lte=1"`
	MaxCandidates  int     `mapstructure:"max_candidates"  yaml:"max_candidates"  validate:"gte=0"`
}

// RiskConfig holds trigger thresholds and stress parameters.
type RiskConfig struct {
	ConcentrationMedium  float64            `mapstructure:"concentration_medium"   yaml:"concentration_medium"   validate:"gt=0,lt=1"`
	ConcentrationHigh    float64            `mapstructure:"concentration_high"     yaml:"concentration_high"     validate:"gtfield=ConcentrationMedium,lte=1"`
	RatingThreshold      string             `mapstructure:"rating_threshold"       yaml:"rating_threshold"` // first rating that counts as critical, e.g. "BB+"
	CDSWarningBps        float64            `mapstructure:"cds_warning_bps"        yaml:"cds_warning_bps"        validate:"gte=0"` // 5y spread early warning; 0 disables
	DefaultShock         float64            `mapstructure:"default_shock"          yaml:"default_shock"          validate:"gt=0"`    // 0.01 = 100bp
	Shocks               map[string]float64 `mapstructure:"shocks"                 yaml:"shocks"`           // per asset class override
	MarginBands          MarginBands        `mapstructure:"margin_bands"           yaml:"margin_bands"`
	AssumeZeroCollateral bool               `mapstructure:"assume_zero_collateral" yaml:"assume_zero_collateral"`
	ReportingCurrency    string             `mapstructure:"reporting_currency"     yaml:"reporting_currency"     validate:"len=3,alpha"`
	FXRates              map[string]float64 `mapstructure:"fx_rates"               yaml:"fx_rates"` // units of reporting currency per unit
	DedupTolerance       float64            `mapstructure:"dedup_tolerance"        yaml:"dedup_tolerance"        validate:"gte=0,lt=1"` // relative notional gap for filing/trade restatements
	CreditTimeoutSec     int                `mapstructure:"credit_timeout_sec"     yaml:"credit_timeout_sec"     validate:"gt=0"`
	CreditConcurrency    int                `mapstructure:"credit_concurrency"     yaml:"credit_concurrency"     validate:"gte=0"`
}

// CreditTimeout returns the timeout for one credit-state lookup.
func (r RiskConfig) CreditTimeout() time.Duration {
	return time.Duration(r.CreditTimeoutSec) * time.Second
}

// MarginBands grade margin-call shortfalls as a fraction of counterparty gross.
type MarginBands struct {
	Medium   float64 `mapstructure:"medium"   yaml:"medium"`
	High     float64 `mapstructure:"high"     yaml:"high"`
	Critical float64 `mapstructure:"critical" yaml:"critical"`
}

// ObligationsConfig holds obligation derivation settings.
type ObligationsConfig struct {
	HorizonMonths        int                `mapstructure:"horizon_months"         yaml:"horizon_months"         validate:"gt=0"`
	MaxOccurrences       int                `mapstructure:"max_occurrences"        yaml:"max_occurrences"        validate:"gt=0"`
	PaymentTiming        string             `mapstructure:"payment_timing"         yaml:"payment_timing"         validate:"oneof=advance arrears"` // "advance" or "arrears"
	FloatingRateEstimate float64            `mapstructure:"floating_rate_estimate" yaml:"floating_rate_estimate" validate:"gte=0"`
	MarginFactors        map[string]float64 `mapstructure:"margin_factors"         yaml:"margin_factors"`
	DefaultMarginFactor  float64            `mapstructure:"default_margin_factor"  yaml:"default_margin_factor"  validate:"gte=0,lte=1"`
	RegulatoryReports    bool               `mapstructure:"regulatory_reports"     yaml:"regulatory_reports"`
}

// CrossFilingConfig holds consolidation and discrepancy settings.
type CrossFilingConfig struct {
	Tolerance            float64 `mapstructure:"tolerance"              yaml:"tolerance"              validate:"gte=0"`
	FilingPeriod         string  `mapstructure:"filing_period"          yaml:"filing_period"` // "latest" or "2024Q4"
	MaxDepth             int     `mapstructure:"max_depth"              yaml:"max_depth"              validate:"min=1"`
	Concurrency          int     `mapstructure:"concurrency"            yaml:"concurrency"            validate:"gte=0"`
	DisclosureTimeoutSec int     `mapstructure:"disclosure_timeout_sec" yaml:"disclosure_timeout_sec" validate:"gte=0"`
	DisclosureSource     string  `mapstructure:"disclosure_source"      yaml:"disclosure_source"      validate:"oneof=store edgar"` // "store" or "edgar"
}

// DisclosureTimeout returns the timeout for one disclosure lookup.
func (c CrossFilingConfig) DisclosureTimeout() time.Duration {
	return time.Duration(c.DisclosureTimeoutSec) * time.Second
}

// CacheConfig holds profile cache settings.
type CacheConfig struct {
	Backend       string `mapstructure:"backend"        yaml:"backend"        validate:"oneof=memory redis none"` // "memory", "redis" or "none"
	TTLSec        int    `mapstructure:"ttl_sec"        yaml:"ttl_sec"        validate:"gte=0"`
	RedisAddr     string `mapstructure:"redis_addr"     yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"       yaml:"redis_db"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// EDGARConfig holds SEC EDGAR access settings for the disclosure extractor.
type EDGARConfig struct {
	BaseURL           string  `mapstructure:"base_url"            yaml:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"          yaml:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         validate:"gte=0,lte=65535"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.gamecock/config.yaml (home directory)
//  3. /etc/gamecock/config.yaml (system)
//
// Environment variables override config file values.
// Format: GAMECOCK_<SECTION>_<KEY>, e.g., GAMECOCK_STORE_DSN
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".gamecock"))
	v.AddConfigPath("/etc/gamecock")

	v.SetEnvPrefix("GAMECOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("GAMECOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "file:gamecock.db?_pragma=busy_timeout(5000)")
	v.SetDefault("store.query_timeout_sec", 15)
	v.SetDefault("store.source_timeout_sec", 30)
	v.SetDefault("store.max_open_conns", 8)
	v.SetDefault("store.bootstrap", false)

	// Sources
	v.SetDefault("sources.enabled", []string{"cftc", "dtcc", "sec_filing", "fund_derivative"})

	// Resolver
	v.SetDefault("resolver.fuzzy_threshold", 0.85)
	v.SetDefault("resolver.max_candidates", 10)

	// Risk thresholds
	v.SetDefault("risk.concentration_medium", 0.15)
	v.SetDefault("risk.concentration_high", 0.30)
	v.SetDefault("risk.rating_threshold", "BB+")
	v.SetDefault("risk.cds_warning_bps", 1000)
	v.SetDefault("risk.default_shock", 0.01)
	v.SetDefault("risk.shocks", map[string]float64{})
	v.SetDefault("risk.margin_bands.medium", 0.0025)
	v.SetDefault("risk.margin_bands.high", 0.005)
	v.SetDefault("risk.margin_bands.critical", 0.01)
	v.SetDefault("risk.assume_zero_collateral", false)
	v.SetDefault("risk.reporting_currency", "USD")
	v.SetDefault("risk.fx_rates", map[string]float64{})
	v.SetDefault("risk.dedup_tolerance", 0.01)
	v.SetDefault("risk.credit_timeout_sec", 5)
	v.SetDefault("risk.credit_concurrency", 8)

	// Obligations
	v.SetDefault("obligations.horizon_months", 12)
	v.SetDefault("obligations.max_occurrences", 12)
	v.SetDefault("obligations.payment_timing", "advance")
	v.SetDefault("obligations.floating_rate_estimate", 0.04)
	v.SetDefault("obligations.margin_factors", map[string]float64{
		"rates":     0.02,
		"credit":    0.05,
		"equity":    0.15,
		"fx":        0.06,
		"commodity": 0.15,
		"other":     0.15,
	})
	v.SetDefault("obligations.default_margin_factor", 0.15)
	v.SetDefault("obligations.regulatory_reports", true)

	// Cross-filing
	v.SetDefault("crossfiling.tolerance", 0.10)
	v.SetDefault("crossfiling.filing_period", "latest")
	v.SetDefault("crossfiling.max_depth", 1)
	v.SetDefault("crossfiling.concurrency", 4)
	v.SetDefault("crossfiling.disclosure_timeout_sec", 10)
	v.SetDefault("crossfiling.disclosure_source", "store")

	// Cache
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_sec", 300)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	// EDGAR
	v.SetDefault("edgar.base_url", "https://www.sec.gov")
	v.SetDefault("edgar.user_agent", "gamecock/1.0 (ops@example.com)")
	v.SetDefault("edgar.requests_per_second", 8)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("GAMECOCK_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if pw := os.Getenv("GAMECOCK_CACHE_REDIS_PASSWORD"); pw != "" {
		cfg.Cache.RedisPassword = pw
	}
	if ua := os.Getenv("GAMECOCK_EDGAR_USER_AGENT"); ua != "" {
		cfg.EDGAR.UserAgent = ua
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
