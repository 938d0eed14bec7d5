package exposure

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/pkg/models"
)

// Config controls which sources are read and how amounts are converted.
type Config struct {
	Sources           []models.SourceKind
	SourceTimeout     time.Duration
	ReportingCurrency string
	// FXRates maps an upper-case currency code to units of the reporting
	// currency per one unit of that currency.
	FXRates map[string]decimal.Decimal
	// DedupTolerance is the relative notional tolerance for treating a
	// filing-derived record as a restatement of a repository trade.
	DedupTolerance decimal.Decimal
}

// DefaultConfig reads every source with a 30s timeout, reporting in USD.
func DefaultConfig() Config {
	return Config{
		Sources:           models.AllSourceKinds(),
		SourceTimeout:     30 * time.Second,
		ReportingCurrency: "USD",
		DedupTolerance:    decimal.NewFromFloat(0.01),
	}
}

// Aggregator streams normalized exposures for an entity. It holds no
// per-request state and is safe for concurrent use.
type Aggregator struct {
	reader   store.SourceReader
	cfg      Config
	adapters []Adapter
	log      *slog.Logger
	metrics  *infra.Metrics
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.log = logging.OrDiscard(l) }
}

// WithMetrics records per-source timings and row counts.
func WithMetrics(m *infra.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New builds an aggregator over the configured sources. Unknown source
// kinds are rejected.
func New(reader store.SourceReader, cfg Config, opts ...Option) (*Aggregator, error) {
	def := DefaultConfig()
	if len(cfg.Sources) == 0 {
		cfg.Sources = def.Sources
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = def.SourceTimeout
	}
	if cfg.ReportingCurrency == "" {
		cfg.ReportingCurrency = def.ReportingCurrency
	}
	if cfg.DedupTolerance.IsZero() {
		cfg.DedupTolerance = def.DedupTolerance
	}
	a := &Aggregator{reader: reader, cfg: cfg, log: logging.Discard()}
	for _, kind := range cfg.Sources {
		ad, err := AdapterFor(kind)
		if err != nil {
			return nil, err
		}
		a.adapters = append(a.adapters, ad)
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// ReportingCurrency is the currency BaseNotional is expressed in.
func (a *Aggregator) ReportingCurrency() string { return a.cfg.ReportingCurrency }

// Stream prepares a lazy aggregation for entity. Nothing is queried until
// the sequence returned by All is ranged over.
func (a *Aggregator) Stream(ctx context.Context, entity models.Entity) *Stream {
	return &Stream{agg: a, ctx: ctx, entity: entity}
}

// Collect drains a fresh stream into a slice ordered by source then record
// id. The error is non-nil only when ctx was cancelled.
func (a *Aggregator) Collect(ctx context.Context, entity models.Entity) ([]models.SwapExposure, models.Coverage, error) {
	s := a.Stream(ctx, entity)
	var out []models.SwapExposure
	for e := range s.All() {
		out = append(out, e)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.Coverage(), err
	}
	SortExposures(out)
	return out, s.Coverage(), nil
}

// SortExposures orders exposures by source (in AllSourceKinds order), then
// record id, then ID.
func SortExposures(es []models.SwapExposure) {
	rank := make(map[models.SourceKind]int)
	for i, k := range models.AllSourceKinds() {
		rank[k] = i
	}
	slices.SortStableFunc(es, func(a, b models.SwapExposure) int {
		return cmp.Or(
			cmp.Compare(rank[a.Source], rank[b.Source]),
			cmp.Compare(a.RecordID, b.RecordID),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// --- Stream ---

// Stream is one entity's aggregation. Each call to All re-reads the
// sources; Coverage describes the most recent completed pass.
type Stream struct {
	agg    *Aggregator
	ctx    context.Context
	entity models.Entity

	mu       sync.Mutex
	coverage models.Coverage
}

// Coverage returns the coverage of the last pass over All. Before any pass
// it reports every configured source with an empty status.
func (s *Stream) Coverage() models.Coverage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coverage.Status == "" {
		return models.Coverage{Sources: slices.Clone(s.agg.cfg.Sources)}
	}
	return s.coverage
}

// Entity is the subject of the stream.
func (s *Stream) Entity() models.Entity { return s.entity }

// All yields exposures as sources produce them. Repository and fund rows
// are yielded immediately; filing-derived rows are held until the
// repository sources finish so duplicates can be dropped.
func (s *Stream) All() iter.Seq[models.SwapExposure] {
	return func(yield func(models.SwapExposure) bool) {
		run := s.agg.start(s.ctx, s.entity)
		defer run.stop()
		for e := range run.out {
			if !yield(e) {
				run.abandon()
				break
			}
		}
		cov := run.finish()
		s.mu.Lock()
		s.coverage = cov
		s.mu.Unlock()
	}
}

// run is the state of a single pass.
type run struct {
	agg    *Aggregator
	entity models.Entity
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	out    chan models.SwapExposure
	done   chan struct{}

	mu          sync.Mutex
	abandoned   bool
	failures    map[models.SourceKind]models.SourceFailure
	skipped     int
	duplicates  int
	unconverted map[string]bool
}

func (a *Aggregator) start(parent context.Context, entity models.Entity) *run {
	ctx, cancel := context.WithCancel(parent)
	r := &run{
		agg:         a,
		entity:      entity,
		parent:      parent,
		ctx:         ctx,
		cancel:      cancel,
		out:         make(chan models.SwapExposure, 64),
		done:        make(chan struct{}),
		failures:    make(map[models.SourceKind]models.SourceFailure),
		unconverted: make(map[string]bool),
	}
	go r.produce()
	return r
}

func (r *run) produce() {
	defer close(r.done)
	defer close(r.out)

	ids := r.entity.Identifiers.Values()
	var (
		mu   sync.Mutex
		txn  []models.SwapExposure
		held []models.SwapExposure
	)

	var g errgroup.Group
	for _, ad := range r.agg.adapters {
		g.Go(func() error {
			r.readSource(ad, ids, func(e models.SwapExposure) bool {
				switch {
				case e.Source == models.SourceSECFiling:
					mu.Lock()
					held = append(held, e)
					mu.Unlock()
					return true
				case e.Source.TransactionLevel():
					mu.Lock()
					txn = append(txn, e)
					mu.Unlock()
				}
				return r.send(e)
			})
			// isolated: one source failing never cancels the others
			return nil
		})
	}
	_ = g.Wait()

	kept, dropped := dedupe(held, txn, r.agg.cfg.DedupTolerance)
	if dropped > 0 {
		r.mu.Lock()
		r.duplicates += dropped
		r.mu.Unlock()
		r.agg.metrics.CountRows(string(models.SourceSECFiling), "duplicate", dropped)
		r.agg.log.Debug("dropped filing-derived duplicates", "entity", r.entity.Key, "dropped", dropped)
	}
	for _, e := range kept {
		if !r.send(e) {
			return
		}
	}
}

func (r *run) send(e models.SwapExposure) bool {
	select {
	case r.out <- e:
		return true
	case <-r.ctx.Done():
		return false
	}
}

var errConsumerStopped = errors.New("consumer stopped")

func (r *run) readSource(ad Adapter, ids []string, emit func(models.SwapExposure) bool) {
	kind := ad.Kind()
	sctx, cancel := context.WithTimeout(r.ctx, r.agg.cfg.SourceTimeout)
	defer cancel()

	start := time.Now()
	var ok, skipped int
	err := r.agg.reader.ReadSource(sctx, kind, ids, func(raw store.RawRow) error {
		e, err := ad.Normalize(r.entity, raw)
		if err != nil {
			skipped++
			r.agg.log.Warn("skipping row", "source", kind, "entity", r.entity.Key, "error", err)
			return nil
		}
		r.convert(&e)
		ok++
		if !emit(e) {
			if r.isAbandoned() {
				return errConsumerStopped
			}
			return sctx.Err()
		}
		return nil
	})
	elapsed := time.Since(start)

	r.agg.metrics.CountRows(string(kind), "ok", ok)
	r.agg.metrics.CountRows(string(kind), "skipped", skipped)
	r.mu.Lock()
	r.skipped += skipped
	r.mu.Unlock()

	if err == nil || errors.Is(err, errConsumerStopped) || r.isAbandoned() {
		r.agg.metrics.ObserveSource(string(kind), elapsed, false)
		return
	}

	at := time.Now().UTC()
	var su *store.SourceUnavailableError
	if errors.As(err, &su) && !su.At.IsZero() {
		at = su.At
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = &timeoutError{source: kind, after: r.agg.cfg.SourceTimeout, err: err}
	}
	r.mu.Lock()
	r.failures[kind] = models.SourceFailure{Source: kind, Error: err.Error(), At: at}
	r.mu.Unlock()
	r.agg.metrics.ObserveSource(string(kind), elapsed, true)
	r.agg.log.Warn("source unavailable", "source", kind, "entity", r.entity.Key, "error", err, "at", at)
}

type timeoutError struct {
	source models.SourceKind
	after  time.Duration
	err    error
}

func (e *timeoutError) Error() string {
	return "source " + string(e.source) + " timed out after " + e.after.String()
}

func (e *timeoutError) Unwrap() error { return e.err }

// convert fills BaseNotional and restates marks and collateral in the
// reporting currency.
func (r *run) convert(e *models.SwapExposure) {
	base := r.agg.cfg.ReportingCurrency
	if e.Currency == "" {
		e.Currency = base
	}
	if e.Currency == base {
		return
	}
	rate, ok := r.agg.cfg.FXRates[e.Currency]
	if !ok {
		r.mu.Lock()
		r.unconverted[e.Currency] = true
		r.mu.Unlock()
		return
	}
	e.BaseNotional = e.Notional.Mul(rate)
	e.MarkToMarket = e.MarkToMarket.Mul(rate)
	e.CollateralPosted = e.CollateralPosted.Mul(rate)
	e.CCPMargin = e.CCPMargin.Mul(rate)
}

func (r *run) abandon() {
	r.mu.Lock()
	r.abandoned = true
	r.mu.Unlock()
	r.cancel()
}

func (r *run) isAbandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}

// stop releases the producer; safe after finish.
func (r *run) stop() {
	r.cancel()
	for range r.out {
	}
	<-r.done
}

func (r *run) finish() models.Coverage {
	// drain anything left so the producer can exit
	for range r.out {
	}
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	cov := models.Coverage{
		Status:            models.CoverageComplete,
		Sources:           slices.Clone(r.agg.cfg.Sources),
		SkippedRows:       r.skipped,
		DuplicatesDropped: r.duplicates,
	}
	if r.parent.Err() != nil {
		for _, k := range r.agg.cfg.Sources {
			if _, ok := r.failures[k]; !ok {
				r.failures[k] = models.SourceFailure{Source: k, Error: r.parent.Err().Error(), At: time.Now().UTC()}
			}
		}
	}
	for _, k := range r.agg.cfg.Sources {
		if f, ok := r.failures[k]; ok {
			cov.Unavailable = append(cov.Unavailable, f)
		}
	}
	if len(cov.Unavailable) > 0 {
		cov.Status = models.CoveragePartial
	}
	for c := range r.unconverted {
		cov.UnconvertedCurrencies = append(cov.UnconvertedCurrencies, c)
	}
	slices.Sort(cov.UnconvertedCurrencies)
	return cov
}
