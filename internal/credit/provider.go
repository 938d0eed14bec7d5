package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/pkg/models"
)

// ErrUnknown means the provider has no credit information for an entity.
var ErrUnknown = errors.New("credit state unknown")

// Provider returns what is known about a counterparty's credit.
// Implementations return ErrUnknown, not a zero state, when nothing is known.
type Provider interface {
	CreditState(ctx context.Context, key string) (models.CreditState, error)
}

// StateStore is the store query behind StoreProvider. *store.DB satisfies it.
type StateStore interface {
	CreditState(ctx context.Context, key string) (models.CreditState, bool, error)
}

// StoreProvider reads credit state from the relational store.
type StoreProvider struct {
	store StateStore
}

// NewStoreProvider wraps a store.
func NewStoreProvider(s StateStore) *StoreProvider {
	return &StoreProvider{store: s}
}

// CreditState implements Provider.
func (p *StoreProvider) CreditState(ctx context.Context, key string) (models.CreditState, error) {
	state, found, err := p.store.CreditState(ctx, key)
	if err != nil {
		return models.CreditState{}, err
	}
	if !found {
		return models.CreditState{}, ErrUnknown
	}
	return state, nil
}

// --- Bounded fan-out ---

// FetchConfig bounds the per-counterparty lookups.
type FetchConfig struct {
	Timeout     time.Duration
	Concurrency int
}

// Fetcher looks up many counterparties concurrently. Lookups that fail or
// time out are logged and left out of the result; they never fail the batch.
type Fetcher struct {
	provider Provider
	cfg      FetchConfig
	log      *slog.Logger
}

// NewFetcher creates a Fetcher. Zero config values default to a 5s timeout
// and eight concurrent lookups.
func NewFetcher(p Provider, cfg FetchConfig, log *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Fetcher{provider: p, cfg: cfg, log: logging.OrDiscard(log)}
}

// FetchAll returns the known credit state for each key. The error is
// non-nil only when ctx is cancelled.
func (f *Fetcher) FetchAll(ctx context.Context, keys []string) (map[string]models.CreditState, error) {
	keys = slices.Compact(slices.Sorted(slices.Values(keys)))

	var mu sync.Mutex
	out := make(map[string]models.CreditState, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, key := range keys {
		if key == "" {
			continue
		}
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, f.cfg.Timeout)
			defer cancel()
			state, err := f.provider.CreditState(lctx, key)
			switch {
			case err == nil:
				mu.Lock()
				out[key] = state
				mu.Unlock()
			case errors.Is(err, ErrUnknown):
			default:
				f.log.Warn("credit lookup failed", "counterparty", key, "error", err)
			}
			// lookups are non-fatal
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("credit lookups: %w", err)
	}
	return out, nil
}
