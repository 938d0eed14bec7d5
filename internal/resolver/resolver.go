// Package resolver maps free-form identifiers (CIK, LEI, CUSIP, ticker or
// company name) to canonical entities.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/pkg/models"
)

// Directory is the read-only entity reference data the resolver consults.
type Directory interface {
	FindByIdentifier(ctx context.Context, t models.IdentifierType, value string) ([]models.Entity, error)
	ListEntities(ctx context.Context) ([]models.Entity, error)
}

// --- Errors ---

// ErrNotFound means no entity matched the identifier.
var ErrNotFound = errors.New("entity not found")

// ErrEmptyIdentifier is returned for blank input.
var ErrEmptyIdentifier = errors.New("identifier is empty")

// Candidate is one possible match with its score in [0, 1].
type Candidate struct {
	Entity    models.Entity         `json:"entity"`
	Score     float64               `json:"score"`
	MatchedOn models.IdentifierType `json:"matched_on"`
}

// AmbiguousError carries equally good candidates; the caller has to pick.
type AmbiguousError struct {
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = fmt.Sprintf("%s (%s)", c.Entity.Name, c.Entity.Key)
	}
	return "ambiguous identifier, candidates: " + strings.Join(names, ", ")
}

// ResolutionError is the only caller-visible failure of a profile build. Err
// is ErrNotFound, ErrEmptyIdentifier or an *AmbiguousError.
type ResolutionError struct {
	Identifier string
	Hint       models.IdentifierType
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Identifier, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError reports whether err is, or wraps, a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// Ambiguous extracts the candidate set from a resolution error.
func Ambiguous(err error) ([]Candidate, bool) {
	var ae *AmbiguousError
	if errors.As(err, &ae) {
		return ae.Candidates, true
	}
	return nil, false
}

// --- Resolver ---

// Config holds matching thresholds.
type Config struct {
	FuzzyThreshold float64
	MaxCandidates  int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{FuzzyThreshold: 0.85, MaxCandidates: 10}
}

// tieEpsilon treats scores this close as equal.
const tieEpsilon = 1e-9

const indexCacheKey = "entities"

// Resolver resolves identifiers against a Directory. It is safe for
// concurrent use; the optional index cache is owned by the caller.
type Resolver struct {
	dir   Directory
	cfg   Config
	log   *slog.Logger
	index *infra.MemoryCache[[]models.Entity]
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = logging.OrDiscard(l) }
}

// WithIndexCache memoizes the name index used for fuzzy matching.
func WithIndexCache(c *infra.MemoryCache[[]models.Entity]) Option {
	return func(r *Resolver) { r.index = c }
}

// New creates a Resolver.
func New(dir Directory, cfg Config, opts ...Option) *Resolver {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultConfig().FuzzyThreshold
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	r := &Resolver{dir: dir, cfg: cfg, log: logging.Discard()}
	for _, o := range opts {
		o(r)
	}
	return r
}

var (
	digitsRe = regexp.MustCompile(`^\d{1,10}$`)
	leiRe    = regexp.MustCompile(`^[A-Z0-9]{18}\d{2}$`)
	cusipRe  = regexp.MustCompile(`^[A-Z0-9*@#]{8}\d?$`)
	tickerRe = regexp.MustCompile(`^[A-Z]{1,5}([.\-][A-Z]{1,2})?$`)
)

// Resolve maps identifier to exactly one entity. hint restricts matching to
// one identifier type; IdentifierAuto tries CIK, LEI and CUSIP by shape,
// then ticker, then fuzzy name.
func (r *Resolver) Resolve(ctx context.Context, identifier string, hint models.IdentifierType) (models.Entity, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return models.Entity{}, &ResolutionError{Identifier: identifier, Hint: hint, Err: ErrEmptyIdentifier}
	}

	for _, step := range r.plan(id, hint) {
		found, err := r.dir.FindByIdentifier(ctx, step.Type, step.Value)
		if err != nil {
			return models.Entity{}, fmt.Errorf("resolve %q by %s: %w", identifier, step.Type, err)
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			r.log.Debug("resolved entity", "identifier", identifier, "matched_on", step.Type, "entity", found[0].Key)
			return found[0], nil
		default:
			cands := make([]Candidate, len(found))
			for i, e := range found {
				cands[i] = Candidate{Entity: e, Score: 1, MatchedOn: step.Type}
			}
			return models.Entity{}, &ResolutionError{Identifier: identifier, Hint: hint, Err: &AmbiguousError{Candidates: cands}}
		}
	}

	if hint != models.IdentifierAuto && hint != models.IdentifierName {
		return models.Entity{}, &ResolutionError{Identifier: identifier, Hint: hint, Err: ErrNotFound}
	}

	cands, err := r.fuzzy(ctx, id)
	if err != nil {
		return models.Entity{}, fmt.Errorf("resolve %q by name: %w", identifier, err)
	}
	if len(cands) == 0 || cands[0].Score < r.cfg.FuzzyThreshold {
		return models.Entity{}, &ResolutionError{Identifier: identifier, Hint: hint, Err: ErrNotFound}
	}
	top := cands[0].Score
	n := 1
	for n < len(cands) && math.Abs(cands[n].Score-top) <= tieEpsilon {
		n++
	}
	if n > 1 {
		return models.Entity{}, &ResolutionError{Identifier: identifier, Hint: hint, Err: &AmbiguousError{Candidates: cands[:n]}}
	}
	r.log.Debug("resolved entity", "identifier", identifier, "matched_on", models.IdentifierName,
		"entity", cands[0].Entity.Key, "score", cands[0].Score)
	return cands[0].Entity, nil
}

// Search lists candidates for a free-text query, best first, for CLI
// disambiguation. Exact identifier hits score 1.
func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = r.cfg.MaxCandidates
	}

	seen := make(map[string]bool)
	var out []Candidate
	for _, step := range r.plan(q, models.IdentifierAuto) {
		found, err := r.dir.FindByIdentifier(ctx, step.Type, step.Value)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
		for _, e := range found {
			if !seen[e.Key] {
				seen[e.Key] = true
				out = append(out, Candidate{Entity: e, Score: 1, MatchedOn: step.Type})
			}
		}
	}

	cands, err := r.fuzzy(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	floor := r.cfg.FuzzyThreshold / 2
	for _, c := range cands {
		if c.Score < floor || seen[c.Entity.Key] {
			continue
		}
		seen[c.Entity.Key] = true
		out = append(out, c)
	}
	sortCandidates(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type lookupStep struct {
	Type  models.IdentifierType
	Value string
}

// plan lists the exact lookups to try, in order.
func (r *Resolver) plan(id string, hint models.IdentifierType) []lookupStep {
	upper := strings.ToUpper(id)
	switch hint {
	case models.IdentifierCIK:
		return []lookupStep{{models.IdentifierCIK, padCIK(id)}}
	case models.IdentifierLEI:
		return []lookupStep{{models.IdentifierLEI, upper}}
	case models.IdentifierCUSIP:
		return cusipSteps(upper)
	case models.IdentifierTicker:
		return []lookupStep{{models.IdentifierTicker, upper}}
	case models.IdentifierName:
		return nil
	}

	var steps []lookupStep
	if digitsRe.MatchString(id) {
		steps = append(steps, lookupStep{models.IdentifierCIK, padCIK(id)})
	}
	if leiRe.MatchString(upper) {
		steps = append(steps, lookupStep{models.IdentifierLEI, upper})
	}
	if cusipRe.MatchString(upper) && (len(upper) == 8 || ValidCUSIP(upper)) {
		steps = append(steps, cusipSteps(upper)...)
	}
	if tickerRe.MatchString(upper) {
		steps = append(steps, lookupStep{models.IdentifierTicker, upper})
	}
	return steps
}

func cusipSteps(c string) []lookupStep {
	if len(c) == 8 {
		return []lookupStep{
			{models.IdentifierCUSIP, c + string(rune('0'+cusipCheckDigit(c)))},
			{models.IdentifierCUSIP, c},
		}
	}
	return []lookupStep{{models.IdentifierCUSIP, c}}
}

// padCIK zero-pads a numeric CIK to EDGAR's ten digits.
func padCIK(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 10 {
		return id
	}
	return strings.Repeat("0", 10-len(id)) + id
}

// ValidCUSIP checks the ninth-character check digit.
func ValidCUSIP(c string) bool {
	if len(c) != 9 || c[8] < '0' || c[8] > '9' {
		return false
	}
	return cusipCheckDigit(c[:8]) == int(c[8]-'0')
}

func cusipCheckDigit(base string) int {
	sum := 0
	for i := 0; i < 8 && i < len(base); i++ {
		ch := base[i]
		var v int
		switch {
		case ch >= '0' && ch <= '9':
			v = int(ch - '0')
		case ch >= 'A' && ch <= 'Z':
			v = int(ch-'A') + 10
		case ch == '*':
			v = 36
		case ch == '@':
			v = 37
		case ch == '#':
			v = 38
		}
		if i%2 == 1 {
			v *= 2
		}
		sum += v/10 + v%10
	}
	return (10 - sum%10) % 10
}

// fuzzy scores every entity name against the query, best first.
func (r *Resolver) fuzzy(ctx context.Context, query string) ([]Candidate, error) {
	q := normalizeName(query)
	if q == "" {
		return nil, nil
	}
	entities, err := r.entities(ctx)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, e := range entities {
		score := similarity(q, normalizeName(e.Name))
		if score > 0 {
			out = append(out, Candidate{Entity: e, Score: score, MatchedOn: models.IdentifierName})
		}
	}
	sortCandidates(out)
	return out, nil
}

func (r *Resolver) entities(ctx context.Context) ([]models.Entity, error) {
	if r.index != nil {
		if cached, ok := r.index.Get(indexCacheKey); ok {
			return cached, nil
		}
	}
	start := time.Now()
	entities, err := r.dir.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	r.log.Debug("loaded entity name index", "entities", len(entities), "elapsed", time.Since(start))
	if r.index != nil {
		r.index.Set(indexCacheKey, entities)
	}
	return entities, nil
}

func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if math.Abs(cs[i].Score-cs[j].Score) > tieEpsilon {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].Entity.Key < cs[j].Entity.Key
	})
}
