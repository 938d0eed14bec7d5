package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/pkg/models"
)

// fakeDirectory is an in-memory Directory.
type fakeDirectory struct {
	entities []models.Entity
	lookups  []lookupStep
	lists    int
	err      error
}

func (d *fakeDirectory) FindByIdentifier(_ context.Context, t models.IdentifierType, value string) ([]models.Entity, error) {
	d.lookups = append(d.lookups, lookupStep{t, value})
	if d.err != nil {
		return nil, d.err
	}
	var out []models.Entity
	for _, e := range d.entities {
		for _, id := range e.Identifiers.All() {
			if id.Type == t && strings.EqualFold(id.Value, value) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) ListEntities(context.Context) ([]models.Entity, error) {
	d.lists++
	return d.entities, d.err
}

func entity(key, name string, ids ...models.Identifier) models.Entity {
	e := models.Entity{Key: key, Name: name}
	for _, id := range ids {
		e.Identifiers.Add(id.Type, id.Value)
	}
	return e
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{entities: []models.Entity{
		entity("abc", "ABC Corp",
			models.Identifier{Type: models.IdentifierTicker, Value: "ABC"},
			models.Identifier{Type: models.IdentifierCIK, Value: "0000012345"},
			models.Identifier{Type: models.IdentifierLEI, Value: "5493001KJTIIGC8Y1R12"},
			models.Identifier{Type: models.IdentifierCUSIP, Value: "037833100"}),
		entity("acme-inc", "Acme Holdings, Inc."),
		entity("acme-llc", "ACME Holdings LLC"),
		entity("nestle", "Nestlé S.A.", models.Identifier{Type: models.IdentifierTicker, Value: "NSRGY"}),
		entity("brk-a", "Berkshire Hathaway", models.Identifier{Type: models.IdentifierTicker, Value: "BRK.A"}),
	}}
}

// ── Resolve ──

func TestResolveByIdentifierShape(t *testing.T) {
	tests := []struct {
		name  string
		input string
		hint  models.IdentifierType
		want  string
		match models.IdentifierType
	}{
		{"ticker", "ABC", models.IdentifierAuto, "abc", models.IdentifierTicker},
		{"lower-case ticker", "abc", models.IdentifierAuto, "abc", models.IdentifierTicker},
		{"class share ticker", "brk.a", models.IdentifierAuto, "brk-a", models.IdentifierTicker},
		{"unpadded CIK", "12345", models.IdentifierAuto, "abc", models.IdentifierCIK},
		{"padded CIK", "0000012345", models.IdentifierAuto, "abc", models.IdentifierCIK},
		{"LEI", "5493001kjtiigc8y1r12", models.IdentifierAuto, "abc", models.IdentifierLEI},
		{"CUSIP", "037833100", models.IdentifierAuto, "abc", models.IdentifierCUSIP},
		{"CUSIP base", "03783310", models.IdentifierAuto, "abc", models.IdentifierCUSIP},
		{"hinted CIK", "12345", models.IdentifierCIK, "abc", models.IdentifierCIK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := newDirectory()
			r := New(dir, DefaultConfig())
			got, err := r.Resolve(context.Background(), tc.input, tc.hint)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Key)
			assert.Equal(t, tc.match, dir.lookups[len(dir.lookups)-1].Type)
			assert.Zero(t, dir.lists, "exact matches must not scan names")
		})
	}
}

func TestResolveFuzzyName(t *testing.T) {
	r := New(newDirectory(), DefaultConfig())

	got, err := r.Resolve(context.Background(), "abc corporation", models.IdentifierAuto)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Key)

	got, err = r.Resolve(context.Background(), "NESTLE SA", models.IdentifierName)
	require.NoError(t, err)
	assert.Equal(t, "nestle", got.Key)

	got, err = r.Resolve(context.Background(), "Berkshire Hathway", models.IdentifierAuto)
	require.NoError(t, err, "one-letter typo clears the edit-distance threshold")
	assert.Equal(t, "brk-a", got.Key)
}

func TestResolveAmbiguousTie(t *testing.T) {
	r := New(newDirectory(), DefaultConfig())

	_, err := r.Resolve(context.Background(), "Acme Holdings", models.IdentifierAuto)
	require.Error(t, err)
	assert.True(t, IsResolutionError(err))

	cands, ok := Ambiguous(err)
	require.True(t, ok)
	require.Len(t, cands, 2)
	assert.Equal(t, "acme-inc", cands[0].Entity.Key)
	assert.Equal(t, "acme-llc", cands[1].Entity.Key)
	assert.InDelta(t, 1.0, cands[0].Score, 1e-9)
}

func TestResolveAmbiguousExactIdentifier(t *testing.T) {
	dir := newDirectory()
	dir.entities = append(dir.entities, entity("abc-2", "ABC Industries",
		models.Identifier{Type: models.IdentifierTicker, Value: "ABC"}))
	r := New(dir, DefaultConfig())

	_, err := r.Resolve(context.Background(), "ABC", models.IdentifierAuto)
	cands, ok := Ambiguous(err)
	require.True(t, ok)
	assert.Len(t, cands, 2)
}

func TestResolveNotFound(t *testing.T) {
	r := New(newDirectory(), DefaultConfig())

	tests := []struct {
		input string
		hint  models.IdentifierType
		err   error
	}{
		{"Zebra Logistics", models.IdentifierAuto, ErrNotFound},
		{"Acme", models.IdentifierAuto, ErrNotFound},
		{"ZZZZ", models.IdentifierTicker, ErrNotFound},
		{"   ", models.IdentifierAuto, ErrEmptyIdentifier},
	}
	for _, tc := range tests {
		_, err := r.Resolve(context.Background(), tc.input, tc.hint)
		assert.ErrorIs(t, err, tc.err, "input %q", tc.input)
		assert.True(t, IsResolutionError(err), "input %q", tc.input)
	}
}

func TestResolveHintSkipsNameMatching(t *testing.T) {
	dir := newDirectory()
	r := New(dir, DefaultConfig())

	_, err := r.Resolve(context.Background(), "ACME", models.IdentifierTicker)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, dir.lists)
}

func TestResolveDirectoryErrorIsNotResolutionError(t *testing.T) {
	dir := newDirectory()
	dir.err = errors.New("db down")
	r := New(dir, DefaultConfig())

	_, err := r.Resolve(context.Background(), "ABC", models.IdentifierAuto)
	require.Error(t, err)
	assert.False(t, IsResolutionError(err))
}

func TestIndexCacheAvoidsRescans(t *testing.T) {
	dir := newDirectory()
	r := New(dir, DefaultConfig(), WithIndexCache(infra.NewMemoryCache[[]models.Entity](time.Minute)))

	for range 3 {
		_, _ = r.Resolve(context.Background(), "Nestle", models.IdentifierName)
	}
	assert.Equal(t, 1, dir.lists)
}

// ── Search ──

func TestSearch(t *testing.T) {
	r := New(newDirectory(), DefaultConfig())

	got, err := r.Search(context.Background(), "acme holdings", 5)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "acme-inc", got[0].Entity.Key)

	got, err = r.Search(context.Background(), "ABC", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.IdentifierTicker, got[0].MatchedOn)
}

// ── Normalization ──

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Holdings, Inc.", "acme holdings"},
		{"Nestlé S.A.", "nestle"},
		{"Procter & Gamble Co", "procter and gamble"},
		{"Moody's Corporation", "moodys"},
		{"The Company", "the company"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, normalizeName(tc.in), "normalizeName(%q)", tc.in)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 0.0, similarity("", "abc"))
	assert.InDelta(t, 0.5, tokenOverlap("goldman sachs", "goldman"), 1e-9)
	assert.Greater(t, similarity("berkshire hathaway", "berkshire hathway"), 0.85)
	assert.Less(t, similarity("acme", "acme holdings"), 0.85)
}

func TestValidCUSIP(t *testing.T) {
	assert.True(t, ValidCUSIP("037833100"))
	assert.True(t, ValidCUSIP("38259P508"))
	assert.False(t, ValidCUSIP("037833101"))
	assert.False(t, ValidCUSIP("03783310"))
}
