package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/internal/crossfiling"
	"github.com/seenimoa/gamecock/internal/profile"
	"github.com/seenimoa/gamecock/internal/resolver"
	"github.com/seenimoa/gamecock/pkg/models"
	"github.com/seenimoa/gamecock/pkg/utils"
)

// Tool names.
const (
	ToolResolveEntity     = "resolve_entity"
	ToolSearchEntities    = "search_entities"
	ToolBuildProfile      = "build_profile"
	ToolBuildConsolidated = "build_consolidated"
)

// EntityResolver is the resolver surface the tools need. *resolver.Resolver
// satisfies it.
type EntityResolver interface {
	Resolve(ctx context.Context, identifier string, hint models.IdentifierType) (models.Entity, error)
	Search(ctx context.Context, query string, limit int) ([]resolver.Candidate, error)
}

// ProfileBuilder builds single-party profiles. *profile.Builder satisfies it.
type ProfileBuilder interface {
	BuildRequest(ctx context.Context, req profile.Request) (*models.SinglePartyRiskProfile, error)
}

// ConsolidatedBuilder builds family profiles. *crossfiling.Engine satisfies it.
type ConsolidatedBuilder interface {
	BuildConsolidatedRequest(ctx context.Context, req crossfiling.Request) (*models.ConsolidatedRiskProfile, error)
}

// Services backs the risk tools. Nil services leave their tools out.
type Services struct {
	Resolver     EntityResolver
	Profiles     ProfileBuilder
	Consolidated ConsolidatedBuilder
}

// NewRiskRegistry registers the risk tools for the configured services.
func NewRiskRegistry(s Services) *ToolRegistry {
	reg := NewToolRegistry()
	if s.Resolver != nil {
		reg.Register(resolveTool(s.Resolver))
		reg.Register(searchTool(s.Resolver))
	}
	if s.Profiles != nil {
		reg.Register(profileTool(s.Profiles))
	}
	if s.Consolidated != nil {
		reg.Register(consolidatedTool(s.Consolidated))
	}
	return reg
}

// --- Arguments ---

var hintValues = []string{"cik", "lei", "cusip", "ticker", "name"}

func identifierProps() map[string]*JSONSchema {
	return map[string]*JSONSchema{
		"identifier": StringProp("Company name, CIK, LEI, CUSIP or ticker"),
		"hint":       EnumProp("Kind of identifier, when known", hintValues...),
	}
}

type entityArgs struct {
	Identifier string `json:"identifier"`
	Hint       string `json:"hint"`
	AsOf       string `json:"as_of"`
	View       string `json:"view"`
}

func parseArgs(tool string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("agent: %s: invalid arguments: %w", tool, err)
	}
	return nil
}

func (a entityArgs) validate(tool string) error {
	if strings.TrimSpace(a.Identifier) == "" {
		return fmt.Errorf("agent: %s: identifier is required", tool)
	}
	return nil
}

func (a entityArgs) asOf(tool string) (time.Time, error) {
	if a.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(utils.DateLayout, a.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("agent: %s: as_of must be YYYY-MM-DD: %w", tool, err)
	}
	return t, nil
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("agent: encode result: %w", err)
	}
	return string(data), nil
}

// --- resolve_entity ---

type resolveResult struct {
	Status     string               `json:"status"` // resolved | ambiguous
	Entity     *models.Entity       `json:"entity,omitempty"`
	Candidates []resolver.Candidate `json:"candidates,omitempty"`
}

func resolveTool(r EntityResolver) Tool {
	return Tool{
		Name:        ToolResolveEntity,
		Description: "Resolve a company identifier to its canonical entity. Ambiguous names return the candidates to choose from.",
		Parameters:  ObjectSchema("Entity lookup", identifierProps(), "identifier"),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args entityArgs
			if err := parseArgs(ToolResolveEntity, raw, &args); err != nil {
				return "", err
			}
			if err := args.validate(ToolResolveEntity); err != nil {
				return "", err
			}
			entity, err := r.Resolve(ctx, args.Identifier, models.ParseIdentifierType(args.Hint))
			if cands, ok := resolver.Ambiguous(err); ok {
				return toJSON(resolveResult{Status: "ambiguous", Candidates: cands})
			}
			if err != nil {
				return "", err
			}
			return toJSON(resolveResult{Status: "resolved", Entity: &entity})
		},
	}
}

// --- search_entities ---

func searchTool(r EntityResolver) Tool {
	props := map[string]*JSONSchema{
		"query": StringProp("Free-text name or identifier"),
		"limit": IntProp("Maximum candidates to return (default 5)"),
	}
	return Tool{
		Name:        ToolSearchEntities,
		Description: "List entities matching a name or identifier, best match first, with match scores.",
		Parameters:  ObjectSchema("Entity search", props, "query"),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := parseArgs(ToolSearchEntities, raw, &args); err != nil {
				return "", err
			}
			if strings.TrimSpace(args.Query) == "" {
				return "", fmt.Errorf("agent: %s: query is required", ToolSearchEntities)
			}
			if args.Limit <= 0 {
				args.Limit = 5
			}
			cands, err := r.Search(ctx, args.Query, args.Limit)
			if err != nil {
				return "", err
			}
			if cands == nil {
				cands = []resolver.Candidate{}
			}
			return toJSON(map[string]any{"candidates": cands})
		},
	}
}

// --- build_profile ---

// ProfileSummary is the compact view of a profile for model context.
type ProfileSummary struct {
	Entity          models.EntityRef              `json:"entity"`
	Summary         string                        `json:"summary"`
	Currency        string                        `json:"currency"`
	GrossExposure   decimal.Decimal               `json:"gross_exposure"`
	NetExposure     decimal.Decimal               `json:"net_exposure"`
	TopCounterparty []models.CounterpartyExposure `json:"top_counterparties"`
	Triggers        []models.RiskTrigger          `json:"triggers"`
	NearTerm        []models.Obligation           `json:"near_term_obligations"`
	Coverage        models.Coverage               `json:"coverage"`
	AsOf            time.Time                     `json:"as_of,omitzero"`
}

// Summarize reduces a profile to its headline figures.
func Summarize(p *models.SinglePartyRiskProfile) ProfileSummary {
	s := ProfileSummary{
		Entity:          p.Entity.Ref(),
		Summary:         p.Summary,
		Currency:        p.Currency,
		GrossExposure:   p.GrossExposure,
		NetExposure:     p.NetExposure,
		TopCounterparty: p.TopCounterparties(5),
		Triggers:        p.Triggers,
		NearTerm:        p.Obligations.NearTerm,
		Coverage:        p.Coverage,
		AsOf:            p.AsOf,
	}
	if s.TopCounterparty == nil {
		s.TopCounterparty = []models.CounterpartyExposure{}
	}
	if s.Triggers == nil {
		s.Triggers = []models.RiskTrigger{}
	}
	if s.NearTerm == nil {
		s.NearTerm = []models.Obligation{}
	}
	return s
}

func profileTool(b ProfileBuilder) Tool {
	props := identifierProps()
	props["as_of"] = StringProp("Valuation date YYYY-MM-DD, used when the data carries none")
	props["view"] = EnumProp("summary (default) or the full profile", "summary", "full")
	return Tool{
		Name: ToolBuildProfile,
		Description: "Build the single-party swap risk profile of a company: gross and net exposure, " +
			"counterparty concentration, risk triggers and upcoming obligations.",
		Parameters: ObjectSchema("Profile request", props, "identifier"),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args entityArgs
			if err := parseArgs(ToolBuildProfile, raw, &args); err != nil {
				return "", err
			}
			if err := args.validate(ToolBuildProfile); err != nil {
				return "", err
			}
			asOf, err := args.asOf(ToolBuildProfile)
			if err != nil {
				return "", err
			}
			p, err := b.BuildRequest(ctx, profile.Request{
				Identifier: args.Identifier,
				Hint:       models.ParseIdentifierType(args.Hint),
				AsOf:       asOf,
			})
			if err != nil {
				return "", describe(err)
			}
			if args.View == "full" {
				return toJSON(p)
			}
			return toJSON(Summarize(p))
		},
	}
}

// --- build_consolidated ---

func consolidatedTool(b ConsolidatedBuilder) Tool {
	props := identifierProps()
	props["as_of"] = StringProp("Valuation date YYYY-MM-DD, used when the data carries none")
	return Tool{
		Name: ToolBuildConsolidated,
		Description: "Build the consolidated swap risk profile of a corporate family and compare it " +
			"with the exposure each member disclosed in its filings.",
		Parameters: ObjectSchema("Consolidated request", props, "identifier"),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args entityArgs
			if err := parseArgs(ToolBuildConsolidated, raw, &args); err != nil {
				return "", err
			}
			if err := args.validate(ToolBuildConsolidated); err != nil {
				return "", err
			}
			asOf, err := args.asOf(ToolBuildConsolidated)
			if err != nil {
				return "", err
			}
			p, err := b.BuildConsolidatedRequest(ctx, crossfiling.Request{
				Identifier: args.Identifier,
				Hint:       models.ParseIdentifierType(args.Hint),
				AsOf:       asOf,
			})
			if err != nil {
				return "", describe(err)
			}
			return toJSON(p)
		},
	}
}

// describe turns an ambiguous resolution into guidance the model can act on.
func describe(err error) error {
	if cands, ok := resolver.Ambiguous(err); ok {
		ids := make([]string, 0, len(cands))
		for _, c := range cands {
			if cik := c.Entity.Identifiers.CIK; len(cik) > 0 {
				ids = append(ids, fmt.Sprintf("%s (cik %s)", c.Entity.Name, cik[0]))
			} else {
				ids = append(ids, c.Entity.Name)
			}
		}
		return fmt.Errorf("%w; retry with a precise identifier: %s", err, strings.Join(ids, ", "))
	}
	if errors.Is(err, resolver.ErrNotFound) {
		return fmt.Errorf("%w; try %s to find the right entity", err, ToolSearchEntities)
	}
	return err
}
