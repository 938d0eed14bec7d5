package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/gamecock/internal/config"
	"github.com/seenimoa/gamecock/internal/crossfiling"
	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/profile"
	"github.com/seenimoa/gamecock/internal/resolver"
	"github.com/seenimoa/gamecock/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

var abc = models.Entity{Key: "ABC", Name: "ABC Corp", Identifiers: models.Identifiers{CIK: []string{"0000123456"}}}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, id string, hint models.IdentifierType) (models.Entity, error) {
	switch id {
	case "ABC", "123456":
		return abc, nil
	case "AB":
		return models.Entity{}, &resolver.ResolutionError{Identifier: id, Hint: hint, Err: &resolver.AmbiguousError{
			Candidates: []resolver.Candidate{{Entity: abc, Score: 0.9}, {Entity: models.Entity{Key: "ABD", Name: "ABD Corp"}, Score: 0.9}},
		}}
	case "SLOW":
		return models.Entity{}, fmt.Errorf("store: %w", context.DeadlineExceeded)
	case "BROKEN":
		return models.Entity{}, errors.New("store: connection refused")
	}
	return models.Entity{}, &resolver.ResolutionError{Identifier: id, Hint: hint, Err: resolver.ErrNotFound}
}

func (fakeResolver) Search(_ context.Context, query string, limit int) ([]resolver.Candidate, error) {
	if query == "none" {
		return nil, nil
	}
	return []resolver.Candidate{{Entity: abc, Score: 1}}[:min(limit, 1)], nil
}

type fakeProfiles struct{ last profile.Request }

func (f *fakeProfiles) BuildRequest(ctx context.Context, req profile.Request) (*models.SinglePartyRiskProfile, error) {
	f.last = req
	e, err := fakeResolver{}.Resolve(ctx, req.Identifier, req.Hint)
	if err != nil {
		return nil, err
	}
	return &models.SinglePartyRiskProfile{
		Entity:        e,
		Currency:      "USD",
		GrossExposure: decimal.NewFromInt(5_200_000_000),
		NetExposure:   decimal.NewFromInt(1_000_000_000),
		ExposureCount: 23,
		Summary:       "ABC Corp: gross $5.2B",
		AsOf:          req.AsOf,
	}, nil
}

type fakeConsolidated struct{}

func (fakeConsolidated) BuildConsolidatedRequest(ctx context.Context, req crossfiling.Request) (*models.ConsolidatedRiskProfile, error) {
	e, err := fakeResolver{}.Resolve(ctx, req.Identifier, req.Hint)
	if err != nil {
		return nil, err
	}
	return &models.ConsolidatedRiskProfile{
		Root:          e,
		Members:       []models.Entity{e},
		Currency:      "USD",
		GrossExposure: decimal.NewFromInt(175_000_000),
		Discrepancies: []models.Discrepancy{{Entity: e.Ref()}},
	}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func testServer(t *testing.T, opts ...Option) (*Server, *fakeProfiles) {
	t.Helper()
	cfg := &config.Config{}
	cfg.API.CORSOrigins = []string{"http://localhost:3000"}
	cfg.Cache.RedisPassword = "hunter2-secret"
	cfg.Store.DSN = "postgres://risk:pw@db:5432/gamecock"
	prof := &fakeProfiles{}
	srv := NewServer(cfg, Services{
		Resolver:     fakeResolver{},
		Profiles:     prof,
		Consolidated: fakeConsolidated{},
		Store:        pinger{},
	}, opts...)
	return srv, prof
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want object", resp.Data)
	}
	return m
}

// ════════════════════════════════════════════════════════════════════
// Health & metrics
// ════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, WithVersion("1.2.3"))
	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := do(t, srv, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		data := dataMap(t, decodeResponse(t, rec))
		if data["status"] != "ok" || data["version"] != "1.2.3" || data["store"] != "ok" {
			t.Fatalf("%s: unexpected data %v", path, data)
		}
	}
}

func TestHealthDegraded(t *testing.T) {
	srv := NewServer(&config.Config{}, Services{Store: pinger{err: errors.New("db down")}})
	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["status"] != "degraded" || data["store"] != "db down" {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := infra.NewMetrics()
	m.ObserveProfile("built", 0)
	srv, _ := testServer(t, WithMetrics(m))

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gamecock_") {
		t.Fatal("metrics output should contain gamecock collectors")
	}

	plain, _ := testServer(t)
	if rec := do(t, plain, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("without metrics: got %d", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Entities
// ════════════════════════════════════════════════════════════════════

func TestResolve(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"by cik", "/api/v1/resolve?identifier=123456&hint=cik", http.StatusOK},
		{"missing", "/api/v1/resolve", http.StatusBadRequest},
		{"not found", "/api/v1/resolve?identifier=ZZZ", http.StatusNotFound},
		{"ambiguous", "/api/v1/resolve?identifier=AB", http.StatusConflict},
		{"timeout", "/api/v1/resolve?identifier=SLOW", http.StatusGatewayTimeout},
		{"store failure", "/api/v1/resolve?identifier=BROKEN", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, tt.target, "")
			if rec.Code != tt.status {
				t.Fatalf("status: got %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			resp := decodeResponse(t, rec)
			if resp.Success != (tt.status == http.StatusOK) {
				t.Fatalf("success flag: %+v", resp)
			}
		})
	}
}

func TestResolveAmbiguousListsCandidates(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/resolve?identifier=AB", "")
	data := dataMap(t, decodeResponse(t, rec))
	cands, ok := data["candidates"].([]any)
	if !ok || len(cands) != 2 {
		t.Fatalf("candidates: got %v", data["candidates"])
	}
	if data["identifier"] != "AB" {
		t.Fatalf("identifier: got %v", data["identifier"])
	}
}

func TestSearch(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/search?q=abc&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if got := decodeResponse(t, rec).Data.([]any); len(got) != 1 {
		t.Fatalf("results: got %v", got)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/search?q=none", "")
	if got := decodeResponse(t, rec).Data.([]any); len(got) != 0 {
		t.Fatalf("empty search should return []: got %v", got)
	}

	for _, target := range []string{"/api/v1/search", "/api/v1/search?q=abc&limit=0", "/api/v1/search?q=abc&limit=x"} {
		if rec := do(t, srv, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d", target, rec.Code)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Profiles
// ════════════════════════════════════════════════════════════════════

func TestProfile(t *testing.T) {
	srv, prof := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/profile/ABC?hint=ticker&as_of=2024-06-28", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["gross_exposure"] != "5200000000" {
		t.Fatalf("gross_exposure: got %v", data["gross_exposure"])
	}
	if _, ok := data["by_asset_class"]; !ok {
		t.Fatal("full profile should include by_asset_class")
	}
	if prof.last.Hint != models.IdentifierTicker || prof.last.AsOf.Format("2006-01-02") != "2024-06-28" {
		t.Fatalf("request not passed through: %+v", prof.last)
	}
}

func TestProfileSummaryView(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/profile/ABC?view=summary", "")
	data := dataMap(t, decodeResponse(t, rec))
	if data["summary"] != "ABC Corp: gross $5.2B" {
		t.Fatalf("summary: got %v", data["summary"])
	}
	if _, ok := data["by_asset_class"]; ok {
		t.Fatal("summary view should be compact")
	}
}

func TestProfileErrors(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		target string
		status int
	}{
		{"/api/v1/profile/ABC?as_of=06-28-2024", http.StatusBadRequest},
		{"/api/v1/profile/ZZZ", http.StatusNotFound},
		{"/api/v1/profile/AB", http.StatusConflict},
	}
	for _, tt := range tests {
		if rec := do(t, srv, http.MethodGet, tt.target, ""); rec.Code != tt.status {
			t.Errorf("%s: got %d, want %d", tt.target, rec.Code, tt.status)
		}
	}
}

func TestConsolidated(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/consolidated/ABC", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["gross_exposure"] != "175000000" {
		t.Fatalf("gross_exposure: got %v", data["gross_exposure"])
	}
	if d, ok := data["discrepancies"].([]any); !ok || len(d) != 1 {
		t.Fatalf("discrepancies: got %v", data["discrepancies"])
	}
}

func TestUnconfiguredServices(t *testing.T) {
	srv := NewServer(&config.Config{}, Services{})
	for _, target := range []string{"/api/v1/resolve?identifier=ABC", "/api/v1/search?q=abc", "/api/v1/profile/ABC", "/api/v1/consolidated/ABC"} {
		if rec := do(t, srv, http.MethodGet, target, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: got %d", target, rec.Code)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Agent tools
// ════════════════════════════════════════════════════════════════════

func TestListTools(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/agent/tools", "")
	data := dataMap(t, decodeResponse(t, rec))
	if prompt, _ := data["system_prompt"].(string); !strings.Contains(prompt, "build_profile") {
		t.Fatal("system prompt should describe the tools")
	}
	tools := data["tools"].([]any)
	if len(tools) != 4 {
		t.Fatalf("tools: got %d", len(tools))
	}
	first := tools[0].(map[string]any)
	if first["name"] != "build_consolidated" || first["parameters"] == nil {
		t.Fatalf("first tool: %v", first)
	}
}

func TestExecuteTools(t *testing.T) {
	srv, _ := testServer(t)
	body := `{"calls":[
		{"id":"1","name":"resolve_entity","arguments":{"identifier":"ABC"}},
		{"id":"2","name":"build_profile","arguments":{"identifier":"ZZZ"}},
		{"id":"3","name":"no_such_tool","arguments":{}}
	]}`
	rec := do(t, srv, http.MethodPost, "/api/v1/agent/execute", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	results := decodeResponse(t, rec).Data.([]any)
	if len(results) != 3 {
		t.Fatalf("results: got %d", len(results))
	}

	ok := results[0].(map[string]any)
	if content, _ := ok["content"].(map[string]any); content["status"] != "resolved" {
		t.Fatalf("first call: %v", ok)
	}
	for _, i := range []int{1, 2} {
		res := results[i].(map[string]any)
		if res["error"] == nil || res["content"] != nil {
			t.Fatalf("call %d should fail alone: %v", i, res)
		}
	}
}

func TestExecuteToolsBadRequest(t *testing.T) {
	srv, _ := testServer(t)
	many := strings.Repeat(`{"id":"x","name":"resolve_entity"},`, 17)
	for _, body := range []string{`not json`, `{"calls":[]}`, `{"calls":[` + strings.TrimSuffix(many, ",") + `]}`} {
		if rec := do(t, srv, http.MethodPost, "/api/v1/agent/execute", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %.30q: got %d", body, rec.Code)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Config & middleware
// ════════════════════════════════════════════════════════════════════

func TestGetConfigMasksSecrets(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "hunter2-secret") || strings.Contains(body, ":pw@") {
		t.Fatalf("secrets leaked: %s", body)
	}
}

func TestGetConfigUsesFileKeys(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/config", "")
	data := dataMap(t, decodeResponse(t, rec))
	cfg := data["config"].(map[string]any)
	cache, ok := cfg["cache"].(map[string]any)
	if !ok {
		t.Fatalf("config.cache missing: %v", cfg)
	}
	if cache["redis_password"] != "***" {
		t.Fatalf("redis_password: got %v", cache["redis_password"])
	}
	if secrets, ok := data["secrets"].([]any); !ok || len(secrets) != 3 {
		t.Fatalf("secrets: got %v", data["secrets"])
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/profile/ABC", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Allow-Origin: got %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&resolver.ResolutionError{Err: resolver.ErrEmptyIdentifier}, http.StatusBadRequest},
		{&resolver.ResolutionError{Err: resolver.ErrNotFound}, http.StatusNotFound},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{context.Canceled, 499},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v): got %d, want %d", tt.err, got, tt.want)
		}
	}
}
