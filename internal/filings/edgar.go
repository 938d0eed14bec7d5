// Package filings extracts disclosed derivative notionals from SEC EDGAR.
//
// The client walks an entity's periodic filings (10-K and 10-Q) through the
// EDGAR company Atom feed, opens the primary document of the filing that
// covers the requested period, and reads the aggregate notional it states.
//
// EDGAR requires a User-Agent naming the caller and allows about ten
// requests per second. Every request goes through a shared limiter.
package filings

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed/atom"

	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/internal/store"
	"github.com/seenimoa/gamecock/pkg/models"
	"github.com/seenimoa/gamecock/pkg/utils"
)

const (
	sourceName = "edgar"

	// Derivative notionals in US periodic reports are stated in dollars.
	disclosureCurrency = "USD"

	maxBodyBytes = 20 << 20
)

// --- Configuration ---

// Config holds EDGAR access settings.
type Config struct {
	BaseURL           string        // default: https://www.sec.gov
	UserAgent         string        // "name contact@example.com", required by EDGAR
	RequestsPerSecond float64       // default: 8
	Forms             []string      // default: 10-K, 10-Q
	FeedSize          int           // filings requested per feed (default: 40)
	FeedTTL           time.Duration // feed cache lifetime (default: 15m)
}

// DefaultConfig returns the EDGAR defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://www.sec.gov",
		UserAgent:         "gamecock/1.0 (ops@example.com)",
		RequestsPerSecond: 8,
		Forms:             []string{"10-K", "10-Q"},
		FeedSize:          40,
		FeedTTL:           15 * time.Minute,
	}
}

// --- Client ---

// Client reads disclosures from EDGAR. It satisfies the cross-filing
// engine's disclosure provider.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *infra.RateLimiter
	parser  *atom.Parser
	feeds   *infra.MemoryCache[[]Filing]
	metrics *infra.Metrics
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = logging.OrDiscard(l) }
}

// WithMetrics records request latency and failures under source "edgar".
func WithMetrics(m *infra.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if len(cfg.Forms) == 0 {
		cfg.Forms = def.Forms
	}
	if cfg.FeedSize <= 0 {
		cfg.FeedSize = def.FeedSize
	}
	if cfg.FeedTTL <= 0 {
		cfg.FeedTTL = def.FeedTTL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("filings: invalid base url %q", cfg.BaseURL)
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: infra.NewRateLimiter(cfg.RequestsPerSecond, 1),
		parser:  &atom.Parser{},
		feeds:   infra.NewMemoryCache[[]Filing](cfg.FeedTTL),
		log:     logging.Discard(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Filing is one periodic report listed in a company feed.
type Filing struct {
	Form      string    `json:"form"`
	Accession string    `json:"accession,omitempty"`
	IndexURL  string    `json:"index_url"`
	Filed     time.Time `json:"filed"`
	Period    string    `json:"period"` // fiscal quarter covered, e.g. "2024Q1"
}

// DisclosedExposure returns the aggregate derivative notional the entity
// stated in the filing covering period ("latest" picks the newest). found
// is false when the entity has no CIK, no matching filing exists, or the
// filing states no notional.
func (c *Client) DisclosedExposure(ctx context.Context, entity models.Entity, period string) (store.Disclosure, bool, error) {
	if len(entity.Identifiers.CIK) == 0 {
		return store.Disclosure{}, false, nil
	}
	cik := entity.Identifiers.CIK[0]

	filings, err := c.Filings(ctx, cik)
	if err != nil {
		return store.Disclosure{}, false, err
	}
	f, ok := selectFiling(filings, period)
	if !ok {
		c.log.Debug("no filing for period", "entity", entity.Key, "cik", cik, "period", period)
		return store.Disclosure{}, false, nil
	}

	docURL, err := c.primaryDocument(ctx, f)
	if err != nil {
		return store.Disclosure{}, false, err
	}
	html, err := c.get(ctx, docURL, "text/html")
	if err != nil {
		return store.Disclosure{}, false, fmt.Errorf("edgar document %s: %w", f.Accession, err)
	}
	amount, ok := ExtractNotional(PlainText(string(html)))
	if !ok {
		c.log.Debug("filing states no notional", "entity", entity.Key, "accession", f.Accession)
		return store.Disclosure{}, false, nil
	}
	c.log.Debug("disclosure extracted", "entity", entity.Key, "form", f.Form, "period", f.Period, "amount", amount.String())
	return store.Disclosure{
		Period:    f.Period,
		Amount:    amount,
		Currency:  disclosureCurrency,
		Reference: docURL,
	}, true, nil
}

// Filings lists the entity's periodic reports, newest first.
func (c *Client) Filings(ctx context.Context, cik string) ([]Filing, error) {
	cik = padCIK(cik)
	if cached, ok := c.feeds.Get(cik); ok {
		return cached, nil
	}

	q := url.Values{}
	q.Set("action", "getcompany")
	q.Set("CIK", cik)
	q.Set("type", "10-")
	q.Set("dateb", "")
	q.Set("owner", "include")
	q.Set("count", fmt.Sprint(c.cfg.FeedSize))
	q.Set("output", "atom")
	raw, err := c.get(ctx, c.resolve("/cgi-bin/browse-edgar")+"?"+q.Encode(), "application/atom+xml")
	if err != nil {
		return nil, fmt.Errorf("edgar feed %s: %w", cik, err)
	}
	feed, err := c.parser.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("edgar feed %s: parse: %w", cik, err)
	}

	var out []Filing
	for _, entry := range feed.Entries {
		form := formOf(entry)
		if !slices.Contains(c.cfg.Forms, form) {
			continue
		}
		filed := entryDate(entry)
		link := entryLink(entry)
		if filed.IsZero() || link == "" {
			continue
		}
		out = append(out, Filing{
			Form:      form,
			Accession: accessionOf(entry.ID),
			IndexURL:  c.resolve(link),
			Filed:     filed,
			Period:    PeriodCovered(filed),
		})
	}
	slices.SortStableFunc(out, func(a, b Filing) int { return b.Filed.Compare(a.Filed) })
	c.feeds.Set(cik, out)
	return out, nil
}

// primaryDocument finds the main document in a filing index page: the
// first row whose type matches the form, else the first HTML document.
func (c *Client) primaryDocument(ctx context.Context, f Filing) (string, error) {
	raw, err := c.get(ctx, f.IndexURL, "text/html")
	if err != nil {
		return "", fmt.Errorf("edgar index %s: %w", f.Accession, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return "", fmt.Errorf("edgar index %s: parse: %w", f.Accession, err)
	}

	var primary, fallback string
	doc.Find("table.tableFile tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return true
		}
		href, ok := cells.Eq(2).Find("a").Attr("href")
		if !ok || !isHTMLDoc(href) {
			return true
		}
		href = strings.TrimPrefix(href, "/ix?doc=")
		if fallback == "" {
			fallback = href
		}
		if strings.EqualFold(strings.TrimSpace(cells.Eq(3).Text()), f.Form) {
			primary = href
			return false
		}
		return true
	})
	if primary == "" {
		primary = fallback
	}
	if primary == "" {
		return "", fmt.Errorf("edgar index %s: no document", f.Accession)
	}
	return c.resolve(primary), nil
}

// --- Shared helpers ---

// get performs one rate-limited GET with the EDGAR headers.
func (c *Client) get(ctx context.Context, rawURL, accept string) (body []byte, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { c.metrics.ObserveSource(sourceName, time.Since(start), err != nil) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// resolve turns a feed or index link into an absolute URL on the EDGAR host.
func (c *Client) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// padCIK pads a CIK to the 10 digits EDGAR uses.
func padCIK(cik string) string {
	cik = strings.TrimLeft(strings.TrimSpace(cik), "0")
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// formOf reads the form type from the entry category. EDGAR labels every
// category "form type" and puts the form itself in the term.
func formOf(entry *atom.Entry) string {
	for _, cat := range entry.Categories {
		if term := strings.TrimSpace(cat.Term); term != "" {
			return strings.ToUpper(term)
		}
	}
	// titles read "10-Q  - Quarterly report ..."
	form, _, _ := strings.Cut(strings.TrimSpace(entry.Title), " ")
	return strings.ToUpper(strings.TrimSpace(form))
}

func entryDate(entry *atom.Entry) time.Time {
	switch {
	case entry.UpdatedParsed != nil:
		return *entry.UpdatedParsed
	case entry.PublishedParsed != nil:
		return *entry.PublishedParsed
	}
	return time.Time{}
}

// entryLink returns the filing index link, the entry's alternate link.
func entryLink(entry *atom.Entry) string {
	for _, l := range entry.Links {
		if l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return l.Href
		}
	}
	return ""
}

// accessionOf pulls the accession number out of an EDGAR entry id such as
// "urn:tag:sec.gov,2008:accession-number=0000123456-24-000010".
func accessionOf(guid string) string {
	if _, acc, ok := strings.Cut(guid, "accession-number="); ok {
		return acc
	}
	return guid
}

func isHTMLDoc(href string) bool {
	h := strings.ToLower(href)
	return strings.HasSuffix(h, ".htm") || strings.HasSuffix(h, ".html")
}

// PeriodCovered labels the fiscal quarter a periodic report filed on filed
// covers: the last calendar quarter that ended before the filing date.
func PeriodCovered(filed time.Time) string {
	filed = utils.DateOnly(filed)
	qEnd := utils.QuarterEnd(filed)
	if !qEnd.Before(filed) {
		qEnd = utils.QuarterEnd(utils.AddMonths(filed, -3))
	}
	return fmt.Sprintf("%dQ%d", qEnd.Year(), (int(qEnd.Month())-1)/3+1)
}

// selectFiling picks the newest filing for period, or the newest overall
// for "latest".
func selectFiling(filings []Filing, period string) (Filing, bool) {
	if period == "" || strings.EqualFold(period, store.LatestPeriod) {
		if len(filings) == 0 {
			return Filing{}, false
		}
		return filings[0], true
	}
	for _, f := range filings {
		if strings.EqualFold(f.Period, period) {
			return f, true
		}
	}
	return Filing{}, false
}
