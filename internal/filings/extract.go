package filings

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

var (
	// "notional amount of ... was $5.2 billion"
	notionalThenAmount = regexp.MustCompile(`(?i)notional[^$.]{0,160}?\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(billion|million|thousand)?`)
	// "$5.2 billion in aggregate notional"
	amountThenNotional = regexp.MustCompile(`(?i)\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(billion|million|thousand)?[^$.]{0,80}?notional`)
	// table captions such as "(in millions)"
	tableScale = regexp.MustCompile(`(?i)\(\s*(?:dollars\s+|amounts\s+)?in\s+(billions|millions|thousands)\s*\)`)
)

var scales = map[string]decimal.Decimal{
	"thousand": decimal.NewFromInt(1_000),
	"million":  decimal.NewFromInt(1_000_000),
	"billion":  decimal.NewFromInt(1_000_000_000),
}

// ExtractNotional reads the aggregate derivative notional a filing states:
// the largest dollar amount mentioned next to "notional". Amounts without
// a unit word take the document's "(in millions)" style caption, if any.
func ExtractNotional(text string) (decimal.Decimal, bool) {
	defaultScale := decimal.NewFromInt(1)
	if m := tableScale.FindStringSubmatch(text); m != nil {
		defaultScale = scales[strings.TrimSuffix(strings.ToLower(m[1]), "s")]
	}

	var best decimal.Decimal
	found := false
	for _, re := range []*regexp.Regexp{notionalThenAmount, amountThenNotional} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
			if err != nil {
				continue
			}
			scale := defaultScale
			if unit := strings.ToLower(m[2]); unit != "" {
				scale = scales[unit]
			}
			amount = amount.Mul(scale)
			if !found || amount.GreaterThan(best) {
				best = amount
				found = true
			}
		}
	}
	return best, found && best.IsPositive()
}

// PlainText strips markup from a filing document, dropping scripts,
// styles, and hidden inline XBRL headers, and collapses whitespace.
func PlainText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, ix\\:header").Remove()
	doc.Find("td, th, p, div, br, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
