// Package credit provides the counterparty credit-state lookup and the
// agency rating scale used by the downgrade-proximity check.
package credit

import (
	"fmt"
	"strings"
)

// Scale identifies a rating agency's symbol family.
type Scale string

const (
	ScaleSP     Scale = "sp" // S&P and Fitch share symbols
	ScaleMoodys Scale = "moodys"
)

// notchDefault is shared by D, SD and RD.
const notchDefault = 21

// Direction of an outlook or watch placement.
type Direction string

const (
	DirNone       Direction = ""
	DirStable     Direction = "stable"
	DirPositive   Direction = "positive"
	DirNegative   Direction = "negative"
	DirDeveloping Direction = "developing"
)

// ParseDirection reads "negative", "Neg", "-" and similar forms. Unknown
// text yields DirNone.
func ParseDirection(s string) Direction {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return DirNone
	case s == "-" || strings.HasPrefix(s, "neg"):
		return DirNegative
	case s == "+" || strings.HasPrefix(s, "pos"):
		return DirPositive
	case strings.HasPrefix(s, "sta"):
		return DirStable
	case strings.HasPrefix(s, "dev"):
		return DirDeveloping
	}
	return DirNone
}

// Rating is a parsed long-term issuer rating. Notch 0 is AAA/Aaa; larger
// notches are worse. Outlook and Watch come from symbol decorations.
type Rating struct {
	Symbol  string
	Scale   Scale
	Notch   int
	Outlook Direction
	Watch   Direction
}

// spScale lists S&P/Fitch symbols from best to worst.
var spScale = []string{
	"AAA",
	"AA+", "AA", "AA-",
	"A+", "A", "A-",
	"BBB+", "BBB", "BBB-",
	"BB+", "BB", "BB-",
	"B+", "B", "B-",
	"CCC+", "CCC", "CCC-",
	"CC", "C",
}

// moodysScale lists Moody's symbols aligned notch-for-notch with spScale.
var moodysScale = []string{
	"Aaa",
	"Aa1", "Aa2", "Aa3",
	"A1", "A2", "A3",
	"Baa1", "Baa2", "Baa3",
	"Ba1", "Ba2", "Ba3",
	"B1", "B2", "B3",
	"Caa1", "Caa2", "Caa3",
	"Ca", "C",
}

var lookup = buildLookup()

func buildLookup() map[string]Rating {
	m := make(map[string]Rating, 2*len(spScale)+3)
	for i, s := range moodysScale {
		m[strings.ToUpper(s)] = Rating{Symbol: s, Scale: ScaleMoodys, Notch: i}
	}
	// S&P last so shared upper-case keys ("AAA", "C") keep the S&P symbol.
	for i, s := range spScale {
		m[s] = Rating{Symbol: s, Scale: ScaleSP, Notch: i}
	}
	for _, s := range []string{"D", "SD", "RD"} {
		m[s] = Rating{Symbol: s, Scale: ScaleSP, Notch: notchDefault}
	}
	return m
}

// ParseRating parses an S&P/Fitch or Moody's symbol. Outlook and watch
// decorations ("BBB- (negative)", "Baa3 *-", "A+/Watch Neg") fill Outlook
// and Watch.
func ParseRating(s string) (Rating, error) {
	sym, decor := strings.TrimSpace(s), ""
	if i := strings.IndexAny(sym, " (/*"); i >= 0 {
		sym, decor = sym[:i], sym[i:]
	}
	r, ok := lookup[strings.ToUpper(sym)]
	if !ok {
		return Rating{}, fmt.Errorf("unknown rating %q", s)
	}
	r.Outlook, r.Watch = parseDecoration(decor)
	return r, nil
}

// parseDecoration reads "(outlook)" and "/Watch Dir" or Moody's "*-" review
// markers.
func parseDecoration(decor string) (outlook, watch Direction) {
	d := strings.ToLower(decor)
	if open := strings.IndexByte(d, '('); open >= 0 {
		if end := strings.IndexByte(d[open:], ')'); end > 0 {
			outlook = ParseDirection(d[open+1 : open+end])
		}
	}
	if _, rest, ok := strings.Cut(d, "watch"); ok {
		watch = ParseDirection(rest)
		if watch == DirNone {
			watch = DirDeveloping
		}
	} else if _, rest, ok := strings.Cut(d, "*"); ok {
		watch = ParseDirection(strings.TrimSpace(rest))
		if watch == DirNone {
			watch = DirDeveloping
		}
	}
	return outlook, watch
}

// NotchesAbove returns how many notches r sits above threshold. Zero or
// negative means at or below it.
func (r Rating) NotchesAbove(threshold Rating) int {
	return threshold.Notch - r.Notch
}

// InvestmentGrade reports whether r is BBB-/Baa3 or better.
func (r Rating) InvestmentGrade() bool {
	return r.Notch <= 9
}

// Equivalent returns the symbol on the other agency's scale.
func (r Rating) Equivalent() string {
	if r.Notch >= len(spScale) {
		return "D"
	}
	if r.Scale == ScaleMoodys {
		return spScale[r.Notch]
	}
	return moodysScale[r.Notch]
}

func (r Rating) String() string { return r.Symbol }
