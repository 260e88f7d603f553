package classifier

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxShortTitleLength = 40

var (
	whitespaceRegexp  = regexp.MustCompile(`\s+`)
	trademarkRegexp   = regexp.MustCompile(`[®™©]`)
	genericRegexp     = regexp.MustCompile(`(?i)^(neu|tipp|aktion|angebot|nur in der app|app[- ]exklusiv|exklusiv)!?$`)
	paybackRegexp     = regexp.MustCompile(`(?i)payback`)
	friesOrCokeRegexp = regexp.MustCompile(`(?i)pommes|fries|cola|coke|fanta|sprite|getränk|menü`)
)

type replacement struct {
	re *regexp.Regexp
	to string
}

// upstream spells product names inconsistently
var casingFixes = []replacement{
	{regexp.MustCompile(`(?i)\bking nuggets\b`), "King Nuggets"},
	{regexp.MustCompile(`(?i)\bchili cheese nuggets\b`), "Chili Cheese Nuggets"},
	{regexp.MustCompile(`(?i)\bwhopper\b`), "Whopper"},
	{regexp.MustCompile(`(?i)\blong chicken\b`), "Long Chicken"},
	{regexp.MustCompile(`(?i)\bcheeseburger\b`), "Cheeseburger"},
	{regexp.MustCompile(`(?i)\bhamburger\b`), "Hamburger"},
	{regexp.MustCompile(`(?i)\bpommes\b`), "Pommes"},
	{regexp.MustCompile(`(?i)\bcoca[ -]cola\b`), "Coca-Cola"},
}

var shortenings = []replacement{
	{regexp.MustCompile(`\bCoca-Cola\b`), "Cola"},
	{regexp.MustCompile(`\bChili Cheese\b`), "CC"},
	{regexp.MustCompile(`\bKing Nuggets\b`), "Nuggets"},
	{regexp.MustCompile(`(?i)\s+und\s+`), " & "},
	{regexp.MustCompile(`(?i)\bmittlere[ns]?\b`), "M"},
	{regexp.MustCompile(`(?i)\bgroße[ns]?\b`), "L"},
	{regexp.MustCompile(`(?i)\bkleine[ns]?\b`), "S"},
	{regexp.MustCompile(`\s*\+\s*`), " + "},
}

// NormalizeTitle joins title and subline.
// Generic titles are dropped since the product is in the subline then.
func NormalizeTitle(title, subline string) string {
	title = cleanTitle(title)
	subline = cleanTitle(subline)
	var result string
	switch {
	case subline == "":
		result = title
	case title == "" || genericRegexp.MatchString(title):
		result = subline
	default:
		result = title + " " + subline
	}
	for _, r := range casingFixes {
		result = r.re.ReplaceAllString(result, r.to)
	}
	return result
}

// ShortenTitle returns a short display title or an empty string if the title is short enough
func ShortenTitle(title string) string {
	result := title
	for _, r := range shortenings {
		result = r.re.ReplaceAllString(result, r.to)
	}
	if utf8.RuneCountInString(result) > maxShortTitleLength {
		runes := []rune(result)
		result = strings.TrimSpace(string(runes[:maxShortTitleLength-1])) + "…"
	}
	if result == title {
		return ""
	}
	return result
}

// ContainsFriesOrCoke reports whether a title describes a menu
func ContainsFriesOrCoke(title string) bool {
	return friesOrCokeRegexp.MatchString(title)
}

// IsPayback reports whether a title describes a Payback coupon
func IsPayback(title string) bool {
	return paybackRegexp.MatchString(title)
}

func cleanTitle(s string) string {
	s = trademarkRegexp.ReplaceAllString(s, "")
	s = whitespaceRegexp.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
