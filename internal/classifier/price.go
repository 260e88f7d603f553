// Package classifier maps raw upstream records to normalized coupons
package classifier

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceRegexp   = regexp.MustCompile(`^(\d+)[.,](\d+)\s*€$`)
	percentRegexp = regexp.MustCompile(`(\d{1,3})%`)
)

// ParsePriceText parses an app price text.
// It returns a price in cents for "4,99 €" and a percent for "15%".
func ParsePriceText(text string) (price int, percent int, ok bool) {
	text = strings.TrimSpace(text)
	if m := priceRegexp.FindStringSubmatch(text); m != nil {
		euros, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, 0, false
		}
		cents := m[2]
		if len(cents) == 1 {
			cents += "0"
		}
		c, err := strconv.Atoi(cents[:2])
		if err != nil {
			return 0, 0, false
		}
		return euros*100 + c, 0, true
	}
	if m := percentRegexp.FindStringSubmatch(text); m != nil {
		p, err := strconv.Atoi(m[1])
		if err != nil || p == 0 || p > 100 {
			return 0, 0, false
		}
		return 0, p, true
	}
	return 0, 0, false
}
