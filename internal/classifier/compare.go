package classifier

import (
	"regexp"
	"strings"

	"github.com/bcmk/bkcoupons/internal/upstream"
)

const entreesGroup = "entrees"

var stepRegexp = regexp.MustCompile(`(?i)\s*step\s*[23]$`)

// ComputePriceCompare returns the sum of the regular prices of a combo product.
// It returns zero when the sum cannot be determined or does not exceed the price.
func ComputePriceCompare(product upstream.Product, products map[string]upstream.Product) int {
	if len(product.ComboGroups) == 0 {
		return 0
	}
	sum := 0
	for _, g := range product.ComboGroups {
		if g.Type != entreesGroup || len(g.Products) == 0 {
			return 0
		}
		first, ok := products[g.Products[0]]
		if !ok {
			return 0
		}
		if first.Price == 0 && stepRegexp.MatchString(first.Name) {
			price, ok := matchDummy(first, g, products)
			if !ok {
				return 0
			}
			sum += price
			continue
		}
		sum += first.Price
	}
	if sum <= product.Price {
		return 0
	}
	return sum
}

// matchDummy finds the priced product a zero-price step dummy stands for
func matchDummy(dummy upstream.Product, g upstream.ComboGroup, products map[string]upstream.Product) (int, bool) {
	base := strings.ToLower(strings.TrimSpace(stepRegexp.ReplaceAllString(dummy.Name, "")))
	if base == "" {
		return 0, false
	}
	for _, id := range g.Products {
		p, ok := products[id]
		if !ok || p.Price == 0 || stepRegexp.MatchString(p.Name) {
			continue
		}
		if strings.HasPrefix(strings.ToLower(p.Name), base) {
			return p.Price, true
		}
	}
	return 0, false
}
