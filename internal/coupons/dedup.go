package coupons

// RemoveDuplicates keeps one coupon per normalized title.
// The cheapest coupon wins, on equal prices an app coupon wins, otherwise the first one.
// Payback coupons are never deduplicated.
// The relative order of the kept coupons is preserved.
func RemoveDuplicates(cs []*Coupon) []*Coupon {
	best := map[string]*Coupon{}
	for _, c := range cs {
		if !dedupEligible(c) {
			continue
		}
		key := c.NormalizedTitle()
		current, ok := best[key]
		if !ok || better(c, current) {
			best[key] = c
		}
	}
	var result []*Coupon
	for _, c := range cs {
		if !dedupEligible(c) || best[c.NormalizedTitle()] == c {
			result = append(result, c)
		}
	}
	return result
}

func dedupEligible(c *Coupon) bool {
	return c.Type != TypePayback && c.NormalizedTitle() != ""
}

// better reports whether the candidate should replace the current choice
func better(candidate, current *Coupon) bool {
	if candidate.Price != current.Price {
		switch {
		case candidate.Price == 0:
			return false
		case current.Price == 0:
			return true
		}
		return candidate.Price < current.Price
	}
	return candidate.Type == TypeApp && current.Type != TypeApp
}
