package coupons

import (
	"cmp"
	"slices"
)

// SortMode represents an ordering of coupon lists
type SortMode string

// Sort modes
const (
	SortPriceAsc      SortMode = "price_asc"
	SortPriceDesc     SortMode = "price_desc"
	SortDiscountAsc   SortMode = "discount_asc"
	SortDiscountDesc  SortMode = "discount_desc"
	SortNewAsc        SortMode = "new_asc"
	SortNewDesc       SortMode = "new_desc"
	SortMenuPrice     SortMode = "menu_price"
	SortTypeMenuPrice SortMode = "type_menu_price"
)

// SortModes lists all known sort modes
var SortModes = []SortMode{
	SortPriceAsc,
	SortPriceDesc,
	SortDiscountAsc,
	SortDiscountDesc,
	SortNewAsc,
	SortNewDesc,
	SortMenuPrice,
	SortTypeMenuPrice,
}

// Sort returns a sorted copy of the list.
// Coupons with equal keys are ordered by id so the result does not depend on the input order.
func Sort(cs []*Coupon, mode SortMode) []*Coupon {
	result := slices.Clone(cs)
	slices.SortFunc(result, func(a, b *Coupon) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortStableFunc(result, comparator(mode))
	return result
}

func comparator(mode SortMode) func(a, b *Coupon) int {
	switch mode {
	case SortPriceAsc:
		return comparePrice
	case SortPriceDesc:
		return func(a, b *Coupon) int { return comparePrice(b, a) }
	case SortDiscountAsc:
		return compareDiscount
	case SortDiscountDesc:
		return func(a, b *Coupon) int { return compareDiscount(b, a) }
	case SortNewAsc:
		return compareNew
	case SortNewDesc:
		return func(a, b *Coupon) int { return compareNew(b, a) }
	case SortMenuPrice:
		return func(a, b *Coupon) int {
			if c := compareMenu(a, b); c != 0 {
				return c
			}
			return comparePrice(a, b)
		}
	default:
		return func(a, b *Coupon) int {
			if c := cmp.Compare(a.Type.Display().Rank(), b.Type.Display().Rank()); c != 0 {
				return c
			}
			if c := compareMenu(a, b); c != 0 {
				return c
			}
			return comparePrice(a, b)
		}
	}
}

// comparePrice puts coupons without a known price first
func comparePrice(a, b *Coupon) int { return cmp.Compare(a.Price, b.Price) }

func compareDiscount(a, b *Coupon) int { return cmp.Compare(a.DiscountPercent(), b.DiscountPercent()) }

func compareNew(a, b *Coupon) int { return cmp.Compare(boolToInt(a.IsNew), boolToInt(b.IsNew)) }

func compareMenu(a, b *Coupon) int { return cmp.Compare(boolToInt(a.IsMenu()), boolToInt(b.IsMenu())) }

func boolToInt(x bool) int {
	if x {
		return 1
	}
	return 0
}
