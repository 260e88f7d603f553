package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/upstream"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

// ErrMissingProduct is returned for store coupons referring to unknown products
var ErrMissingProduct = errors.New("missing product")

// FromApp maps an app record to a coupon of type APP or PAYBACK
func FromApp(rec upstream.AppCoupon, now time.Time, loc *time.Location) (*coupons.Coupon, error) {
	id := rec.QRCode
	if id == "" {
		id = rec.ID
	}
	id, plu, err := FixIDAndPLU(id, rec.PLU)
	if err != nil {
		return nil, err
	}
	c := &coupons.Coupon{
		ID:             id,
		PLU:            plu,
		Title:          NormalizeTitle(rec.Title, rec.Subline),
		Type:           coupons.TypeApp,
		ImageURL:       rec.ImageURL,
		IsHidden:       rec.Hidden,
		TimestampStart: ParseStart(rec.StartDate, loc),
		TimestampExpire: LaterExpiry(
			ParseExpiry(rec.ExpirationDate, loc),
			ParseFootnoteExpiry(rec.Footnote, loc)),
	}
	if c.Title == "" {
		return nil, fmt.Errorf("coupon %s has no title", id)
	}
	if IsPayback(c.Title) {
		c.Type = coupons.TypePayback
	}
	if rec.PriceText != "" {
		price, percent, ok := ParsePriceText(rec.PriceText)
		if !ok {
			cmdlib.Lerr("cannot parse price text %q of coupon %s", rec.PriceText, id)
		}
		c.Price = price
		c.StaticReducedPercent = percent
	}
	finish(c, now, loc)
	return c, nil
}

// FromMenu maps a store menu coupon joined with its product.
// The type is left empty.
func FromMenu(rec upstream.MenuCoupon, products map[string]upstream.Product, now time.Time, loc *time.Location) (*coupons.Coupon, error) {
	id, plu, err := FixIDAndPLU(rec.ID, rec.PLU)
	if err != nil {
		return nil, err
	}
	product, ok := products[rec.ProductID]
	if !ok {
		return nil, fmt.Errorf("%w %q of coupon %s", ErrMissingProduct, rec.ProductID, id)
	}
	c := &coupons.Coupon{
		ID:              id,
		PLU:             plu,
		Title:           NormalizeTitle(product.Name, ""),
		Price:           product.Price,
		PriceCompare:    ComputePriceCompare(product, products),
		ImageURL:        product.ImageURL,
		TimestampStart:  ParseStart(rec.StartDate, loc),
		TimestampExpire: ParseExpiry(rec.ExpirationDate, loc),
	}
	if c.Title == "" {
		return nil, fmt.Errorf("coupon %s has no title", id)
	}
	finish(c, now, loc)
	return c, nil
}

func finish(c *coupons.Coupon, now time.Time, loc *time.Location) {
	c.TitleShortened = ShortenTitle(c.Title)
	c.ContainsFriesOrCoke = ContainsFriesOrCoke(c.Title)
	if c.TimestampExpire == 0 {
		c.TimestampExpire = PlaceholderExpiry(now, loc)
		c.IsUnsafeExpiredate = true
	}
	if c.TimestampStart > c.TimestampExpire {
		c.TimestampStart = 0
	}
}
