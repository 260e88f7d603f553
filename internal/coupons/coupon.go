// Package coupons contains the coupon entity and pure list operations over it
package coupons

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Type represents a coupon category
type Type string

// Coupon types
const (
	TypeApp         Type = "APP"
	TypePaper       Type = "PAPER"
	TypePaperUnsafe Type = "PAPER_UNSAFE"
	TypeOnlineOnly  Type = "ONLINE_ONLY"
	TypeSpecial     Type = "SPECIAL"
	TypePayback     Type = "PAYBACK"
	TypeUnknown     Type = "UNKNOWN"
	// TypeAppSameChar marks a store coupon sharing its PLU letter with app coupons.
	// It is never shown as a category of its own.
	TypeAppSameChar Type = "APP_SAME_CHAR"
)

var typeRanks = map[Type]int{
	TypeApp:         0,
	TypePaper:       1,
	TypePaperUnsafe: 2,
	TypeAppSameChar: 2,
	TypeOnlineOnly:  3,
	TypeSpecial:     4,
	TypePayback:     5,
	TypeUnknown:     6,
}

// DisplayTypes lists the categories shown in the channel, in display order
var DisplayTypes = []Type{TypeApp, TypePaper, TypeSpecial, TypePayback}

// Rank returns the position of the type in type-ordered lists
func (t Type) Rank() int {
	if r, ok := typeRanks[t]; ok {
		return r
	}
	return len(typeRanks)
}

// Display returns the category the type is shown under
func (t Type) Display() Type {
	if t == TypeAppSameChar {
		return TypePaperUnsafe
	}
	return t
}

// IsDisplayed reports whether coupons of this type are shown in the channel
func (t Type) IsDisplayed() bool {
	for _, x := range DisplayTypes {
		if x == t {
			return true
		}
	}
	return false
}

// Coupon represents one promotional offer.
// Timestamps are unix seconds, zero means absent.
// Prices are in cents, zero means unknown.
type Coupon struct {
	ID                   string `json:"id"`
	PLU                  string `json:"plu,omitempty"`
	Title                string `json:"title"`
	TitleShortened       string `json:"title_shortened,omitempty"`
	Description          string `json:"description,omitempty"`
	Price                int    `json:"price,omitempty"`
	PriceCompare         int    `json:"price_compare,omitempty"`
	StaticReducedPercent int    `json:"static_reduced_percent,omitempty"`
	Type                 Type   `json:"type"`
	TimestampStart       int64  `json:"timestamp_start,omitempty"`
	TimestampExpire      int64  `json:"timestamp_expire,omitempty"`
	TimestampExpire2     int64  `json:"timestamp_expire2,omitempty"`
	ImageURL             string `json:"image_url,omitempty"`
	ImagePath            string `json:"image_path,omitempty"`
	QRImagePath          string `json:"qr_image_path,omitempty"`
	ContainsFriesOrCoke  bool   `json:"contains_fries_or_coke,omitempty"`
	IsHidden             bool   `json:"is_hidden,omitempty"`
	IsNew                bool   `json:"is_new,omitempty"`
	IsUnsafeExpiredate   bool   `json:"is_unsafe_expiredate,omitempty"`
	IsNewOverrideUntil   int64  `json:"is_new_override_until,omitempty"`
}

// EffectiveExpiry returns the later of both expiry sources
func (c *Coupon) EffectiveExpiry() int64 {
	if c.TimestampExpire2 > c.TimestampExpire {
		return c.TimestampExpire2
	}
	return c.TimestampExpire
}

// IsValid reports whether the coupon has not expired yet
func (c *Coupon) IsValid(now time.Time) bool {
	return c.EffectiveExpiry() > now.Unix()
}

// Fingerprint identifies the mirrored version of a coupon
func (c *Coupon) Fingerprint() string {
	return c.ID + "_" + c.PLU + "_" + strconv.FormatInt(c.EffectiveExpiry(), 10) + "_" + c.ImageURL
}

// IsMenu reports whether the coupon is a menu, that is contains fries or a drink
func (c *Coupon) IsMenu() bool { return c.ContainsFriesOrCoke }

// DiscountPercent returns the reduction in percent or zero if it is unknown
func (c *Coupon) DiscountPercent() int {
	if c.StaticReducedPercent > 0 {
		return c.StaticReducedPercent
	}
	if c.Price > 0 && c.PriceCompare > c.Price {
		return (c.PriceCompare - c.Price) * 100 / c.PriceCompare
	}
	return 0
}

// DisplayTitle returns the shortened title if present
func (c *Coupon) DisplayTitle() string {
	if c.TitleShortened != "" {
		return c.TitleShortened
	}
	return c.Title
}

// NormalizedTitle returns the title reduced to lower case letters and digits
func (c *Coupon) NormalizedTitle() string {
	var b strings.Builder
	for _, r := range strings.ToLower(c.Title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Copy returns a shallow copy of the coupon
func (c *Coupon) Copy() *Coupon {
	x := *c
	return &x
}
