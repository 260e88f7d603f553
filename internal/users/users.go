// Package users contains subscribers, their settings and favorites
package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
)

// ErrUnknownSetting is returned for a setting key missing from the registry
var ErrUnknownSetting = errors.New("unknown setting")

// ErrInvalidSnapshot is returned when a coupon cannot be stored as a favorite
var ErrInvalidSnapshot = errors.New("coupon snapshot must have an id and a title")

// User represents a subscriber
type User struct {
	ID                int64                      `json:"id"`
	Settings          map[string]bool            `json:"settings,omitempty"`
	Favorites         map[string]*coupons.Coupon `json:"favorite_coupons,omitempty"`
	FavoritesSortMode coupons.SortMode           `json:"favorites_sort_mode,omitempty"`
	Blocked           int                        `json:"blocked,omitempty"`
	TimestampCreated  int64                      `json:"timestamp_created,omitempty"`
}

// Setting describes a boolean user setting
type Setting struct {
	Key         string
	Default     bool
	Description string
}

// Setting keys
const (
	NotifyWhenFavoritesAreBack                     = "notifyWhenFavoritesAreBack"
	NotifyWhenNewCouponsAreAvailable               = "notifyWhenNewCouponsAreAvailable"
	DisplayQR                                      = "displayQR"
	DisplayHiddenAppCouponsWithinGenericCategories = "displayHiddenAppCouponsWithinGenericCategories"
	HideDuplicates                                 = "hideDuplicates"
	AutoDeleteExpiredFavorites                     = "autoDeleteExpiredFavorites"
	HighlightFavoriteCouponsInButtonTexts          = "highlightFavoriteCouponsInButtonTexts"
	HighlightNewCouponsInCouponButtonTexts         = "highlightNewCouponsInCouponButtonTexts"
)

// Settings is the registry of user settings in display order
var Settings = []Setting{
	{NotifyWhenFavoritesAreBack, false, "Benachrichtigen, wenn Favoriten wieder verfügbar sind"},
	{NotifyWhenNewCouponsAreAvailable, false, "Benachrichtigen, wenn neue Coupons verfügbar sind"},
	{DisplayQR, true, "QR-Codes anzeigen"},
	{DisplayHiddenAppCouponsWithinGenericCategories, false, "Versteckte App-Coupons in allgemeinen Kategorien anzeigen"},
	{HideDuplicates, false, "Doppelte Coupons ausblenden"},
	{AutoDeleteExpiredFavorites, false, "Abgelaufene Favoriten automatisch löschen"},
	{HighlightFavoriteCouponsInButtonTexts, true, "Favoriten in Buttons hervorheben"},
	{HighlightNewCouponsInCouponButtonTexts, true, "Neue Coupons in Buttons hervorheben"},
}

// FindSetting returns a registered setting
func FindSetting(key string) (Setting, bool) {
	for _, s := range Settings {
		if s.Key == key {
			return s, true
		}
	}
	return Setting{}, false
}

// SettingView represents a setting with its current value
type SettingView struct {
	Key         string
	Description string
	Enabled     bool
}

// New returns a user with registry defaults
func New(id int64, now int64) *User {
	return &User{ID: id, Settings: map[string]bool{}, Favorites: map[string]*coupons.Coupon{}, TimestampCreated: now}
}

// Setting returns the value of a setting falling back to its default
func (u *User) Setting(key string) bool {
	if v, ok := u.Settings[key]; ok {
		return v
	}
	s, _ := FindSetting(key)
	return s.Default
}

// Set changes a setting, values equal to the default are not stored
func (u *User) Set(key string, value bool) error {
	s, ok := FindSetting(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if u.Settings == nil {
		u.Settings = map[string]bool{}
	}
	if value == s.Default {
		delete(u.Settings, key)
	} else {
		u.Settings[key] = value
	}
	return nil
}

// SettingViews returns all settings with the user's values
func (u *User) SettingViews() []SettingView {
	result := make([]SettingView, 0, len(Settings))
	for _, s := range Settings {
		result = append(result, SettingView{Key: s.Key, Description: s.Description, Enabled: u.Setting(s.Key)})
	}
	return result
}

// DocumentID returns the store id of a user
func DocumentID(id int64) string { return strconv.FormatInt(id, 10) }

// Load returns a stored user or a new one with revision zero
func Load(ctx context.Context, s db.Store, id int64, now int64) (db.Versioned[User], error) {
	v, err := db.GetAs[User](ctx, s, db.UsersCollection, DocumentID(id))
	if errors.Is(err, db.ErrNotFound) {
		return db.Versioned[User]{Value: New(id, now)}, nil
	}
	if err != nil {
		return v, err
	}
	if v.Value.Settings == nil {
		v.Value.Settings = map[string]bool{}
	}
	if v.Value.Favorites == nil {
		v.Value.Favorites = map[string]*coupons.Coupon{}
	}
	return v, nil
}

// Save writes a user and updates its revision
func Save(ctx context.Context, s db.Store, u *db.Versioned[User]) error {
	rev, err := db.PutAs(ctx, s, db.UsersCollection, DocumentID(u.Value.ID), *u)
	if err != nil {
		return fmt.Errorf("cannot save user %d, %w", u.Value.ID, err)
	}
	u.Rev = rev
	return nil
}
