package users

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

// AddFavorite stores a snapshot of a coupon.
// An existing snapshot is never replaced, it returns false in this case.
func (u *User) AddFavorite(c *coupons.Coupon) (bool, error) {
	if c == nil || c.ID == "" || c.Title == "" {
		return false, ErrInvalidSnapshot
	}
	if _, ok := u.Favorites[c.ID]; ok {
		return false, nil
	}
	if u.Favorites == nil {
		u.Favorites = map[string]*coupons.Coupon{}
	}
	snapshot := c.Copy()
	snapshot.IsNew = false
	u.Favorites[c.ID] = snapshot
	return true, nil
}

// RemoveFavorite removes a favorite and reports whether it existed
func (u *User) RemoveFavorite(id string) bool {
	if _, ok := u.Favorites[id]; !ok {
		return false
	}
	delete(u.Favorites, id)
	return true
}

// ResolveFavorites joins the favorites against the catalog.
// Available coupons come from the catalog, unavailable ones are stored snapshots.
func (u *User) ResolveFavorites(catalog map[string]*coupons.Coupon, now time.Time) (available, unavailable []*coupons.Coupon) {
	for id, snapshot := range u.Favorites {
		if c, ok := catalog[id]; ok && c.IsValid(now) {
			available = append(available, c)
		} else {
			unavailable = append(unavailable, snapshot)
		}
	}
	if u.Setting(HideDuplicates) {
		available = coupons.RemoveDuplicates(available)
	}
	mode := u.FavoritesSortMode
	if mode == "" {
		mode = coupons.SortPriceAsc
	}
	available = coupons.Sort(available, mode)
	sort.Slice(unavailable, func(i, j int) bool { return unavailable[i].ID < unavailable[j].ID })
	return
}

// PruneExpiredFavorites removes favorites missing from the catalog or expired, it returns removed ids
func (u *User) PruneExpiredFavorites(catalog map[string]*coupons.Coupon, now time.Time) []string {
	var removed []string
	for id := range u.Favorites {
		if c, ok := catalog[id]; !ok || !c.IsValid(now) {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		delete(u.Favorites, id)
	}
	return removed
}

// PruneAll removes expired favorites of users who enabled it.
// Users changed concurrently are skipped until the next run.
func PruneAll(ctx context.Context, s db.Store, catalog map[string]*coupons.Coupon, now time.Time) (int, error) {
	all, err := db.AllAs[User](ctx, s, db.UsersCollection)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, u := range all {
		if !u.Value.Setting(AutoDeleteExpiredFavorites) {
			continue
		}
		removed := u.Value.PruneExpiredFavorites(catalog, now)
		if len(removed) == 0 {
			continue
		}
		if err := Save(ctx, s, &u); err != nil {
			if errors.Is(err, db.ErrConflict) {
				cmdlib.Linf("user %d changed while pruning, skipping", u.Value.ID)
				continue
			}
			return pruned, err
		}
		cmdlib.Ldbg("removed %d expired favorites of user %d", len(removed), u.Value.ID)
		pruned += len(removed)
	}
	return pruned, nil
}
