package users

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

func TestMain(m *testing.M) {
	cmdlib.Verbosity = cmdlib.SilentVerbosity
	os.Exit(m.Run())
}

var now = time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)

func coupon(id, title string, price int, expire time.Time) *coupons.Coupon {
	return &coupons.Coupon{ID: id, Title: title, Price: price, Type: coupons.TypeApp, TimestampExpire: expire.Unix()}
}

func ids(cs []*coupons.Coupon) []string {
	var result []string
	for _, c := range cs {
		result = append(result, c.ID)
	}
	return result
}

func TestSettingsDefaults(t *testing.T) {
	u := New(1, now.Unix())
	if u.Setting(NotifyWhenFavoritesAreBack) || !u.Setting(DisplayQR) {
		t.Error("unexpected defaults")
	}
	if err := u.Set(NotifyWhenFavoritesAreBack, true); err != nil {
		t.Fatal(err)
	}
	if err := u.Set(DisplayQR, true); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(u.Settings, map[string]bool{NotifyWhenFavoritesAreBack: true}) {
		t.Errorf("only non-default values must be stored, got %v", u.Settings)
	}
	if err := u.Set("bogus", true); !errors.Is(err, ErrUnknownSetting) {
		t.Errorf("expected unknown setting, got %v", err)
	}
	views := u.SettingViews()
	if len(views) != len(Settings) || !views[0].Enabled || views[1].Enabled {
		t.Errorf("unexpected views %+v", views)
	}
}

func TestAddFavoriteKeepsSnapshot(t *testing.T) {
	u := New(1, now.Unix())
	c := coupon("101", "Whopper", 399, now.Add(time.Hour))
	c.IsNew = true
	added, err := u.AddFavorite(c)
	if err != nil || !added {
		t.Fatalf("unexpected result %v, %v", added, err)
	}
	c.Title = "Changed"
	added, err = u.AddFavorite(c)
	if err != nil || added {
		t.Errorf("second add must be a no-op, got %v, %v", added, err)
	}
	if u.Favorites["101"].Title != "Whopper" || u.Favorites["101"].IsNew {
		t.Errorf("snapshot must not change, got %+v", u.Favorites["101"])
	}
	if _, err := u.AddFavorite(&coupons.Coupon{ID: "1"}); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("expected invalid snapshot, got %v", err)
	}
	if !u.RemoveFavorite("101") || u.RemoveFavorite("101") {
		t.Error("unexpected remove results")
	}
}

func TestResolveFavorites(t *testing.T) {
	u := New(1, now.Unix())
	for _, c := range []*coupons.Coupon{
		coupon("1", "Whopper", 499, now.Add(time.Hour)),
		coupon("2", "Whopper!", 399, now.Add(time.Hour)),
		coupon("3", "Nuggets", 299, now.Add(time.Hour)),
		coupon("4", "Fries", 199, now.Add(time.Hour)),
	} {
		if _, err := u.AddFavorite(c); err != nil {
			t.Fatal(err)
		}
	}
	catalog := map[string]*coupons.Coupon{
		"1": coupon("1", "Whopper", 499, now.Add(time.Hour)),
		"2": coupon("2", "Whopper!", 399, now.Add(time.Hour)),
		"3": coupon("3", "Nuggets", 299, now.Add(-time.Hour)),
	}
	available, unavailable := u.ResolveFavorites(catalog, now)
	if x := ids(available); !reflect.DeepEqual(x, []string{"2", "1"}) {
		t.Errorf("unexpected available %v", x)
	}
	if x := ids(unavailable); !reflect.DeepEqual(x, []string{"3", "4"}) {
		t.Errorf("unexpected unavailable %v", x)
	}

	if err := u.Set(HideDuplicates, true); err != nil {
		t.Fatal(err)
	}
	available, _ = u.ResolveFavorites(catalog, now)
	if x := ids(available); !reflect.DeepEqual(x, []string{"2"}) {
		t.Errorf("duplicates must be hidden, got %v", x)
	}
}

func TestPruneAll(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	catalog := map[string]*coupons.Coupon{"1": coupon("1", "Whopper", 499, now.Add(time.Hour))}

	pruning := db.Versioned[User]{Value: New(1, now.Unix())}
	keeping := db.Versioned[User]{Value: New(2, now.Unix())}
	for _, u := range []*db.Versioned[User]{&pruning, &keeping} {
		for _, c := range []*coupons.Coupon{
			coupon("1", "Whopper", 499, now.Add(time.Hour)),
			coupon("2", "Nuggets", 299, now.Add(-time.Hour)),
		} {
			if _, err := u.Value.AddFavorite(c); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := pruning.Value.Set(AutoDeleteExpiredFavorites, true); err != nil {
		t.Fatal(err)
	}
	for _, u := range []*db.Versioned[User]{&pruning, &keeping} {
		if err := Save(ctx, store, u); err != nil {
			t.Fatal(err)
		}
	}

	n, err := PruneAll(ctx, store, catalog, now)
	if err != nil || n != 1 {
		t.Fatalf("unexpected prune result %d, %v", n, err)
	}
	u, err := Load(ctx, store, 1, now.Unix())
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Value.Favorites) != 1 || u.Value.Favorites["1"] == nil {
		t.Errorf("unexpected favorites %v", u.Value.Favorites)
	}
	u, err = Load(ctx, store, 2, now.Unix())
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Value.Favorites) != 2 {
		t.Errorf("favorites of a user without pruning must stay, got %v", u.Value.Favorites)
	}
}

func TestLoadNewUser(t *testing.T) {
	u, err := Load(context.Background(), db.NewMemoryStore(), 7, now.Unix())
	if err != nil {
		t.Fatal(err)
	}
	if u.Rev != 0 || u.Value.ID != 7 || u.Value.TimestampCreated != now.Unix() {
		t.Errorf("unexpected new user %+v", u.Value)
	}
}
