package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/bcmk/bkcoupons/internal/classifier"
	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/upstream"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

var berlin = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		panic(err)
	}
	return loc
}()

var now = time.Date(2030, 1, 10, 12, 0, 0, 0, berlin)

func TestMain(m *testing.M) {
	cmdlib.Verbosity = cmdlib.SilentVerbosity
	os.Exit(m.Run())
}

type fakeSource struct {
	app       *upstream.AppResponse
	appErr    error
	stores    []upstream.Store
	menus     map[string]*upstream.MenuResponse
	requested []string
}

func (f *fakeSource) AppCoupons(context.Context) (*upstream.AppResponse, error) {
	if f.appErr != nil {
		return nil, f.appErr
	}
	return f.app, nil
}

func (f *fakeSource) Stores(context.Context) ([]upstream.Store, error) { return f.stores, nil }

func (f *fakeSource) StoreMenu(_ context.Context, storeID string) (*upstream.MenuResponse, error) {
	f.requested = append(f.requested, storeID)
	m, ok := f.menus[storeID]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func appResponse(ids ...string) *upstream.AppResponse {
	r := &upstream.AppResponse{}
	for i, id := range ids {
		r.Coupons = append(r.Coupons, upstream.AppCoupon{
			ID:             id,
			PLU:            fmt.Sprintf("S%d", i+1),
			Title:          "Whopper " + id,
			PriceText:      "4,99 €",
			ExpirationDate: "2030-03-01",
		})
	}
	return r
}

func paperMenu(letter string, first, n int) *upstream.MenuResponse {
	m := &upstream.MenuResponse{Products: map[string]upstream.Product{}}
	for i := 0; i < n; i++ {
		pid := fmt.Sprintf("p%d", first+i)
		m.Products[pid] = upstream.Product{ID: pid, Name: "Long Chicken " + pid, Price: 399}
		m.Coupons = append(m.Coupons, upstream.MenuCoupon{
			ID:        fmt.Sprintf("%d", first+i),
			PLU:       fmt.Sprintf("%s%d", letter, i+1),
			ProductID: pid,
		})
	}
	return m
}

func newTestCrawler(store db.Store, source Source, cfg Config) *Crawler {
	cfg.Location = berlin
	c := New(store, source, nil, cfg)
	c.now = func() time.Time { return now }
	return c
}

func catalog(t *testing.T, store db.Store) map[string]*coupons.Coupon {
	t.Helper()
	cs, err := db.ValuesAs[coupons.Coupon](context.Background(), store, db.CouponsCollection)
	if err != nil {
		t.Fatal(err)
	}
	return cs
}

func TestBootstrapCrawl(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	source := &fakeSource{app: &upstream.AppResponse{Coupons: []upstream.AppCoupon{
		{ID: "100", PLU: "S1", Title: "Whopper", PriceText: "4,99 €"},
		{ID: "101", PLU: "S2", Title: "Nuggets", PriceText: "20%"},
		{ID: "102", PLU: "", Title: "Shake", PriceText: "50%"},
	}}}
	report, err := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}}).Crawl(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.App != 3 || report.New != 0 || report.StoresCrawled != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	cs := catalog(t, store)
	if len(cs) != 3 {
		t.Fatalf("expected 3 coupons, got %d", len(cs))
	}
	for id, c := range cs {
		if c.Type != coupons.TypeApp || c.IsNew || !c.IsValid(now) {
			t.Errorf("unexpected coupon %s: %+v", id, c)
		}
	}
	if cs["100"].Price != 499 || cs["101"].StaticReducedPercent != 20 || cs["102"].StaticReducedPercent != 50 {
		t.Errorf("unexpected prices %+v %+v %+v", cs["100"], cs["101"], cs["102"])
	}
	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(info.Value.AvailableCouponTypes, []string{"APP"}) || info.Value.TimestampLastCrawl != now.Unix() {
		t.Errorf("unexpected info %+v", info.Value)
	}
}

func TestPaperDetection(t *testing.T) {
	store := db.NewMemoryStore()
	source := &fakeSource{
		app:   appResponse("100"),
		menus: map[string]*upstream.MenuResponse{"1": paperMenu("A", 200, 46)},
	}
	cfg := Config{
		StoreIDs: []string{"1"},
		Paper: classifier.PaperConfig{
			Expiry: map[string]time.Time{"A": time.Date(2030, 6, 30, 0, 0, 0, 0, berlin)},
		},
	}
	report, err := newTestCrawler(store, source, cfg).Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Paper) != 1 || !report.Paper[0].Authoritative {
		t.Errorf("unexpected detections %+v", report.Paper)
	}
	expiry := time.Date(2030, 6, 30, 23, 59, 59, 0, berlin).Unix()
	paper := 0
	for id, c := range catalog(t, store) {
		if id == "100" {
			continue
		}
		if c.Type != coupons.TypePaper || c.EffectiveExpiry() != expiry || c.IsUnsafeExpiredate {
			t.Errorf("unexpected paper coupon %s: %+v", id, c)
		}
		paper++
	}
	if paper != 46 {
		t.Errorf("expected 46 paper coupons, got %d", paper)
	}
}

func TestIsNew(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	source := &fakeSource{app: appResponse("100", "101")}
	c := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}})
	if _, err := c.Crawl(ctx); err != nil {
		t.Fatal(err)
	}
	source.app = appResponse("100", "101", "102")
	report, err := c.Crawl(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cs := catalog(t, store)
	if report.New != 1 || !cs["102"].IsNew || cs["100"].IsNew {
		t.Errorf("only 102 must be new, report %+v", report)
	}
	if _, err := c.Crawl(ctx); err != nil {
		t.Fatal(err)
	}
	if catalog(t, store)["102"].IsNew {
		t.Error("new flag must be cleared on the next crawl")
	}
}

func TestFullCatalogModeMarksRevived(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	expired := &coupons.Coupon{ID: "100", Title: "Whopper", Type: coupons.TypeApp, TimestampExpire: now.Add(-time.Hour).Unix()}
	if err := db.UpsertAs(ctx, store, db.CouponsCollection, map[string]*coupons.Coupon{"100": expired}); err != nil {
		t.Fatal(err)
	}
	source := &fakeSource{app: appResponse("100")}
	if _, err := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}}).Crawl(ctx); err != nil {
		t.Fatal(err)
	}
	if catalog(t, store)["100"].IsNew {
		t.Error("revived coupon must not be new outside of full catalog mode")
	}
	if err := db.UpsertAs(ctx, store, db.CouponsCollection, map[string]*coupons.Coupon{"100": expired}); err != nil {
		t.Fatal(err)
	}
	if _, err := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}, FullCatalogMode: true}).Crawl(ctx); err != nil {
		t.Fatal(err)
	}
	if !catalog(t, store)["100"].IsNew {
		t.Error("revived coupon must be new in full catalog mode")
	}
}

func TestEmptyAppResponseKeepsState(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	source := &fakeSource{app: appResponse("100")}
	c := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}})
	if _, err := c.Crawl(ctx); err != nil {
		t.Fatal(err)
	}
	source.app = &upstream.AppResponse{}
	if _, err := c.Crawl(ctx); !errors.Is(err, upstream.ErrEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}
	source.appErr = errors.New("timeout")
	if _, err := c.Crawl(ctx); err == nil {
		t.Error("expected an error")
	}
	if len(catalog(t, store)) != 1 {
		t.Error("catalog must be preserved")
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	valid := now.Add(48 * time.Hour).Unix()
	prior := map[string]*coupons.Coupon{
		"100": {ID: "100", Title: "Gone app", Type: coupons.TypeApp, TimestampExpire: valid},
		"300": {ID: "300", Title: "Hidden paper", PLU: "B1", Type: coupons.TypePaper, TimestampExpire: valid},
		"301": {ID: "301", Title: "Unsafe", PLU: "C1", Type: coupons.TypePaperUnsafe, TimestampExpire: valid},
		"302": {ID: "302", Title: "Expired paper", PLU: "B2", Type: coupons.TypePaper, TimestampExpire: now.Add(-time.Hour).Unix()},
	}
	if err := db.UpsertAs(ctx, store, db.CouponsCollection, prior); err != nil {
		t.Fatal(err)
	}
	source := &fakeSource{
		app:   appResponse("101"),
		menus: map[string]*upstream.MenuResponse{"1": paperMenu("D", 400, 2)},
	}
	report, err := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}}).Crawl(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cs := catalog(t, store)
	var ids []string
	for _, id := range sortedKeys(cs) {
		ids = append(ids, id)
	}
	if !reflect.DeepEqual(ids, []string{"101", "300", "400", "401"}) {
		t.Errorf("unexpected catalog %v", ids)
	}
	if report.Purged != 3 || report.Kept != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if cs["400"].Type != coupons.TypePaperUnsafe {
		t.Errorf("small bucket must stay unsafe, got %s", cs["400"].Type)
	}
}

func TestNoStoresKeepStoreCoupons(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	prior := map[string]*coupons.Coupon{
		"301": {ID: "301", Title: "Unsafe", PLU: "C1", Type: coupons.TypePaperUnsafe, TimestampExpire: now.Add(time.Hour).Unix()},
	}
	if err := db.UpsertAs(ctx, store, db.CouponsCollection, prior); err != nil {
		t.Fatal(err)
	}
	source := &fakeSource{app: appResponse("101")}
	report, err := newTestCrawler(store, source, Config{StoreIDs: []string{"1", "2"}}).Crawl(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := catalog(t, store)["301"]; !ok || report.StoresCrawled != 0 {
		t.Errorf("store coupons must be kept when no store yields, report %+v", report)
	}
	if !reflect.DeepEqual(source.requested, []string{"1", "2"}) {
		t.Errorf("unexpected requested stores %v", source.requested)
	}
}

func TestMaxStores(t *testing.T) {
	source := &fakeSource{
		app: appResponse("100"),
		menus: map[string]*upstream.MenuResponse{
			"1": paperMenu("D", 400, 1),
			"2": {},
			"3": paperMenu("D", 500, 1),
			"4": paperMenu("D", 600, 1),
		},
	}
	report, err := newTestCrawler(db.NewMemoryStore(), source, Config{StoreIDs: []string{"1", "2", "3", "4"}, MaxStores: 2}).Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.StoresCrawled != 2 || !reflect.DeepEqual(source.requested, []string{"1", "2", "3"}) {
		t.Errorf("unexpected stores %d, %v", report.StoresCrawled, source.requested)
	}
}

func TestStoreDiscoveryFallback(t *testing.T) {
	source := &fakeSource{
		app:    appResponse("100"),
		stores: []upstream.Store{{ID: "9", Properties: []string{"closed"}}},
	}
	cfg := Config{StoreProperties: []string{"coupons"}, MaxStores: 1}
	if _, err := newTestCrawler(db.NewMemoryStore(), source, cfg).Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(source.requested, FallbackStoreIDs) {
		t.Errorf("expected fallback stores, got %v", source.requested)
	}

	source.requested = nil
	source.stores = []upstream.Store{{ID: "9", Properties: []string{"coupons", "delivery"}}}
	if _, err := newTestCrawler(db.NewMemoryStore(), source, cfg).Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(source.requested, []string{"9"}) {
		t.Errorf("expected discovered store, got %v", source.requested)
	}
}

func TestMergeStoreData(t *testing.T) {
	menu := &upstream.MenuResponse{
		Products: map[string]upstream.Product{
			"m": {ID: "m", Name: "Whopper Menu", Price: 799, ComboGroups: []upstream.ComboGroup{
				{Type: "entrees", Products: []string{"w"}},
				{Type: "entrees", Products: []string{"f"}},
			}},
			"w": {ID: "w", Name: "Whopper", Price: 599},
			"f": {ID: "f", Name: "Pommes", Price: 299},
		},
		Coupons: []upstream.MenuCoupon{{ID: "100", PLU: "S1", ProductID: "m", ExpirationDate: "2030-04-01"}},
	}
	source := &fakeSource{app: appResponse("100"), menus: map[string]*upstream.MenuResponse{"1": menu}}
	store := db.NewMemoryStore()
	if _, err := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}}).Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}
	c := catalog(t, store)["100"]
	if c.Type != coupons.TypeApp || c.PriceCompare != 898 {
		t.Errorf("unexpected merged coupon %+v", c)
	}
	if c.EffectiveExpiry() != time.Date(2030, 4, 1, 23, 59, 59, 0, berlin).Unix() {
		t.Errorf("store expiry must win when later, got %d", c.EffectiveExpiry())
	}
}

func TestSpecials(t *testing.T) {
	store := db.NewMemoryStore()
	cfg := Config{
		StoreIDs: []string{"1"},
		Specials: []SpecialCoupon{
			{
				ID:                            "900",
				Title:                         "Geburtstags-Whopper",
				Price:                         199,
				ExpireDate:                    time.Date(2030, 2, 1, 0, 0, 0, 0, berlin),
				EnforceIsNewOverrideUntilDate: time.Date(2030, 1, 12, 0, 0, 0, 0, berlin),
			},
			{ID: "901", Title: "Old", ExpireDate: time.Date(2029, 2, 1, 0, 0, 0, 0, berlin)},
		},
	}
	report, err := newTestCrawler(store, &fakeSource{app: appResponse("100")}, cfg).Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cs := catalog(t, store)
	if report.Special != 1 || cs["901"] != nil {
		t.Errorf("expired special must be skipped, report %+v", report)
	}
	if c := cs["900"]; c == nil || c.Type != coupons.TypeSpecial || !c.IsNew {
		t.Errorf("unexpected special coupon %+v", c)
	}
}

func TestHistoryAndOffers(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	source := &fakeSource{app: appResponse("100")}
	source.app.Promos = []upstream.Offer{{ID: "o1", Title: "Promo"}, {ID: "o2", Title: "Promo 2"}}
	c := newTestCrawler(store, source, Config{StoreIDs: []string{"1"}, StoreHistory: true})
	report, err := c.Crawl(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h, err := db.GetAs[HistorySnapshot](ctx, store, db.CouponsHistoryCollection, report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Value.Coupons) != 1 || h.Value.Coupons[0].ID != "100" {
		t.Errorf("unexpected history %+v", h.Value)
	}

	source.app.Promos = source.app.Promos[1:]
	if _, err := c.Crawl(ctx); err != nil {
		t.Fatal(err)
	}
	offers, err := db.ValuesAs[upstream.Offer](ctx, store, db.OffersCollection)
	if err != nil {
		t.Fatal(err)
	}
	if len(offers) != 1 || offers["o2"] == nil {
		t.Errorf("unexpected offers %v", offers)
	}
}
