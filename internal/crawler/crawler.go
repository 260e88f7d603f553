// Package crawler turns upstream responses into the stored coupon catalog
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bcmk/bkcoupons/internal/classifier"
	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/upstream"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/google/uuid"
)

// FallbackStoreIDs is used when store discovery yields nothing plausible
var FallbackStoreIDs = []string{"666", "682", "1005", "1099"}

const maxPlausibleStores = 5000

// Source represents the upstream endpoints
type Source interface {
	AppCoupons(ctx context.Context) (*upstream.AppResponse, error)
	Stores(ctx context.Context) ([]upstream.Store, error)
	StoreMenu(ctx context.Context, storeID string) (*upstream.MenuResponse, error)
}

// ImageEnsurer downloads coupon artwork and sets local image paths
type ImageEnsurer interface {
	Ensure(ctx context.Context, c *coupons.Coupon)
}

// SpecialCoupon represents a manually configured coupon
type SpecialCoupon struct {
	ID                            string
	PLU                           string
	Title                         string
	ImageURL                      string
	Price                         int
	ExpireDate                    time.Time
	EnforceIsNewOverrideUntilDate time.Time
}

// Config represents crawler settings
type Config struct {
	StoreIDs        []string
	StoreProperties []string
	MaxStores       int
	Paper           classifier.PaperConfig
	Specials        []SpecialCoupon
	StoreHistory    bool
	// FullCatalogMode also marks coupons as new when they become valid again
	FullCatalogMode bool
	Location        *time.Location
}

// Report represents the outcome of a crawl
type Report struct {
	RunID         string
	App           int
	Store         int
	StoresCrawled int
	Paper         []classifier.PaperDetection
	Special       int
	New           int
	Kept          int
	Purged        int
	Total         int
}

// Crawler fetches, classifies and persists coupons
type Crawler struct {
	store  db.Store
	source Source
	images ImageEnsurer
	cfg    Config
	now    func() time.Time
}

// New creates a crawler, images can be nil
func New(store db.Store, source Source, images ImageEnsurer, cfg Config) *Crawler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxStores <= 0 {
		cfg.MaxStores = 2
	}
	return &Crawler{store: store, source: source, images: images, cfg: cfg, now: time.Now}
}

// HistoryEntry represents a coupon in a history snapshot
type HistoryEntry struct {
	ID              string       `json:"id"`
	PLU             string       `json:"plu,omitempty"`
	Type            coupons.Type `json:"type"`
	Price           int          `json:"price,omitempty"`
	TimestampExpire int64        `json:"timestamp_expire"`
}

// HistorySnapshot represents the catalog after a crawl
type HistorySnapshot struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Coupons   []HistoryEntry `json:"coupons"`
}

// Crawl runs one crawl.
// If the app endpoint fails nothing is changed.
func (c *Crawler) Crawl(ctx context.Context) (*Report, error) {
	now := c.now()
	loc := c.cfg.Location
	report := &Report{RunID: uuid.New().String()}
	cmdlib.Linf("crawl %s started", report.RunID)

	prior, err := db.ValuesAs[coupons.Coupon](ctx, c.store, db.CouponsCollection)
	if err != nil {
		return nil, err
	}

	app, err := c.source.AppCoupons(ctx)
	if err != nil {
		return nil, fmt.Errorf("app pass failed, %w", err)
	}
	if len(app.Coupons) == 0 {
		return nil, fmt.Errorf("app pass failed, %w", upstream.ErrEmptyResponse)
	}
	current := map[string]*coupons.Coupon{}
	for _, rec := range app.Coupons {
		cp, err := classifier.FromApp(rec, now, loc)
		if err != nil {
			cmdlib.Lerr("skipping app coupon %q, %v", rec.ID, err)
			continue
		}
		if _, ok := current[cp.ID]; ok {
			cmdlib.Lerr("duplicate app coupon id %s", cp.ID)
			continue
		}
		current[cp.ID] = cp
	}
	report.App = len(current)

	if err := c.saveOffers(ctx, app.Promos); err != nil {
		return nil, err
	}

	storeCoupons, yielded := c.crawlStores(ctx, now)
	report.StoresCrawled = yielded
	report.Store = len(storeCoupons)

	appLetters := map[string]bool{}
	for _, cp := range current {
		if cp.Type == coupons.TypeApp && cp.IsValid(now) {
			if letter, _ := classifier.PLULetter(cp.PLU); letter != "" {
				appLetters[letter] = true
			}
		}
	}

	var candidates []*coupons.Coupon
	for _, id := range sortedKeys(storeCoupons) {
		sc := storeCoupons[id]
		if ac, ok := current[id]; ok {
			mergeStoreData(ac, sc)
			continue
		}
		sc.Type = classifier.ProvisionalType(sc.PLU, appLetters)
		current[id] = sc
		candidates = append(candidates, sc)
	}
	report.Paper = classifier.DetectPaperCoupons(candidates, appLetters, c.cfg.Paper, now, loc)

	var purged []string
	for _, id := range sortedKeys(prior) {
		if _, ok := current[id]; ok {
			continue
		}
		old := prior[id]
		if keep(old, yielded, now) {
			current[id] = old
			report.Kept++
			continue
		}
		purged = append(purged, id)
	}

	report.Special = c.addSpecials(current, now)

	for id, cp := range current {
		if old, ok := prior[id]; ok && old.ImageURL == cp.ImageURL {
			if cp.ImagePath == "" {
				cp.ImagePath = old.ImagePath
			}
			if cp.QRImagePath == "" {
				cp.QRImagePath = old.QRImagePath
			}
		}
	}
	report.New = markNew(current, prior, c.cfg.FullCatalogMode, now)

	if c.images != nil {
		for _, id := range sortedKeys(current) {
			if cp := current[id]; cp.IsValid(now) {
				c.images.Ensure(ctx, cp)
			}
		}
	}

	if err := db.UpsertAs(ctx, c.store, db.CouponsCollection, current); err != nil {
		return nil, err
	}
	if len(purged) > 0 {
		if err := c.store.Purge(ctx, db.CouponsCollection, purged); err != nil {
			return nil, err
		}
	}
	report.Purged = len(purged)
	report.Total = len(current)

	if c.cfg.StoreHistory {
		if err := c.saveHistory(ctx, report.RunID, current, now); err != nil {
			cmdlib.Lerr("cannot save history, %v", err)
		}
	}
	if err := c.updateInfo(ctx, current, now); err != nil {
		return nil, err
	}
	cmdlib.Linf(
		"crawl %s done, app: %d, store: %d from %d stores, paper letters: %d, new: %d, kept: %d, purged: %d",
		report.RunID, report.App, report.Store, report.StoresCrawled, len(report.Paper), report.New, report.Kept, len(purged))
	return report, nil
}

// crawlStores returns store coupons of at most MaxStores stores that yielded any
func (c *Crawler) crawlStores(ctx context.Context, now time.Time) (map[string]*coupons.Coupon, int) {
	result := map[string]*coupons.Coupon{}
	yielded := 0
	for _, storeID := range c.storeIDs(ctx) {
		if yielded >= c.cfg.MaxStores {
			break
		}
		if ctx.Err() != nil {
			break
		}
		menu, err := c.source.StoreMenu(ctx, storeID)
		if err != nil {
			cmdlib.Lerr("cannot get menu of store %s, %v", storeID, err)
			continue
		}
		if len(menu.Coupons) == 0 {
			cmdlib.Ldbg("store %s has no coupons", storeID)
			continue
		}
		yielded++
		for _, rec := range menu.Coupons {
			cp, err := classifier.FromMenu(rec, menu.Products, now, c.cfg.Location)
			if err != nil {
				cmdlib.Lerr("skipping store coupon %q of store %s, %v", rec.ID, storeID, err)
				continue
			}
			if _, ok := result[cp.ID]; ok {
				continue
			}
			result[cp.ID] = cp
		}
	}
	if yielded == 0 {
		cmdlib.Lerr("no store yielded coupons, keeping store coupons as they are")
	}
	return result, yielded
}

func (c *Crawler) storeIDs(ctx context.Context) []string {
	if len(c.cfg.StoreIDs) > 0 {
		return c.cfg.StoreIDs
	}
	stores, err := c.source.Stores(ctx)
	if err != nil {
		cmdlib.Lerr("cannot discover stores, %v", err)
		return FallbackStoreIDs
	}
	var ids []string
	for _, s := range stores {
		if hasProperties(s, c.cfg.StoreProperties) {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 || len(ids) > maxPlausibleStores {
		cmdlib.Linf("store discovery yielded %d stores, using the fallback list", len(ids))
		return FallbackStoreIDs
	}
	return ids
}

func hasProperties(s upstream.Store, required []string) bool {
	props := map[string]bool{}
	for _, p := range s.Properties {
		props[p] = true
	}
	for _, r := range required {
		if !props[r] {
			return false
		}
	}
	return true
}

// mergeStoreData augments an app coupon with data only stores know
func mergeStoreData(ac, sc *coupons.Coupon) {
	if sc.PriceCompare > 0 && (ac.Price == 0 || sc.PriceCompare > ac.Price) {
		ac.PriceCompare = sc.PriceCompare
	}
	if !sc.IsUnsafeExpiredate {
		ac.TimestampExpire2 = sc.TimestampExpire
		if ac.IsUnsafeExpiredate {
			ac.TimestampExpire = sc.TimestampExpire
			ac.IsUnsafeExpiredate = false
		}
	}
}

// keep reports whether a coupon missing from the current responses stays in the catalog
func keep(old *coupons.Coupon, storesYielded int, now time.Time) bool {
	switch old.Type {
	case coupons.TypeApp, coupons.TypePayback, coupons.TypeSpecial:
		return false
	}
	if storesYielded == 0 {
		return true
	}
	return old.Type == coupons.TypePaper && old.IsValid(now)
}

func (c *Crawler) addSpecials(current map[string]*coupons.Coupon, now time.Time) int {
	added := 0
	for _, s := range c.cfg.Specials {
		expiry := classifier.EndOfDay(s.ExpireDate, c.cfg.Location)
		if !expiry.After(now) {
			cmdlib.Ldbg("special coupon %s expired", s.ID)
			continue
		}
		cp := &coupons.Coupon{
			ID:                  s.ID,
			PLU:                 s.PLU,
			Title:               s.Title,
			TitleShortened:      classifier.ShortenTitle(s.Title),
			Price:               s.Price,
			Type:                coupons.TypeSpecial,
			TimestampExpire:     expiry.Unix(),
			ImageURL:            s.ImageURL,
			ContainsFriesOrCoke: classifier.ContainsFriesOrCoke(s.Title),
		}
		if !s.EnforceIsNewOverrideUntilDate.IsZero() {
			cp.IsNewOverrideUntil = classifier.EndOfDay(s.EnforceIsNewOverrideUntilDate, c.cfg.Location).Unix()
		}
		if _, ok := current[s.ID]; ok {
			cmdlib.Linf("special coupon %s replaces an upstream coupon", s.ID)
		}
		current[s.ID] = cp
		added++
	}
	return added
}

// markNew sets IS_NEW flags, nothing is new after an empty snapshot
func markNew(current, prior map[string]*coupons.Coupon, fullCatalogMode bool, now time.Time) int {
	bootstrap := len(prior) == 0
	count := 0
	for id, cp := range current {
		cp.IsNew = false
		if !bootstrap {
			old, seen := prior[id]
			switch {
			case !seen:
				cp.IsNew = true
			case fullCatalogMode && !old.IsValid(now) && cp.IsValid(now):
				cp.IsNew = true
			}
		}
		if cp.IsNewOverrideUntil > now.Unix() {
			cp.IsNew = true
		}
		if cp.IsNew {
			count++
		}
	}
	return count
}

func (c *Crawler) saveOffers(ctx context.Context, promos []upstream.Offer) error {
	offers := map[string]*upstream.Offer{}
	for i := range promos {
		if promos[i].ID == "" {
			continue
		}
		offers[promos[i].ID] = &promos[i]
	}
	old, err := db.ValuesAs[upstream.Offer](ctx, c.store, db.OffersCollection)
	if err != nil {
		return err
	}
	if err := db.UpsertAs(ctx, c.store, db.OffersCollection, offers); err != nil {
		return err
	}
	var stale []string
	for id := range old {
		if _, ok := offers[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	sort.Strings(stale)
	return c.store.Purge(ctx, db.OffersCollection, stale)
}

func (c *Crawler) saveHistory(ctx context.Context, runID string, current map[string]*coupons.Coupon, now time.Time) error {
	snapshot := &HistorySnapshot{ID: runID, Timestamp: now.Unix()}
	for _, id := range sortedKeys(current) {
		cp := current[id]
		snapshot.Coupons = append(snapshot.Coupons, HistoryEntry{
			ID:              cp.ID,
			PLU:             cp.PLU,
			Type:            cp.Type,
			Price:           cp.Price,
			TimestampExpire: cp.EffectiveExpiry(),
		})
	}
	_, err := db.PutAs(ctx, c.store, db.CouponsHistoryCollection, runID, db.Versioned[HistorySnapshot]{Value: snapshot})
	return err
}

// updateInfo recomputes the derived caches, a conflicting save is retried with a fresh record
func (c *Crawler) updateInfo(ctx context.Context, current map[string]*coupons.Coupon, now time.Time) error {
	available := map[coupons.Type]bool{}
	hidden := false
	for _, cp := range current {
		if !cp.IsValid(now) {
			continue
		}
		available[cp.Type.Display()] = true
		if cp.Type == coupons.TypeApp && cp.IsHidden {
			hidden = true
		}
	}
	var types []string
	for _, t := range coupons.DisplayTypes {
		if available[t] {
			types = append(types, string(t))
		}
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var info *db.Info
		if info, err = db.LoadInfo(ctx, c.store); err != nil {
			return err
		}
		info.Value.AvailableCouponTypes = types
		info.Value.HasHiddenAppCoupons = hidden
		info.Value.TimestampLastCrawl = now.Unix()
		if err = info.Save(ctx); !errors.Is(err, db.ErrConflict) {
			return err
		}
	}
	return err
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
