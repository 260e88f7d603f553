package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/bcmk/bkcoupons/res"
)

func TestMain(m *testing.M) {
	cmdlib.Verbosity = cmdlib.SilentVerbosity
	os.Exit(m.Run())
}

var (
	testNow    = time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)
	testExpiry = time.Date(2030, 6, 30, 23, 59, 59, 0, time.UTC).Unix()
)

type fakePoster struct {
	lastID      int
	texts       []string
	groups      int
	edits       []int
	deleted     []int
	groupsLimit int
	deleteErrs  map[int]error
	editErr     error
}

func (p *fakePoster) SendText(_ context.Context, msg sender.Message) (int, error) {
	p.lastID++
	p.texts = append(p.texts, msg.Text)
	return p.lastID, nil
}

func (p *fakePoster) SendMediaGroup(_ context.Context, _ string, photos []sender.Photo) ([]int, error) {
	if p.groupsLimit > 0 && p.groups >= p.groupsLimit {
		return nil, errors.New("connection reset")
	}
	p.groups++
	var ids []int
	for range photos {
		p.lastID++
		ids = append(ids, p.lastID)
	}
	return ids, nil
}

func (p *fakePoster) EditText(_ context.Context, messageID int, _ sender.Message) error {
	if p.editErr != nil {
		return p.editErr
	}
	p.edits = append(p.edits, messageID)
	return nil
}

func (p *fakePoster) Delete(_ context.Context, _ string, messageID int) error {
	if err := p.deleteErrs[messageID]; err != nil {
		return err
	}
	p.deleted = append(p.deleted, messageID)
	return nil
}

type fakePhotos struct{}

func (fakePhotos) Photos(c *coupons.Coupon) (string, string) {
	return c.ID + ".png", "qr/" + c.ID + ".png"
}

func newTestReconciler(t *testing.T, store db.Store, poster Poster) *Reconciler {
	t.Helper()
	texts, err := cmdlib.LoadTranslations(coupons.TemplateFuncs(time.UTC), res.DefaultTranslations)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReconciler(store, poster, fakePhotos{}, texts, "bkcoupons", time.UTC)
	r.now = func() time.Time { return testNow }
	return r
}

func testCoupons(n int, tp coupons.Type) map[string]*coupons.Coupon {
	result := map[string]*coupons.Coupon{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%d", 100+i)
		result[id] = &coupons.Coupon{
			ID:              id,
			Title:           "Coupon " + id,
			Price:           199 + i,
			Type:            tp,
			TimestampExpire: testExpiry,
		}
	}
	return result
}

func seed(t *testing.T, store db.Store, cs map[string]*coupons.Coupon) {
	t.Helper()
	if err := db.UpsertAs(context.Background(), store, db.CouponsCollection, cs); err != nil {
		t.Fatal(err)
	}
}

func seedMirrors(t *testing.T, store db.Store, cs map[string]*coupons.Coupon, postedAt time.Time) []int {
	t.Helper()
	mirrors := map[string]*db.ChannelCoupon{}
	var ids []int
	next := 1000
	for id, c := range cs {
		m := &db.ChannelCoupon{
			CouponID:                id,
			UniqueIdentifier:        c.Fingerprint(),
			MessageIDs:              []int{next, next + 1, next + 2},
			TimestampMessagesPosted: postedAt.Unix(),
		}
		ids = append(ids, m.MessageIDs...)
		next += 3
		mirrors[id] = m
	}
	if err := db.UpsertAs(context.Background(), store, db.ChannelCollection, mirrors); err != nil {
		t.Fatal(err)
	}
	return ids
}

func mirrors(t *testing.T, store db.Store) map[string]*db.ChannelCoupon {
	t.Helper()
	result, err := db.ValuesAs[db.ChannelCoupon](context.Background(), store, db.ChannelCollection)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestUpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seed(t, store, testCoupons(3, coupons.TypeApp))
	poster := &fakePoster{}
	r := newTestReconciler(t, store, poster)

	report, err := r.Reconcile(ctx, ModeUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*report, Report{New: 3, Posted: 3}) {
		t.Errorf("unexpected report %+v", *report)
	}
	if poster.groups != 3 {
		t.Errorf("expected 3 media groups, got %d", poster.groups)
	}
	// 3 coupon texts, one overview page and the information message
	if len(poster.texts) != 5 {
		t.Errorf("expected 5 texts, got %d", len(poster.texts))
	}
	for id, m := range mirrors(t, store) {
		if len(m.MessageIDs) != 3 || m.TimestampMessagesPosted != testNow.Unix() {
			t.Errorf("unexpected mirror of %s: %+v", id, m)
		}
	}
	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	queue := info.Value.MessageIDsToDelete

	report, err = r.Reconcile(ctx, ModeUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*report, Report{}) {
		t.Errorf("unexpected second report %+v", *report)
	}
	if poster.groups != 3 || len(poster.texts) != 5 {
		t.Errorf("second update must not post, groups %d, texts %d", poster.groups, len(poster.texts))
	}
	if len(poster.edits) != 1 {
		t.Errorf("expected the information message to be edited once, got %v", poster.edits)
	}
	info, err = db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(info.Value.MessageIDsToDelete, queue) {
		t.Errorf("deletion queue changed from %v to %v", queue, info.Value.MessageIDsToDelete)
	}
}

func TestResendAllThenResume(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	cs := testCoupons(10, coupons.TypeApp)
	seed(t, store, cs)
	oldIDs := seedMirrors(t, store, cs, testNow.Add(-7*time.Hour))

	poster := &fakePoster{groupsLimit: 4}
	r := newTestReconciler(t, store, poster)
	if _, err := r.Reconcile(ctx, ModeResendAll); err == nil {
		t.Fatal("expected an interrupted run")
	}
	fresh := 0
	for _, m := range mirrors(t, store) {
		if m.TimestampMessagesPosted == testNow.Unix() {
			fresh++
		}
	}
	if fresh != 4 {
		t.Errorf("expected 4 reposted mirrors, got %d", fresh)
	}

	poster.groupsLimit = 0
	poster.groups = 0
	textsBefore := len(poster.texts)
	report, err := r.Reconcile(ctx, ModeResume)
	if err != nil {
		t.Fatal(err)
	}
	if report.Posted != 6 || poster.groups != 6 {
		t.Errorf("expected 6 coupons to be posted, got %d, %d", report.Posted, poster.groups)
	}
	// 6 coupon texts, one overview page and the information message
	if x := len(poster.texts) - textsBefore; x != 8 {
		t.Errorf("expected 8 texts, got %d", x)
	}
	for id, m := range mirrors(t, store) {
		if m.TimestampMessagesPosted != testNow.Unix() || m.UniqueIdentifier != cs[id].Fingerprint() {
			t.Errorf("mirror of %s is not up to date: %+v", id, m)
		}
	}
	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	queued := map[int]bool{}
	for _, id := range info.Value.MessageIDsToDelete {
		queued[id] = true
	}
	for _, id := range oldIDs {
		if !queued[id] {
			t.Errorf("old message %d is not queued for deletion", id)
		}
	}
	if len(info.Value.CouponTypeOverviewMessageIDs[string(coupons.TypeApp)]) != 1 || info.Value.InformationMessageID == 0 {
		t.Errorf("overview and information message must be posted, got %+v", info.Value)
	}
}

func TestDeletedCouponsAreQueuedAndCleanedUp(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	cs := testCoupons(3, coupons.TypeApp)
	seed(t, store, cs)
	poster := &fakePoster{}
	r := newTestReconciler(t, store, poster)
	if _, err := r.Reconcile(ctx, ModeUpdate); err != nil {
		t.Fatal(err)
	}
	gone := mirrors(t, store)["101"].MessageIDs

	if err := store.Purge(ctx, db.CouponsCollection, []string{"101"}); err != nil {
		t.Fatal(err)
	}
	report, err := r.Reconcile(ctx, ModeUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 || report.Posted != 0 {
		t.Errorf("unexpected report %+v", *report)
	}
	if _, ok := mirrors(t, store)["101"]; ok {
		t.Error("mirror of a deleted coupon must be purged")
	}

	poster.deleteErrs = map[int]error{gone[0]: sender.ErrMessageTooOld}
	n, err := r.Cleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(poster.deleted) || n == 0 {
		t.Errorf("unexpected deletion count %d, %v", n, poster.deleted)
	}
	if !reflect.DeepEqual(poster.deleted[:2], gone[1:]) {
		t.Errorf("expected FIFO deletion of %v, got %v", gone, poster.deleted)
	}
	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Value.MessageIDsToDelete) != 0 {
		t.Errorf("queue must be drained, got %v", info.Value.MessageIDsToDelete)
	}
}

func TestCleanupStopsOnError(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	info.Value.MessageIDsToDelete = []int{1, 2, 3}
	if err := info.Save(ctx); err != nil {
		t.Fatal(err)
	}
	poster := &fakePoster{deleteErrs: map[int]error{2: errors.New("network")}}
	r := newTestReconciler(t, store, poster)
	if _, err := r.Cleanup(ctx); err == nil {
		t.Fatal("expected an error")
	}
	info, err = db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(info.Value.MessageIDsToDelete, []int{2, 3}) {
		t.Errorf("unexpected queue %v", info.Value.MessageIDsToDelete)
	}
}

func TestNuke(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	cs := testCoupons(25, coupons.TypeApp)
	ids := seedMirrors(t, store, cs, testNow)

	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	overviews := map[string][]int{"APP": {1, 2}, "PAPER": {3}, "SPECIAL": {4}, "PAYBACK": {5}}
	info.Value.CouponTypeOverviewMessageIDs = overviews
	info.Value.InformationMessageID = 6
	if err := info.Save(ctx); err != nil {
		t.Fatal(err)
	}

	poster := &fakePoster{}
	r := newTestReconciler(t, store, poster)
	n, err := r.Nuke(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(ids)+6 {
		t.Errorf("expected %d deletions, got %d", len(ids)+6, n)
	}
	if len(mirrors(t, store)) != 0 {
		t.Error("mirrors must be purged")
	}
	info, err = db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Value.CouponTypeOverviewMessageIDs) != 0 || info.Value.InformationMessageID != 0 || len(info.Value.MessageIDsToDelete) != 0 {
		t.Errorf("info is not reset: %+v", info.Value)
	}
}

func TestOverviewPagination(t *testing.T) {
	r := newTestReconciler(t, db.NewMemoryStore(), &fakePoster{})
	cs := coupons.Sort(mapValues(testCoupons(50, coupons.TypeApp)), coupons.SortPriceAsc)
	for _, c := range cs[45:] {
		c.ContainsFriesOrCoke = true
	}
	pages := r.overviewPages(coupons.TypeApp, cs, map[string]string{"100": MessageLink("bkcoupons", 7)})
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if x := strings.Count(pages[0], " | "); x != PageSize {
		t.Errorf("expected %d entries on the first page, got %d", PageSize, x)
	}
	if x := strings.Count(pages[1], " | "); x != 1 {
		t.Errorf("expected 1 entry on the second page, got %d", x)
	}
	if !strings.Contains(pages[0], "(1/2)") || !strings.Contains(pages[0], "Mit Menü") {
		t.Errorf("unexpected first page %q", pages[0])
	}
	if strings.Contains(pages[1], "Mit Menü") {
		t.Errorf("divider must appear only where the menu group starts")
	}
	if !strings.Contains(pages[0], `<a href="https://t.me/bkcoupons/7">100</a>`) {
		t.Errorf("missing link in %q", pages[0])
	}
}

func TestEmptiedTypeDropsOverview(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seed(t, store, testCoupons(2, coupons.TypePaper))
	poster := &fakePoster{}
	r := newTestReconciler(t, store, poster)
	if _, err := r.Reconcile(ctx, ModeUpdate); err != nil {
		t.Fatal(err)
	}
	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	overview := info.Value.CouponTypeOverviewMessageIDs["PAPER"]
	if len(overview) != 1 {
		t.Fatalf("expected a paper overview, got %v", info.Value.CouponTypeOverviewMessageIDs)
	}
	if err := store.Purge(ctx, db.CouponsCollection, []string{"100", "101"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reconcile(ctx, ModeUpdate); err != nil {
		t.Fatal(err)
	}
	info, err = db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := info.Value.CouponTypeOverviewMessageIDs["PAPER"]; ok {
		t.Error("overview of an empty type must be dropped")
	}
	found := false
	for _, id := range info.Value.MessageIDsToDelete {
		if id == overview[0] {
			found = true
		}
	}
	if !found {
		t.Error("overview message must be queued for deletion")
	}
}

func mapValues(m map[string]*coupons.Coupon) []*coupons.Coupon {
	var result []*coupons.Coupon
	for _, c := range m {
		result = append(result, c)
	}
	return result
}

func TestFailedOverviewEditKeepsHash(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seed(t, store, testCoupons(3, coupons.TypeApp))
	poster := &fakePoster{}
	r := newTestReconciler(t, store, poster)
	if _, err := r.Reconcile(ctx, ModeUpdate); err != nil {
		t.Fatal(err)
	}
	info, err := db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	hash := info.Value.CouponTypeOverviewHashes["APP"]
	overview := info.Value.CouponTypeOverviewMessageIDs["APP"]
	info.Value.CouponTypeOverviewHashes["APP"] = "outdated"
	if err := info.Save(ctx); err != nil {
		t.Fatal(err)
	}

	poster.editErr = sender.ErrMessageNotFound
	if _, err := r.Reconcile(ctx, ModeUpdate); err != nil {
		t.Fatal(err)
	}
	info, err = db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if x := info.Value.CouponTypeOverviewHashes["APP"]; x != "outdated" {
		t.Errorf("hash must not advance after a failed edit, got %q", x)
	}

	poster.editErr = nil
	if _, err := r.Reconcile(ctx, ModeUpdate); err != nil {
		t.Fatal(err)
	}
	info, err = db.LoadInfo(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if x := info.Value.CouponTypeOverviewHashes["APP"]; x != hash {
		t.Errorf("unexpected hash %q, expected %q", x, hash)
	}
	edited := map[int]bool{}
	for _, id := range poster.edits {
		edited[id] = true
	}
	for _, id := range overview {
		if !edited[id] {
			t.Errorf("overview message %d was not edited, edits %v", id, poster.edits)
		}
	}
}
