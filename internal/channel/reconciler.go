// Package channel mirrors the coupon catalog into a broadcast channel
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

// Mode represents a reconciliation mode
type Mode int

// Reconciliation modes
const (
	// ModeUpdate posts new and changed coupons and edits recent posts in place
	ModeUpdate Mode = iota
	// ModeResendAll reposts the whole catalog
	ModeResendAll
	// ModeResume posts coupons whose mirrors are missing or stale
	ModeResume
)

func (m Mode) String() string {
	switch m {
	case ModeUpdate:
		return "update"
	case ModeResendAll:
		return "resend all"
	case ModeResume:
		return "resume"
	}
	return "unknown"
}

const (
	staleAfter  = 6 * time.Hour
	editableFor = 48 * time.Hour
)

// Poster represents outbound channel operations
type Poster interface {
	SendText(ctx context.Context, msg sender.Message) (int, error)
	SendMediaGroup(ctx context.Context, chatID string, photos []sender.Photo) ([]int, error)
	EditText(ctx context.Context, messageID int, msg sender.Message) error
	Delete(ctx context.Context, chatID string, messageID int) error
}

// PhotoSource returns the main image and the QR bitmap of a coupon
type PhotoSource interface {
	Photos(c *coupons.Coupon) (string, string)
}

// Report represents the outcome of a reconciliation
type Report struct {
	New     int
	Updated int
	Deleted int
	Posted  int
}

// Reconciler drives the channel to match the catalog
type Reconciler struct {
	store   db.Store
	poster  Poster
	photos  PhotoSource
	texts   *cmdlib.Texts
	channel string
	loc     *time.Location
	now     func() time.Time
}

// NewReconciler creates a reconciler for a public channel name without @
func NewReconciler(
	store db.Store,
	poster Poster,
	photos PhotoSource,
	texts *cmdlib.Texts,
	channel string,
	loc *time.Location,
) *Reconciler {
	return &Reconciler{
		store:   store,
		poster:  poster,
		photos:  photos,
		texts:   texts,
		channel: channel,
		loc:     loc,
		now:     time.Now,
	}
}

// MessageLink returns a public link to a channel message
func MessageLink(channel string, messageID int) string {
	return fmt.Sprintf("https://t.me/%s/%d", channel, messageID)
}

// Links returns public links to the text messages of mirrored coupons by coupon id
func Links(ctx context.Context, store db.Store, channel string) (map[string]string, error) {
	mirrors, err := db.ValuesAs[db.ChannelCoupon](ctx, store, db.ChannelCollection)
	if err != nil {
		return nil, err
	}
	result := map[string]string{}
	for id, m := range mirrors {
		if textID := m.TextMessageID(); textID != 0 && m.TimestampMessagesPosted != 0 {
			result[id] = MessageLink(channel, textID)
		}
	}
	return result, nil
}

func (r *Reconciler) chatID() string { return "@" + r.channel }

// Catalog returns valid coupons shown in the channel in display order
func Catalog(ctx context.Context, store db.Store, now time.Time) ([]*coupons.Coupon, error) {
	all, err := db.ValuesAs[coupons.Coupon](ctx, store, db.CouponsCollection)
	if err != nil {
		return nil, err
	}
	var result []*coupons.Coupon
	for _, c := range all {
		if c.IsValid(now) && c.Type.Display().IsDisplayed() {
			result = append(result, c)
		}
	}
	return coupons.Sort(result, coupons.SortTypeMenuPrice), nil
}

// Reconcile brings the channel into agreement with the catalog.
// Progress is persisted after every coupon so an interrupted run can be resumed.
func (r *Reconciler) Reconcile(ctx context.Context, mode Mode) (*Report, error) {
	now := r.now()
	info, err := db.LoadInfo(ctx, r.store)
	if err != nil {
		return nil, err
	}
	info.Value.TimestampLastChannelUpdate = now.Unix()
	if err := info.Save(ctx); err != nil {
		return nil, err
	}

	catalog, err := Catalog(ctx, r.store, now)
	if err != nil {
		return nil, err
	}
	mirrors, err := db.AllAs[db.ChannelCoupon](ctx, r.store, db.ChannelCollection)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*coupons.Coupon, len(catalog))
	for _, c := range catalog {
		byID[c.ID] = c
	}
	newIDs, deleted := cmdlib.HashDiffNewRemoved(mirrors, byID)
	isNew := map[string]bool{}
	for _, id := range newIDs {
		isNew[id] = true
	}
	isUpdated := map[string]bool{}
	for _, id := range cmdlib.HashIntersection(mirrors, byID) {
		if mirrors[id].Value.UniqueIdentifier != byID[id].Fingerprint() {
			isUpdated[id] = true
		}
	}
	report := &Report{New: len(isNew), Updated: len(isUpdated), Deleted: len(deleted)}
	cmdlib.Linf("reconciling channel in %s mode, new: %d, updated: %d, deleted: %d", mode, report.New, report.Updated, report.Deleted)

	if len(deleted) > 0 {
		for _, id := range deleted {
			info.Value.MessageIDsToDelete = append(info.Value.MessageIDsToDelete, mirrors[id].Value.MessageIDs...)
		}
		if err := info.Save(ctx); err != nil {
			return report, err
		}
		if err := r.store.Purge(ctx, db.ChannelCollection, deleted); err != nil {
			return report, err
		}
	}

	for _, c := range catalog {
		m, exists := mirrors[c.ID]
		var work bool
		switch mode {
		case ModeResendAll:
			work = true
		case ModeResume:
			work = !exists || m.Value.TimestampMessagesPosted == 0 ||
				now.Sub(time.Unix(m.Value.TimestampMessagesPosted, 0)) > staleAfter
		default:
			work = isNew[c.ID] || isUpdated[c.ID]
		}
		if !work {
			continue
		}
		if !exists {
			m = db.Versioned[db.ChannelCoupon]{Value: &db.ChannelCoupon{CouponID: c.ID}}
		}
		if err := r.postCoupon(ctx, info, c, m, now); err != nil {
			return report, fmt.Errorf("cannot post coupon %s, %w", c.ID, err)
		}
		report.Posted++
	}

	links, err := Links(ctx, r.store, r.channel)
	if err != nil {
		return report, err
	}
	catalogChanged := report.New+report.Updated+report.Deleted > 0
	if err := r.updateOverviews(ctx, info, catalog, links, mode, catalogChanged, now); err != nil {
		return report, err
	}
	if err := r.updateInfoMessage(ctx, info, mode, report, len(catalog), now); err != nil {
		return report, err
	}
	cmdlib.Linf("channel reconciled, posted %d coupons", report.Posted)
	return report, nil
}

// postCoupon replaces the mirror of a coupon, the mirror is saved after every step
func (r *Reconciler) postCoupon(
	ctx context.Context,
	info *db.Info,
	c *coupons.Coupon,
	mirror db.Versioned[db.ChannelCoupon],
	now time.Time,
) error {
	if len(mirror.Value.MessageIDs) > 0 {
		info.Value.MessageIDsToDelete = append(info.Value.MessageIDsToDelete, mirror.Value.MessageIDs...)
		if err := info.Save(ctx); err != nil {
			return err
		}
		mirror.Value.MessageIDs = nil
		mirror.Value.UniqueIdentifier = ""
		mirror.Value.TimestampMessagesPosted = 0
		if err := r.saveMirror(ctx, &mirror); err != nil {
			return err
		}
	}

	mainImage, qrImage := r.photos.Photos(c)
	ids, err := r.poster.SendMediaGroup(ctx, r.chatID(), []sender.Photo{{Path: mainImage}, {Path: qrImage}})
	if err != nil {
		return err
	}
	mirror.Value.MessageIDs = ids
	if err := r.saveMirror(ctx, &mirror); err != nil {
		return err
	}

	textID, err := r.poster.SendText(ctx, r.message(r.texts.ChannelCoupon, c))
	if err != nil {
		return err
	}
	mirror.Value.MessageIDs = append(mirror.Value.MessageIDs, textID)
	mirror.Value.UniqueIdentifier = c.Fingerprint()
	mirror.Value.TimestampMessagesPosted = now.Unix()
	return r.saveMirror(ctx, &mirror)
}

func (r *Reconciler) saveMirror(ctx context.Context, mirror *db.Versioned[db.ChannelCoupon]) error {
	rev, err := db.PutAs(ctx, r.store, db.ChannelCollection, mirror.Value.CouponID, *mirror)
	if err != nil {
		return fmt.Errorf("cannot save mirror of %s, %w", mirror.Value.CouponID, err)
	}
	mirror.Rev = rev
	return nil
}

func (r *Reconciler) message(tr *cmdlib.Translation, data interface{}) sender.Message {
	return sender.Message{
		ChatID:         r.chatID(),
		Text:           r.texts.Render(tr, data),
		HTML:           tr.Parse == cmdlib.ParseHTML,
		DisablePreview: tr.DisablePreview,
		Silent:         true,
	}
}
