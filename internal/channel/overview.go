package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

// PageSize leaves one entity of a message for the header
const PageSize = 49

type overviewHeader struct {
	Type  coupons.Type
	Count int
	Page  int
	Pages int
}

// Entry represents a coupon listed with a link to its channel post
type Entry struct {
	*coupons.Coupon
	URL string
}

type infoMessage struct {
	Date    string
	New     int
	Updated int
	Deleted int
	Total   int
}

// overviewPages renders a paginated list of coupons of one type
func (r *Reconciler) overviewPages(t coupons.Type, items []*coupons.Coupon, links map[string]string) []string {
	pages := (len(items) + PageSize - 1) / PageSize
	var result []string
	for p := 0; p < pages; p++ {
		lines := []string{r.texts.Render(r.texts.OverviewHeader, overviewHeader{
			Type:  t,
			Count: len(items),
			Page:  p + 1,
			Pages: pages,
		})}
		end := min((p+1)*PageSize, len(items))
		for i := p * PageSize; i < end; i++ {
			if items[i].IsMenu() && (i == 0 || !items[i-1].IsMenu()) {
				lines = append(lines, r.texts.Render(r.texts.OverviewWithMenu, nil))
			}
			lines = append(lines, r.texts.Render(r.texts.OverviewEntry, Entry{Coupon: items[i], URL: links[items[i].ID]}))
		}
		result = append(result, strings.Join(lines, "\n"))
	}
	return result
}

func (r *Reconciler) pageMessage(text string) sender.Message {
	return sender.Message{
		ChatID:         r.chatID(),
		Text:           text,
		HTML:           r.texts.OverviewEntry.Parse == cmdlib.ParseHTML,
		DisablePreview: true,
		Silent:         true,
	}
}

func hashPages(pages []string) string {
	h := sha256.New()
	for _, p := range pages {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Reconciler) queueOverview(info *db.Info, key string) {
	info.Value.MessageIDsToDelete = append(info.Value.MessageIDsToDelete, info.Value.CouponTypeOverviewMessageIDs[key]...)
	delete(info.Value.CouponTypeOverviewMessageIDs, key)
	delete(info.Value.CouponTypeOverviewPostedAt, key)
	delete(info.Value.CouponTypeOverviewHashes, key)
}

// updateOverviews posts or edits the per-type overview pages.
// Pages are edited in place only in update mode without catalog changes
// and only while all of them are recent enough to be edited.
func (r *Reconciler) updateOverviews(
	ctx context.Context,
	info *db.Info,
	catalog []*coupons.Coupon,
	links map[string]string,
	mode Mode,
	catalogChanged bool,
	now time.Time,
) error {
	byType := map[coupons.Type][]*coupons.Coupon{}
	for _, c := range catalog {
		byType[c.Type.Display()] = append(byType[c.Type.Display()], c)
	}
	for _, t := range coupons.DisplayTypes {
		key := string(t)
		items := byType[t]
		oldIDs := info.Value.CouponTypeOverviewMessageIDs[key]
		if len(items) == 0 {
			if len(oldIDs) > 0 {
				r.queueOverview(info, key)
				if err := info.Save(ctx); err != nil {
					return err
				}
			}
			continue
		}
		pages := r.overviewPages(t, items, links)
		hash := hashPages(pages)
		if hash == info.Value.CouponTypeOverviewHashes[key] && len(oldIDs) == len(pages) {
			continue
		}
		if mode == ModeUpdate && !catalogChanged && len(oldIDs) == len(pages) {
			postedAt := time.Unix(info.Value.CouponTypeOverviewPostedAt[key], 0)
			if now.Sub(postedAt) > editableFor {
				cmdlib.Ldbg("overview of %s is too old to be edited", key)
				continue
			}
			edited := true
			for i, id := range oldIDs {
				if err := r.poster.EditText(ctx, id, r.pageMessage(pages[i])); err != nil {
					if errors.Is(err, sender.ErrMessageTooOld) || errors.Is(err, sender.ErrMessageNotFound) {
						cmdlib.Linf("cannot edit overview of %s, %v", key, err)
						edited = false
						break
					}
					return err
				}
			}
			if !edited {
				continue
			}
			info.Value.CouponTypeOverviewHashes[key] = hash
			if err := info.Save(ctx); err != nil {
				return err
			}
			continue
		}

		r.queueOverview(info, key)
		if err := info.Save(ctx); err != nil {
			return err
		}
		var ids []int
		for _, page := range pages {
			id, err := r.poster.SendText(ctx, r.pageMessage(page))
			if err != nil {
				info.Value.CouponTypeOverviewMessageIDs[key] = ids
				_ = info.Save(ctx)
				return err
			}
			ids = append(ids, id)
		}
		info.Value.CouponTypeOverviewMessageIDs[key] = ids
		info.Value.CouponTypeOverviewPostedAt[key] = now.Unix()
		info.Value.CouponTypeOverviewHashes[key] = hash
		if err := info.Save(ctx); err != nil {
			return err
		}
	}
	return nil
}

// updateInfoMessage posts the summary of today's update,
// it is edited in place in update mode when there are no new coupons
func (r *Reconciler) updateInfoMessage(
	ctx context.Context,
	info *db.Info,
	mode Mode,
	report *Report,
	total int,
	now time.Time,
) error {
	msg := r.message(r.texts.ChannelInfo, infoMessage{
		Date:    coupons.FormatDate(now.Unix(), r.loc),
		New:     report.New,
		Updated: report.Updated,
		Deleted: report.Deleted,
		Total:   total,
	})
	if mode == ModeUpdate && report.New == 0 && info.Value.InformationMessageID != 0 {
		if now.Sub(time.Unix(info.Value.InformationMessagePostedAt, 0)) > editableFor {
			cmdlib.Ldbg("information message is too old to be edited")
			return nil
		}
		err := r.poster.EditText(ctx, info.Value.InformationMessageID, msg)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sender.ErrMessageTooOld):
			cmdlib.Linf("cannot edit information message, %v", err)
			return nil
		case !errors.Is(err, sender.ErrMessageNotFound):
			return err
		}
	}
	if info.Value.InformationMessageID != 0 {
		info.Value.MessageIDsToDelete = append(info.Value.MessageIDsToDelete, info.Value.InformationMessageID)
		info.Value.InformationMessageID = 0
		info.Value.InformationMessagePostedAt = 0
		if err := info.Save(ctx); err != nil {
			return err
		}
	}
	id, err := r.poster.SendText(ctx, msg)
	if err != nil {
		return err
	}
	info.Value.InformationMessageID = id
	info.Value.InformationMessagePostedAt = now.Unix()
	return info.Save(ctx)
}
