// Package notifier delivers new-coupon and favorite-back messages to subscribers
package notifier

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bcmk/bkcoupons/internal/channel"
	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/internal/users"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

const (
	// MaxEntries is the number of coupons listed in one block
	MaxEntries = 49
	// EntityLimit is the number of formatting entities a message may carry
	EntityLimit = 50
)

// TextSender sends a text message and returns its id
type TextSender interface {
	SendText(ctx context.Context, msg sender.Message) (int, error)
}

// Report represents the outcome of a notification run
type Report struct {
	Sent    int
	Blocked int
	Skipped int
	Failed  int
}

// Notifier composes and sends notifications
type Notifier struct {
	store          db.Store
	sender         TextSender
	texts          *cmdlib.Texts
	channel        string
	blockThreshold int
	now            func() time.Time
}

// New creates a notifier, users blocked blockThreshold times in a row are skipped
func New(store db.Store, textSender TextSender, texts *cmdlib.Texts, channel string, blockThreshold int) *Notifier {
	return &Notifier{
		store:          store,
		sender:         textSender,
		texts:          texts,
		channel:        channel,
		blockThreshold: blockThreshold,
		now:            time.Now,
	}
}

type blockHeader struct {
	Count int
}

// NewCoupons returns valid displayed coupons marked as new in display order
func NewCoupons(catalog map[string]*coupons.Coupon, now time.Time) []*coupons.Coupon {
	var result []*coupons.Coupon
	for _, c := range catalog {
		if c.IsNew && c.IsValid(now) && c.Type.Display().IsDisplayed() {
			result = append(result, c)
		}
	}
	return coupons.Sort(result, coupons.SortTypeMenuPrice)
}

// Notify sends notifications about coupons marked as new by the last crawl.
// Send errors of a single user are logged and do not stop the run.
func (n *Notifier) Notify(ctx context.Context) (*Report, error) {
	catalog, err := db.ValuesAs[coupons.Coupon](ctx, n.store, db.CouponsCollection)
	if err != nil {
		return nil, err
	}
	fresh := NewCoupons(catalog, n.now())
	report := &Report{}
	if len(fresh) == 0 {
		cmdlib.Linf("no new coupons, nothing to notify")
		return report, nil
	}
	links, err := channel.Links(ctx, n.store, n.channel)
	if err != nil {
		return nil, err
	}
	all, err := db.AllAs[users.User](ctx, n.store, db.UsersCollection)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		u := all[id]
		if n.blockThreshold > 0 && u.Value.Blocked >= n.blockThreshold {
			report.Skipped++
			continue
		}
		text := n.Compose(u.Value, fresh, links)
		if text == "" {
			continue
		}
		_, err := n.sender.SendText(ctx, sender.Message{
			ChatID:         strconv.FormatInt(u.Value.ID, 10),
			Text:           text,
			HTML:           true,
			DisablePreview: true,
		})
		switch {
		case errors.Is(err, sender.ErrForbidden):
			cmdlib.Linf("user %d blocked the bot", u.Value.ID)
			report.Blocked++
			u.Value.Blocked++
			if err := users.Save(ctx, n.store, &u); err != nil {
				cmdlib.Lerr("%v", err)
			}
		case err != nil:
			cmdlib.Lerr("cannot notify user %d, %v", u.Value.ID, err)
			report.Failed++
		default:
			report.Sent++
			if u.Value.Blocked != 0 {
				u.Value.Blocked = 0
				if err := users.Save(ctx, n.store, &u); err != nil {
					cmdlib.Lerr("%v", err)
				}
			}
		}
	}
	cmdlib.Linf("notifications sent: %d, blocked: %d, skipped: %d, failed: %d", report.Sent, report.Blocked, report.Skipped, report.Failed)
	return report, nil
}

// Compose returns the notification text for a user or an empty string if there is nothing to say.
// Messages are never split, a warning is appended when the entity limit is exceeded.
func (n *Notifier) Compose(u *users.User, fresh []*coupons.Coupon, links map[string]string) string {
	var blocks []string
	entities := 0
	if u.Setting(users.NotifyWhenFavoritesAreBack) {
		var back []*coupons.Coupon
		for _, c := range fresh {
			if _, ok := u.Favorites[c.ID]; ok {
				back = append(back, c)
			}
		}
		if len(back) > 0 {
			block, e := n.block(n.texts.FavoritesBackHeader, back, links)
			blocks = append(blocks, block)
			entities += e
		}
	}
	if u.Setting(users.NotifyWhenNewCouponsAreAvailable) {
		list := fresh
		if u.Setting(users.HideDuplicates) {
			list = coupons.RemoveDuplicates(list)
		}
		block, e := n.block(n.texts.NewCouponsHeader, list, links)
		blocks = append(blocks, block)
		entities += e
	}
	if len(blocks) == 0 {
		return ""
	}
	if entities > EntityLimit {
		blocks = append(blocks, n.texts.Render(n.texts.EntityLimitWarning, blockHeader{Count: len(fresh)}))
	}
	return strings.Join(blocks, "\n\n")
}

// block renders a header and up to MaxEntries entries, it returns the text and its entity count
func (n *Notifier) block(header *cmdlib.Translation, cs []*coupons.Coupon, links map[string]string) (string, int) {
	lines := []string{n.texts.Render(header, blockHeader{Count: len(cs)})}
	entities := 1
	for i, c := range cs {
		if i == MaxEntries {
			break
		}
		url := links[c.ID]
		if url != "" {
			entities++
		}
		lines = append(lines, n.texts.Render(n.texts.NotificationEntry, channel.Entry{Coupon: c, URL: url}))
	}
	return strings.Join(lines, "\n"), entities
}
