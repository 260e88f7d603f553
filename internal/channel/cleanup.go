package channel

import (
	"context"
	"errors"
	"sort"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

// Cleanup deletes queued messages in FIFO order.
// The queue is saved after every deletion so it survives a crash.
func (r *Reconciler) Cleanup(ctx context.Context) (int, error) {
	info, err := db.LoadInfo(ctx, r.store)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for len(info.Value.MessageIDsToDelete) > 0 {
		id := info.Value.MessageIDsToDelete[0]
		err := r.poster.Delete(ctx, r.chatID(), id)
		switch {
		case errors.Is(err, sender.ErrMessageTooOld):
			cmdlib.Linf("message %d is too old to be deleted, dropping it", id)
		case err != nil:
			return deleted, err
		default:
			deleted++
		}
		info.Value.MessageIDsToDelete = info.Value.MessageIDsToDelete[1:]
		if err := info.Save(ctx); err != nil {
			return deleted, err
		}
	}
	if deleted > 0 {
		cmdlib.Linf("%d channel messages deleted", deleted)
	}
	return deleted, nil
}

// Nuke queues every known channel message for deletion, forgets all mirrors and runs the cleanup
func (r *Reconciler) Nuke(ctx context.Context) (int, error) {
	info, err := db.LoadInfo(ctx, r.store)
	if err != nil {
		return 0, err
	}
	mirrors, err := db.ValuesAs[db.ChannelCoupon](ctx, r.store, db.ChannelCollection)
	if err != nil {
		return 0, err
	}
	var ids []string
	for id := range mirrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	queue := info.Value.MessageIDsToDelete
	for _, id := range ids {
		queue = append(queue, mirrors[id].MessageIDs...)
	}
	var overviewKeys []string
	for key := range info.Value.CouponTypeOverviewMessageIDs {
		overviewKeys = append(overviewKeys, key)
	}
	sort.Strings(overviewKeys)
	sort.SliceStable(overviewKeys, func(i, j int) bool {
		return coupons.Type(overviewKeys[i]).Rank() < coupons.Type(overviewKeys[j]).Rank()
	})
	for _, key := range overviewKeys {
		queue = append(queue, info.Value.CouponTypeOverviewMessageIDs[key]...)
	}
	if info.Value.InformationMessageID != 0 {
		queue = append(queue, info.Value.InformationMessageID)
	}

	info.Value.MessageIDsToDelete = queue
	info.Value.CouponTypeOverviewMessageIDs = map[string][]int{}
	info.Value.CouponTypeOverviewPostedAt = map[string]int64{}
	info.Value.CouponTypeOverviewHashes = map[string]string{}
	info.Value.InformationMessageID = 0
	info.Value.InformationMessagePostedAt = 0
	if err := info.Save(ctx); err != nil {
		return 0, err
	}
	if err := db.Clear(ctx, r.store, db.ChannelCollection); err != nil {
		return 0, err
	}
	cmdlib.Linf("%d channel messages queued for deletion", len(queue))
	return r.Cleanup(ctx)
}
