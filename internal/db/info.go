package db

import (
	"context"

	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

// InfoID is the id of the control record
const InfoID = "info"

// InfoEntry represents the control record shared by the pipeline stages
type InfoEntry struct {
	TimestampLastCrawl           int64             `json:"timestamp_last_crawl,omitempty"`
	TimestampLastChannelUpdate   int64             `json:"timestamp_last_channel_update,omitempty"`
	MessageIDsToDelete           []int             `json:"message_ids_to_delete,omitempty"`
	CouponTypeOverviewMessageIDs map[string][]int  `json:"coupon_type_overview_message_ids,omitempty"`
	CouponTypeOverviewPostedAt   map[string]int64  `json:"coupon_type_overview_posted_at,omitempty"`
	CouponTypeOverviewHashes     map[string]string `json:"coupon_type_overview_hashes,omitempty"`
	InformationMessageID         int               `json:"information_message_id,omitempty"`
	InformationMessagePostedAt   int64             `json:"information_message_posted_at,omitempty"`
	AvailableCouponTypes         []string          `json:"available_coupon_types,omitempty"`
	HasHiddenAppCoupons          bool              `json:"has_hidden_app_coupons,omitempty"`
}

// ChannelCoupon represents the mirror of a coupon in the broadcast channel
type ChannelCoupon struct {
	CouponID                string `json:"coupon_id"`
	UniqueIdentifier        string `json:"unique_identifier,omitempty"`
	MessageIDs              []int  `json:"message_ids,omitempty"`
	TimestampMessagesPosted int64  `json:"timestamp_messages_posted,omitempty"`
}

// TextMessageID returns the id of the text message anchoring the mirror
func (c *ChannelCoupon) TextMessageID() int {
	if len(c.MessageIDs) == 0 {
		return 0
	}
	return c.MessageIDs[len(c.MessageIDs)-1]
}

// Info holds the control record with its revision
type Info struct {
	store Store
	Versioned[InfoEntry]
}

// LoadInfo loads the control record or creates an empty one
func LoadInfo(ctx context.Context, s Store) (*Info, error) {
	v, err := GetOrNew[InfoEntry](ctx, s, InfoCollection, InfoID)
	if err != nil {
		return nil, err
	}
	if v.Value.CouponTypeOverviewMessageIDs == nil {
		v.Value.CouponTypeOverviewMessageIDs = map[string][]int{}
	}
	if v.Value.CouponTypeOverviewPostedAt == nil {
		v.Value.CouponTypeOverviewPostedAt = map[string]int64{}
	}
	if v.Value.CouponTypeOverviewHashes == nil {
		v.Value.CouponTypeOverviewHashes = map[string]string{}
	}
	return &Info{store: s, Versioned: v}, nil
}

// Save writes the control record, a conflict means another writer changed it
func (i *Info) Save(ctx context.Context) error {
	rev, err := PutAs(ctx, i.store, InfoCollection, InfoID, i.Versioned)
	if err != nil {
		cmdlib.Lerr("cannot save info, %v", err)
		return err
	}
	i.Rev = rev
	return nil
}
