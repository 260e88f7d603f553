package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/internal/users"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

const maxQueriesInStat = 10

type couponsData struct {
	Coupons []*coupons.Coupon
}

type settingsData struct {
	Settings []users.SettingView
}

type statData struct {
	Users     int
	Blocked   int
	Coupons   int
	Valid     int
	Channel   int
	LastCrawl string
	Pending   int
	Queries   []string
}

func (w *worker) message(chatID int64, text string, tr *cmdlib.Translation) sender.Message {
	return sender.Message{
		ChatID:         strconv.FormatInt(chatID, 10),
		Text:           text,
		HTML:           tr.Parse == cmdlib.ParseHTML,
		DisablePreview: tr.DisablePreview,
	}
}

func (w *worker) sendTr(ctx context.Context, chatID int64, tr *cmdlib.Translation, data interface{}) {
	w.send(ctx, w.message(chatID, w.texts.Render(tr, data), tr))
}

func (w *worker) send(ctx context.Context, msg sender.Message) {
	if _, err := w.out.SendText(ctx, msg); err != nil {
		lerr("cannot send a message to %s, %v", msg.ChatID, err)
	}
}

// withUser loads a user and applies a change.
// The user is saved if the change reports so or a block counter gets reset.
func (w *worker) withUser(ctx context.Context, chatID int64, change func(u *users.User) bool) error {
	u, err := users.Load(ctx, w.store, chatID, w.now().Unix())
	if err != nil {
		return err
	}
	changed := change(u.Value)
	if u.Value.Blocked != 0 {
		u.Value.Blocked = 0
		changed = true
	}
	if !changed {
		return nil
	}
	return users.Save(ctx, w.store, &u)
}

func (w *worker) catalog(ctx context.Context) (map[string]*coupons.Coupon, error) {
	return db.ValuesAs[coupons.Coupon](ctx, w.store, db.CouponsCollection)
}

func (w *worker) start(ctx context.Context, chatID int64) error {
	if err := w.withUser(ctx, chatID, func(u *users.User) bool { return true }); err != nil {
		return err
	}
	w.sendTr(ctx, chatID, w.texts.Help, nil)
	return nil
}

func (w *worker) favorites(ctx context.Context, chatID int64) error {
	catalog, err := w.catalog(ctx)
	if err != nil {
		return err
	}
	var available, unavailable []*coupons.Coupon
	if err := w.withUser(ctx, chatID, func(u *users.User) bool {
		available, unavailable = u.ResolveFavorites(catalog, w.now())
		return false
	}); err != nil {
		return err
	}
	if len(available) == 0 && len(unavailable) == 0 {
		w.sendTr(ctx, chatID, w.texts.NoFavorites, nil)
		return nil
	}
	var blocks []string
	if len(available) > 0 {
		blocks = append(blocks, w.texts.Render(w.texts.FavoritesAvailable, couponsData{available}))
	}
	if len(unavailable) > 0 {
		blocks = append(blocks, w.texts.Render(w.texts.FavoritesUnavailable, couponsData{unavailable}))
	}
	w.send(ctx, w.message(chatID, strings.Join(blocks, "\n\n"), w.texts.FavoritesAvailable))
	return nil
}

func (w *worker) addFavorite(ctx context.Context, chatID int64, arguments string) error {
	id := strings.TrimSpace(arguments)
	if id == "" {
		w.sendTr(ctx, chatID, w.texts.SyntaxFavorite, nil)
		return nil
	}
	catalog, err := w.catalog(ctx)
	if err != nil {
		return err
	}
	c, ok := catalog[id]
	if !ok || !c.Type.IsDisplayed() {
		w.sendTr(ctx, chatID, w.texts.UnknownCoupon, struct{ ID string }{id})
		return nil
	}
	var addErr error
	if err := w.withUser(ctx, chatID, func(u *users.User) bool {
		var added bool
		added, addErr = u.AddFavorite(c)
		return added
	}); err != nil {
		return err
	}
	if addErr != nil {
		return addErr
	}
	w.sendTr(ctx, chatID, w.texts.FavoriteAdded, c)
	return nil
}

func (w *worker) removeFavorite(ctx context.Context, chatID int64, arguments string) error {
	id := strings.TrimSpace(arguments)
	if id == "" {
		w.sendTr(ctx, chatID, w.texts.SyntaxFavorite, nil)
		return nil
	}
	removed := false
	if err := w.withUser(ctx, chatID, func(u *users.User) bool {
		removed = u.RemoveFavorite(id)
		return removed
	}); err != nil {
		return err
	}
	if !removed {
		w.sendTr(ctx, chatID, w.texts.UnknownCoupon, struct{ ID string }{id})
		return nil
	}
	w.sendTr(ctx, chatID, w.texts.FavoriteRemoved, struct{ ID string }{id})
	return nil
}

func (w *worker) settings(ctx context.Context, chatID int64) error {
	var views []users.SettingView
	if err := w.withUser(ctx, chatID, func(u *users.User) bool {
		views = u.SettingViews()
		return false
	}); err != nil {
		return err
	}
	w.sendTr(ctx, chatID, w.texts.Settings, settingsData{views})
	return nil
}

func parseSwitch(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "an":
		return true, true
	case "off", "0", "false", "aus":
		return false, true
	}
	return false, false
}

func (w *worker) set(ctx context.Context, chatID int64, arguments string) error {
	fields := strings.Fields(arguments)
	if len(fields) != 2 {
		return w.settings(ctx, chatID)
	}
	key := fields[0]
	value, ok := parseSwitch(fields[1])
	if _, known := users.FindSetting(key); !known || !ok {
		w.sendTr(ctx, chatID, w.texts.UnknownSetting, struct{ Key string }{key})
		return nil
	}
	var setErr error
	if err := w.withUser(ctx, chatID, func(u *users.User) bool {
		setErr = u.Set(key, value)
		return setErr == nil
	}); err != nil {
		return err
	}
	if setErr != nil {
		return setErr
	}
	w.sendTr(ctx, chatID, w.texts.SettingChanged, struct {
		Key     string
		Enabled bool
	}{key, value})
	return nil
}

func (w *worker) stat(ctx context.Context, chatID int64) error {
	data := statData{}
	all, err := db.ValuesAs[users.User](ctx, w.store, db.UsersCollection)
	if err != nil {
		return err
	}
	data.Users = len(all)
	for _, u := range all {
		if u.Blocked >= w.cfg.BlockThreshold {
			data.Blocked++
		}
	}
	catalog, err := w.catalog(ctx)
	if err != nil {
		return err
	}
	now := w.now()
	data.Coupons = len(catalog)
	for _, c := range catalog {
		if c.IsValid(now) && c.Type.IsDisplayed() {
			data.Valid++
		}
	}
	mirrors, err := w.store.All(ctx, db.ChannelCollection)
	if err != nil {
		return err
	}
	data.Channel = len(mirrors)
	info, err := db.LoadInfo(ctx, w.store)
	if err != nil {
		return err
	}
	data.Pending = len(info.Value.MessageIDsToDelete)
	if info.Value.TimestampLastCrawl != 0 {
		data.LastCrawl = coupons.FormatDate(info.Value.TimestampLastCrawl, w.cfg.Location)
	} else {
		data.LastCrawl = "-"
	}
	if d, ok := w.store.(*db.Database); ok {
		data.Queries = queryDurations(d.Durations())
	}
	w.sendTr(ctx, chatID, w.texts.Stat, data)
	return nil
}

func queryDurations(durations map[string]db.QueryDurationsData) []string {
	keys := make([]string, 0, len(durations))
	for k := range durations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := durations[keys[i]].Total(), durations[keys[j]].Total()
		if ti != tj {
			return ti > tj
		}
		return keys[i] < keys[j]
	})
	if len(keys) > maxQueriesInStat {
		keys = keys[:maxQueriesInStat]
	}
	var lines []string
	for _, k := range keys {
		d := durations[k]
		lines = append(lines, fmt.Sprintf("%s: avg %.4fs, count %d", strings.Join(strings.Fields(k), " "), d.Avg, d.Count))
	}
	return lines
}

func (w *worker) processAdminMessage(ctx context.Context, chatID int64, command string) (bool, error) {
	switch command {
	case "stat":
		return true, w.stat(ctx, chatID)
	}
	return false, nil
}

func (w *worker) processIncomingMessage(ctx context.Context, chatID int64, command, arguments string) {
	command = strings.ToLower(strings.TrimPrefix(command, "/"))
	linf("chat: %d, command: %s %s", chatID, command, arguments)

	if w.cfg.IsAdmin(chatID) {
		processed, err := w.processAdminMessage(ctx, chatID, command)
		if err != nil {
			lerr("cannot process %s, %v", command, err)
		}
		if processed {
			return
		}
	}

	var err error
	switch command {
	case "start":
		err = w.start(ctx, chatID)
	case "help":
		w.sendTr(ctx, chatID, w.texts.Help, nil)
	case "favorites":
		err = w.favorites(ctx, chatID)
	case "addfav":
		err = w.addFavorite(ctx, chatID, arguments)
	case "delfav":
		err = w.removeFavorite(ctx, chatID, arguments)
	case "settings":
		err = w.settings(ctx, chatID)
	case "set":
		err = w.set(ctx, chatID, arguments)
	default:
		w.sendTr(ctx, chatID, w.texts.UnknownCommand, nil)
	}
	if err != nil {
		lerr("cannot process %s, %v", command, err)
	}
}
