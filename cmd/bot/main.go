package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bcmk/bkcoupons/internal/botconfig"
	"github.com/bcmk/bkcoupons/internal/channel"
	"github.com/bcmk/bkcoupons/internal/classifier"
	"github.com/bcmk/bkcoupons/internal/clock"
	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/internal/crawler"
	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/internal/images"
	"github.com/bcmk/bkcoupons/internal/notifier"
	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/internal/telegram"
	"github.com/bcmk/bkcoupons/internal/upstream"
	"github.com/bcmk/bkcoupons/internal/users"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/bcmk/bkcoupons/res"
	tg "github.com/bcmk/telegram-bot-api"
)

var (
	checkErr = cmdlib.CheckErr
	lerr     = cmdlib.Lerr
	linf     = cmdlib.Linf
	ldbg     = cmdlib.Ldbg
)

type worker struct {
	cfg        *botconfig.Config
	store      db.Store
	texts      *cmdlib.Texts
	out        notifier.TextSender
	bot        *tg.BotAPI
	crawler    *crawler.Crawler
	reconciler *channel.Reconciler
	notifier   *notifier.Notifier
	now        func() time.Time
}

func newWorker(ctx context.Context, cfg *botconfig.Config) *worker {
	store, err := db.Open(ctx, cfg.DBURL, cfg.DBName)
	checkErr(err)

	var clients []*cmdlib.Client
	for _, address := range cfg.SourceIPAddresses {
		clients = append(clients, cmdlib.HTTPClientWithTimeoutAndAddress(cfg.TimeoutSeconds, address))
	}
	fetcher := upstream.NewFetcher(upstream.FetcherConfig{
		UserAgent:  cfg.UserAgent,
		Headers:    cfg.Headers,
		Retries:    cfg.HTTPRetries,
		CaptureDir: cfg.CaptureDir,
		Debug:      cfg.Debug,
	}, cmdlib.NewClientsLoop(clients))
	api := upstream.NewAPI(fetcher, upstream.Endpoints{
		App:       cfg.AppAPIURL,
		Stores:    cfg.StoresAPIURL,
		StoreMenu: cfg.StoreMenuAPIURL,
	})

	telegramClient := cmdlib.HTTPClientWithTimeoutAndAddress(cfg.TelegramTimeoutSeconds, cfg.SourceIPAddresses[0])
	bot, err := tg.NewBotAPIWithClient(cfg.BotToken, tg.APIEndpoint, telegramClient.Client)
	checkErr(err)
	out := sender.New(telegram.NewTransport(bot, tg.APIEndpoint))

	imageStore, err := images.NewStore(cfg.ImagesDir, api)
	checkErr(err)

	sources := [][]byte{res.DefaultTranslations}
	if cfg.Translation != "" {
		sources = append(sources, cmdlib.ReadTranslationFile(cfg.Translation))
	}
	texts, err := cmdlib.LoadTranslations(coupons.TemplateFuncs(cfg.Location), sources...)
	checkErr(err)

	paperExpiry, err := botconfig.LoadPaperExpiry(cfg.PaperCouponConfig, cfg.Location)
	checkErr(err)
	specials, err := botconfig.LoadSpecialCoupons(cfg.SpecialCouponsConfig, cfg.Location)
	checkErr(err)

	return &worker{
		cfg:   cfg,
		store: store,
		texts: texts,
		out:   out,
		bot:   bot,
		crawler: crawler.New(store, api, imageStore, crawler.Config{
			StoreIDs:        cfg.StoreIDs,
			StoreProperties: cfg.StoreProperties,
			MaxStores:       cfg.MaxStores,
			Paper:           classifier.PaperConfig{Expiry: paperExpiry, LetterCorrections: cfg.LetterCorrections},
			Specials:        specials,
			StoreHistory:    cfg.StoreHistory,
			FullCatalogMode: cfg.FullCatalogMode,
			Location:        cfg.Location,
		}),
		reconciler: channel.NewReconciler(store, out, imageStore, texts, cfg.PublicChannelName, cfg.Location),
		notifier:   notifier.New(store, out, texts, cfg.PublicChannelName, cfg.BlockThreshold),
		now:        time.Now,
	}
}

func (w *worker) logConfig() {
	cfg := *w.cfg
	cfg.BotToken = "***"
	cfgString, err := json.MarshalIndent(cfg, "", "    ")
	checkErr(err)
	ldbg("config: " + string(cfgString))
}

func (w *worker) crawl(ctx context.Context) error {
	report, err := w.crawler.Crawl(ctx)
	if err != nil {
		return err
	}
	linf("crawl %s: %d app, %d store, %d new, %d total", report.RunID, report.App, report.Store, report.New, report.Total)
	return nil
}

func (w *worker) reconcile(ctx context.Context, mode channel.Mode) error {
	if _, err := w.reconciler.Reconcile(ctx, mode); err != nil {
		return err
	}
	_, err := w.reconciler.Cleanup(ctx)
	return err
}

func (w *worker) maintenance(ctx context.Context) error {
	catalog, err := db.ValuesAs[coupons.Coupon](ctx, w.store, db.CouponsCollection)
	if err != nil {
		return err
	}
	pruned, err := users.PruneAll(ctx, w.store, catalog, w.now())
	if err != nil {
		return err
	}
	linf("expired favorites pruned: %d", pruned)
	return nil
}

// batch runs the daily stages in order.
// Notifications and pruning rely on the new flags of a fresh crawl and are skipped when it fails.
func (w *worker) batch(ctx context.Context) error {
	var errs []error
	crawled := true
	if err := w.crawl(ctx); err != nil {
		lerr("crawl failed, %v", err)
		errs = append(errs, err)
		crawled = false
	}
	if _, err := w.reconciler.Reconcile(ctx, channel.ModeUpdate); err != nil {
		lerr("channel update failed, %v", err)
		errs = append(errs, err)
	}
	if crawled {
		if _, err := w.notifier.Notify(ctx); err != nil {
			lerr("user notification failed, %v", err)
			errs = append(errs, err)
		}
		if err := w.maintenance(ctx); err != nil {
			lerr("maintenance failed, %v", err)
			errs = append(errs, err)
		}
	} else {
		linf("the catalog is stale, skipping notifications and maintenance")
	}
	if _, err := w.reconciler.Cleanup(ctx); err != nil {
		lerr("cleanup failed, %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (w *worker) runMode(ctx context.Context, mode string) error {
	switch mode {
	case "crawl":
		return w.crawl(ctx)
	case "forcechannelupdate":
		return w.reconcile(ctx, channel.ModeUpdate)
	case "forcechannelupdatewithresend":
		return w.reconcile(ctx, channel.ModeResendAll)
	case "resumechannelupdate":
		return w.reconcile(ctx, channel.ModeResume)
	case "usernotify":
		_, err := w.notifier.Notify(ctx)
		return err
	case "forcebatchprocess":
		return w.batch(ctx)
	case "nukechannel":
		deleted, err := w.reconciler.Nuke(ctx)
		linf("channel messages deleted: %d", deleted)
		return err
	case "maintenance":
		return w.maintenance(ctx)
	}
	return errors.New("unknown mode " + mode)
}

func (w *worker) serve(ctx context.Context) {
	driver := clock.Start(ctx, w.cfg.Location, w.cfg.DailyHour, w.cfg.DailyMinute, time.Duration(w.cfg.PeriodMinutes)*time.Minute)

	u := tg.NewUpdate(0)
	u.Timeout = max(1, w.cfg.TelegramTimeoutSeconds/2)
	incoming, err := w.bot.GetUpdatesChan(u)
	checkErr(err)
	defer w.bot.StopReceivingUpdates()

	signals := make(chan os.Signal, 16)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	linf("waiting for the daily batch at %02d:%02d", w.cfg.DailyHour, w.cfg.DailyMinute)
	for {
		select {
		case <-driver.Daily:
			if err := w.batch(ctx); err != nil {
				lerr("daily batch finished with errors, %v", err)
			}
		case <-driver.Periodic:
			if _, err := w.reconciler.Cleanup(ctx); err != nil {
				lerr("cleanup failed, %v", err)
			}
		case u := <-incoming:
			if u.Message != nil && u.Message.Chat != nil {
				if u.Message.IsCommand() {
					w.processIncomingMessage(ctx, u.Message.Chat.ID, u.Message.Command(), u.Message.CommandArguments())
				} else {
					parts := strings.SplitN(u.Message.Text, " ", 2)
					for len(parts) < 2 {
						parts = append(parts, "")
					}
					w.processIncomingMessage(ctx, u.Message.Chat.ID, parts[0], parts[1])
				}
			}
		case s := <-signals:
			linf("got signal %v", s)
			return
		}
	}
}

func main() {
	cfg, mode := botconfig.ReadConfig()
	if cfg.Debug {
		cmdlib.Verbosity = cmdlib.DbgVerbosity
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWorker(ctx, cfg)
	w.logConfig()

	failed := false
	if mode != "" {
		linf("running %s", mode)
		if err := w.runMode(ctx, mode); err != nil {
			lerr("%s failed, %v", mode, err)
			failed = true
		}
	} else {
		w.serve(ctx)
	}
	checkErr(w.store.Close())
	if failed {
		os.Exit(1)
	}
}
