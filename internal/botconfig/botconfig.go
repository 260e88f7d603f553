// Package botconfig represents bot configuration
package botconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/bcmk/bkcoupons/internal/clock"
	"github.com/bcmk/bkcoupons/internal/crawler"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var checkErr = cmdlib.CheckErr

// Config represents bot configuration
type Config struct {
	Debug                  bool              `mapstructure:"debug"`                    // debug mode
	BotToken               string            `mapstructure:"bot_token"`                // your Telegram bot token
	BotName                string            `mapstructure:"bot_name"`                 // the bot username without @
	DBURL                  string            `mapstructure:"db_url"`                   // postgres://..., mongodb://... or memory://
	DBName                 string            `mapstructure:"db_name"`                  // the MongoDB database
	AdminIDs               []int64           `mapstructure:"admin_ids"`                // admin Telegram IDs
	PublicChannelName      string            `mapstructure:"public_channel_name"`      // the broadcast channel name without @
	TimeoutSeconds         int               `mapstructure:"timeout_seconds"`          // HTTP timeout
	TelegramTimeoutSeconds int               `mapstructure:"telegram_timeout_seconds"` // the timeout for Telegram queries
	HTTPRetries            int               `mapstructure:"http_retries"`             // retries of failed upstream queries
	UserAgent              string            `mapstructure:"user_agent"`               // the user agent of upstream queries
	Headers                [][2]string       `mapstructure:"headers"`                  // HTTP headers to make upstream queries with
	SourceIPAddresses      []string          `mapstructure:"source_ip_addresses"`      // source IP addresses for upstream queries
	AppAPIURL              string            `mapstructure:"app_api_url"`              // the app coupons endpoint
	StoresAPIURL           string            `mapstructure:"stores_api_url"`           // the stores listing endpoint
	StoreMenuAPIURL        string            `mapstructure:"store_menu_api_url"`       // the store menu endpoint, %s is replaced by a store id
	StoreIDs               []string          `mapstructure:"store_ids"`                // stores to crawl, discovered if empty
	StoreProperties        []string          `mapstructure:"store_properties"`         // required properties of discovered stores
	MaxStores              int               `mapstructure:"max_stores"`               // the number of stores yielding coupons to crawl
	CaptureDir             string            `mapstructure:"capture_dir"`              // upstream responses are saved here if set
	ImagesDir              string            `mapstructure:"images_dir"`               // coupon images directory
	PaperCouponConfig      string            `mapstructure:"paper_coupon_config"`      // YAML file mapping paper coupon letters to expiry dates
	SpecialCouponsConfig   string            `mapstructure:"special_coupons_config"`   // YAML file listing special coupons
	Timezone               string            `mapstructure:"timezone"`                 // the timezone of dates
	DailyBatchTime         string            `mapstructure:"daily_batch_time"`         // the time of the daily batch, HH:MM
	PeriodMinutes          int               `mapstructure:"period_minutes"`           // the period of deferred message cleanup
	BlockThreshold         int               `mapstructure:"block_threshold"`          // do not notify a user after being blocked by him this number of times
	LetterCorrections      map[string]string `mapstructure:"letter_corrections"`       // relabel paper coupon letters
	StoreHistory           bool              `mapstructure:"store_history"`            // save catalog snapshots
	FullCatalogMode        bool              `mapstructure:"full_catalog_mode"`        // also mark coupons as new when they become valid again
	Translation            string            `mapstructure:"translation"`              // translation overrides file

	Location    *time.Location `mapstructure:"-"`
	DailyHour   int            `mapstructure:"-"`
	DailyMinute int            `mapstructure:"-"`
}

// Modes lists the CLI modes, the empty mode runs the bot
var Modes = []string{
	"crawl",
	"forcechannelupdate",
	"forcechannelupdatewithresend",
	"resumechannelupdate",
	"usernotify",
	"forcebatchprocess",
	"nukechannel",
	"maintenance",
}

// File represents a config file, optional files may be missing
type File struct {
	Name     string
	Required bool
}

func bindEnvForStructType(v *viper.Viper, t reflect.Type, prefix string, bindPrimitiveMaps bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			tag := f.Tag.Get("mapstructure")
			if tag == "" || tag == "-" {
				continue
			}
			key := tag
			if prefix != "" {
				key = prefix + "." + tag
			}
			bindEnvForStructType(v, f.Type, key, bindPrimitiveMaps)
		}
	case reflect.Map:
		if !bindPrimitiveMaps {
			return
		}
		k, e := t.Key(), t.Elem()
		for e.Kind() == reflect.Ptr {
			e = e.Elem()
		}
		if k.Kind() == reflect.String && isPrimitiveKind(e.Kind()) {
			_ = v.BindEnv(prefix)
		}
	default:
		_ = v.BindEnv(prefix)
	}
}

func isPrimitiveKind(k reflect.Kind) bool {
	switch k {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Uintptr,
		reflect.Float32,
		reflect.Float64,
		reflect.String:

		return true
	default:
		return false
	}
}

func stringToMapHookFunc() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() == reflect.String && to.Kind() == reflect.Map {
			if s := data.(string); s != "" {
				m := reflect.New(to).Interface()
				if err := json.Unmarshal([]byte(s), m); err != nil {
					return data, err
				}
				return reflect.ValueOf(m).Elem().Interface(), nil
			}
		}
		return data, nil
	}
}

func stringToSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Slice {
			return data, nil
		}

		raw := data.(string)
		if raw == "" {
			return []string{}, nil
		}

		result := strings.Split(raw, sep)
		for k, v := range result {
			result[k] = strings.TrimLeft(v, " ")
		}
		return result, nil
	}
}

var cfgPath = pflag.StringP("config", "c", "", "path to a config file (overrides default search)")

// ReadConfig parses flags and reads config, it returns the config and the mode
func ReadConfig() (*Config, string) {
	pflag.Parse()
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		checkErr(err)
	}

	var files []File
	if *cfgPath != "" {
		files = []File{{*cfgPath, true}}
	} else {
		files = []File{
			{"config.json", true},
			{"config.dev.ignore.json", false},
		}
	}
	cfg, err := Load(files)
	checkErr(err)
	mode, err := ParseMode(pflag.Args())
	checkErr(err)
	return cfg, mode
}

// Load reads config files merging them in order, the environment overrides them
func Load(files []File) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	for _, f := range files {
		v.SetConfigFile(f.Name)
		if err := v.MergeInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) && !f.Required {
				cmdlib.Linf("skip config %q", f.Name)
				continue
			}
			return nil, fmt.Errorf("error reading %q: %w", f.Name, err)
		}
		cmdlib.Linf("successfully read config %q", f.Name)
	}

	v.SetEnvPrefix("BKC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	cfg := &Config{
		TimeoutSeconds:         30,
		TelegramTimeoutSeconds: 30,
		HTTPRetries:            3,
		MaxStores:              2,
		Timezone:               "Europe/Berlin",
		DailyBatchTime:         "00:01",
		PeriodMinutes:          60,
		BlockThreshold:         3,
		LetterCorrections:      map[string]string{"F": "A"},
	}
	bindEnvForStructType(v, reflect.TypeOf(cfg), "", true)
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			stringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.TextUnmarshallerHookFunc(),
			stringToMapHookFunc(),
		)
	}); err != nil {
		return nil, err
	}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if len(cfg.SourceIPAddresses) == 0 {
		cfg.SourceIPAddresses = append(cfg.SourceIPAddresses, "")
	}
	return cfg, nil
}

// ParseMode returns the mode given in the command line arguments
func ParseMode(args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	if len(args) > 1 {
		return "", fmt.Errorf("too many arguments %v", args)
	}
	for _, m := range Modes {
		if args[0] == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q, use one of %s", args[0], strings.Join(Modes, ", "))
}

func checkConfig(cfg *Config) error {
	for _, x := range cfg.SourceIPAddresses {
		if net.ParseIP(x) == nil {
			return fmt.Errorf("cannot parse source IP address %s", x)
		}
	}
	if cfg.BotToken == "" {
		return errors.New("configure bot_token")
	}
	if cfg.DBURL == "" {
		return errors.New("configure db_url")
	}
	if len(cfg.AdminIDs) == 0 {
		return errors.New("configure admin_ids")
	}
	if cfg.PublicChannelName == "" {
		return errors.New("configure public_channel_name")
	}
	cfg.PublicChannelName = strings.TrimPrefix(cfg.PublicChannelName, "@")
	if cfg.AppAPIURL == "" {
		return errors.New("configure app_api_url")
	}
	if len(cfg.StoreIDs) == 0 && cfg.StoresAPIURL == "" {
		return errors.New("configure store_ids or stores_api_url")
	}
	if !strings.Contains(cfg.StoreMenuAPIURL, "%s") {
		return errors.New("configure store_menu_api_url containing %s")
	}
	if cfg.ImagesDir == "" {
		return errors.New("configure images_dir")
	}
	if cfg.TimeoutSeconds <= 0 {
		return errors.New("configure timeout_seconds")
	}
	if cfg.TelegramTimeoutSeconds <= 0 {
		return errors.New("configure telegram_timeout_seconds")
	}
	if cfg.MaxStores <= 0 {
		return errors.New("configure max_stores")
	}
	if cfg.BlockThreshold <= 0 {
		return errors.New("configure block_threshold")
	}
	if cfg.PeriodMinutes < 0 {
		return errors.New("configure period_minutes")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("configure timezone, %w", err)
	}
	cfg.Location = loc
	if cfg.DailyHour, cfg.DailyMinute, err = clock.ParseDaily(cfg.DailyBatchTime); err != nil {
		return fmt.Errorf("configure daily_batch_time, %w", err)
	}
	return nil
}

// IsAdmin reports whether a chat belongs to an admin
func (c *Config) IsAdmin(chatID int64) bool {
	for _, id := range c.AdminIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// LoadPaperExpiry reads a YAML file mapping paper coupon letters to dates, an empty path yields nothing
func LoadPaperExpiry(path string, loc *time.Location) (map[string]time.Time, error) {
	result := map[string]time.Time{}
	if path == "" {
		return result, nil
	}
	var raw map[string]string
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}
	for letter, date := range raw {
		t, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid date of paper letter %s, %w", letter, err)
		}
		result[strings.ToUpper(letter)] = t
	}
	return result, nil
}

type specialCoupon struct {
	ID                            string `yaml:"id"`
	PLU                           string `yaml:"plu"`
	Title                         string `yaml:"title"`
	ImageURL                      string `yaml:"image_url"`
	Price                         int    `yaml:"price"`
	ExpireDate                    string `yaml:"expire_date"`
	EnforceIsNewOverrideUntilDate string `yaml:"enforce_is_new_override_until_date"`
}

// LoadSpecialCoupons reads a YAML list of special coupons, an empty path yields nothing
func LoadSpecialCoupons(path string, loc *time.Location) ([]crawler.SpecialCoupon, error) {
	if path == "" {
		return nil, nil
	}
	var raw []specialCoupon
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}
	var result []crawler.SpecialCoupon
	seen := map[string]bool{}
	for _, s := range raw {
		if s.ID == "" || s.Title == "" {
			return nil, fmt.Errorf("special coupon %q must have an id and a title", s.ID)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate special coupon %s", s.ID)
		}
		seen[s.ID] = true
		expire, err := time.ParseInLocation("2006-01-02", s.ExpireDate, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid expire_date of special coupon %s, %w", s.ID, err)
		}
		c := crawler.SpecialCoupon{
			ID:         s.ID,
			PLU:        s.PLU,
			Title:      s.Title,
			ImageURL:   s.ImageURL,
			Price:      s.Price,
			ExpireDate: expire,
		}
		if s.EnforceIsNewOverrideUntilDate != "" {
			if c.EnforceIsNewOverrideUntilDate, err = time.ParseInLocation("2006-01-02", s.EnforceIsNewOverrideUntilDate, loc); err != nil {
				return nil, fmt.Errorf("invalid enforce_is_new_override_until_date of special coupon %s, %w", s.ID, err)
			}
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func readYAML(path string, target interface{}) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("cannot parse %s, %w", path, err)
	}
	return nil
}
