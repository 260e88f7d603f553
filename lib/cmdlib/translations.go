package cmdlib

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"text/template"

	"gopkg.in/yaml.v3"
)

// ParseKind specifies Telegram message parsing method
type ParseKind int

const (
	// ParseRaw parses Telegram message as a raw text
	ParseRaw ParseKind = iota
	// ParseHTML parses Telegram message as HTML
	ParseHTML
	// ParseMarkdown parses Telegram message as Markdown
	ParseMarkdown
)

func (r ParseKind) String() string {
	switch r {
	case ParseRaw:
		return "raw"
	case ParseHTML:
		return "html"
	case ParseMarkdown:
		return "markdown"
	}
	return "unknown"
}

// MarshalYAML returns the name of a parse kind
func (r ParseKind) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML parses a parse kind
func (r *ParseKind) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "raw", "":
		*r = ParseRaw
	case "html":
		*r = ParseHTML
	case "markdown":
		*r = ParseMarkdown
	default:
		return fmt.Errorf("unknown parse kind %q", value.Value)
	}
	return nil
}

// Translation represents a translated text for a Telegram message
type Translation struct {
	Key            string    `yaml:"-"`
	Str            string    `yaml:"str"`
	Parse          ParseKind `yaml:"parse"`
	DisablePreview bool      `yaml:"disable_preview"`
}

// AllTranslations represents a collection of translated texts by key
type AllTranslations map[string]*Translation

// Translations represents a collection of translated texts for Telegram messages
type Translations struct {
	Help                 *Translation `yaml:"help"`
	UnknownCommand       *Translation `yaml:"unknown_command"`
	ChannelCoupon        *Translation `yaml:"channel_coupon"`
	OverviewHeader       *Translation `yaml:"overview_header"`
	OverviewEntry        *Translation `yaml:"overview_entry"`
	OverviewWithMenu     *Translation `yaml:"overview_with_menu"`
	ChannelInfo          *Translation `yaml:"channel_info"`
	FavoritesBackHeader  *Translation `yaml:"favorites_back_header"`
	NewCouponsHeader     *Translation `yaml:"new_coupons_header"`
	NotificationEntry    *Translation `yaml:"notification_entry"`
	EntityLimitWarning   *Translation `yaml:"entity_limit_warning"`
	FavoritesAvailable   *Translation `yaml:"favorites_available"`
	FavoritesUnavailable *Translation `yaml:"favorites_unavailable"`
	NoFavorites          *Translation `yaml:"no_favorites"`
	FavoriteAdded        *Translation `yaml:"favorite_added"`
	FavoriteRemoved      *Translation `yaml:"favorite_removed"`
	UnknownCoupon        *Translation `yaml:"unknown_coupon"`
	SyntaxFavorite       *Translation `yaml:"syntax_favorite"`
	Settings             *Translation `yaml:"settings"`
	SettingChanged       *Translation `yaml:"setting_changed"`
	UnknownSetting       *Translation `yaml:"unknown_setting"`
	Stat                 *Translation `yaml:"stat"`
}

// Texts contains translations together with their parsed templates
type Texts struct {
	*Translations
	tpl *template.Template
}

// LoadTranslations parses YAML translation sources, later sources override earlier ones
func LoadTranslations(funcs template.FuncMap, sources ...[]byte) (*Texts, error) {
	tr := &Translations{}
	allTr := AllTranslations{}
	for _, s := range sources {
		parsed := AllTranslations{}
		decoder := yaml.NewDecoder(bytes.NewReader(s))
		decoder.KnownFields(true)
		if err := decoder.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("cannot parse translations: %w", err)
		}
		for k, v := range parsed {
			v.Key = k
			allTr[k] = v
		}
	}
	copyTranslations(allTr, tr)
	if err := noNils(tr); err != nil {
		return nil, err
	}
	tpl, err := setupTemplates(allTr, funcs)
	if err != nil {
		return nil, err
	}
	return &Texts{Translations: tr, tpl: tpl}, nil
}

// ReadTranslationFile reads a translation file
func ReadTranslationFile(path string) []byte {
	data, err := os.ReadFile(filepath.Clean(path))
	CheckErr(err)
	return data
}

// Render executes a translation template
func (t *Texts) Render(tr *Translation, data interface{}) string {
	buf := &bytes.Buffer{}
	if err := t.tpl.ExecuteTemplate(buf, tr.Key, data); err != nil {
		Lerr("cannot render %s, %v", tr.Key, err)
		return tr.Str
	}
	return buf.String()
}

func setupTemplates(trs AllTranslations, funcs template.FuncMap) (*template.Template, error) {
	tpl := template.New("")
	tpl.Funcs(template.FuncMap{
		"mod": func(i, j int) int { return i % j },
		"add": func(i, j int) int { return i + j },
	})
	if funcs != nil {
		tpl.Funcs(funcs)
	}
	for k, v := range trs {
		if _, err := tpl.New(k).Parse(v.Str); err != nil {
			return nil, fmt.Errorf("cannot parse template %s: %w", k, err)
		}
	}
	return tpl, nil
}

func copyTranslations(from AllTranslations, to *Translations) {
	value := reflect.ValueOf(to).Elem()
	toType := reflect.TypeOf(to).Elem()
	for k, v := range from {
		for i := 0; i < value.NumField(); i++ {
			if toType.Field(i).Tag.Get("yaml") == k {
				value.Field(i).Set(reflect.ValueOf(v))
			}
		}
	}
}

func noNils(x *Translations) error {
	rv := reflect.ValueOf(x).Elem()
	for i := 0; i < rv.NumField(); i++ {
		if rv.Field(i).IsNil() {
			tag := rv.Type().Field(i).Tag.Get("yaml")
			return fmt.Errorf("required translation is not set: %s", tag)
		}
	}
	return nil
}
