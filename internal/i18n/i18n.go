// Package i18n holds the UI strings and localized error messages for English
// and Chinese, negotiated from Accept-Language.
package i18n

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/singbox-portmap/internal/fetch"
)

//go:embed locales/*.yml
var localeFS embed.FS

const (
	English = "en"
	Chinese = "zh"
)

var supported = map[language.Base]string{
	mustBase(language.English): English,
	mustBase(language.Chinese): Chinese,
}

func mustBase(t language.Tag) language.Base {
	b, _ := t.Base()
	return b
}

type Catalog struct {
	Lang   string            `yaml:"-" json:"lang"`
	UI     map[string]string `yaml:"ui" json:"ui"`
	Errors map[string]string `yaml:"errors" json:"errors"`
}

// Message returns the localized text for an error code, or fallback.
func (c *Catalog) Message(code, fallback string) string {
	if c == nil {
		return fallback
	}
	if s, ok := c.Errors[code]; ok && s != "" {
		return s
	}
	return fallback
}

func (c *Catalog) merge(o *Catalog) {
	for k, v := range o.UI {
		c.UI[k] = v
	}
	for k, v := range o.Errors {
		c.Errors[k] = v
	}
}

func (c *Catalog) clone() *Catalog {
	out := &Catalog{Lang: c.Lang, UI: make(map[string]string, len(c.UI)), Errors: make(map[string]string, len(c.Errors))}
	out.merge(c)
	return out
}

// Bundle is safe for concurrent use.
type Bundle struct {
	mu       sync.RWMutex
	catalogs map[string]*Catalog
}

// New loads the embedded catalogs.
func New() (*Bundle, error) {
	b := &Bundle{catalogs: make(map[string]*Catalog, len(supported))}
	for _, lang := range []string{English, Chinese} {
		data, err := localeFS.ReadFile("locales/" + lang + ".yml")
		if err != nil {
			return nil, err
		}
		c, err := parseCatalog(lang, data)
		if err != nil {
			return nil, fmt.Errorf("embedded locale %s: %w", lang, err)
		}
		b.catalogs[lang] = c
	}
	return b, nil
}

func parseCatalog(lang string, data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.Lang = lang
	if c.UI == nil {
		c.UI = map[string]string{}
	}
	if c.Errors == nil {
		c.Errors = map[string]string{}
	}
	return &c, nil
}

// LoadOverrides fetches <baseURL>/<lang>.yml for every language and merges
// the keys over the embedded catalog. A failed language keeps its embedded
// strings; the failure is only logged.
func (b *Bundle) LoadOverrides(ctx context.Context, baseURL string, opt fetch.Options, log logrus.FieldLogger) {
	base := strings.TrimRight(baseURL, "/")
	for _, lang := range []string{English, Chinese} {
		src := base + "/" + lang + ".yml"
		text, err := fetch.ReadSource(ctx, fetch.KindLocale, src, nil, opt)
		if err != nil {
			log.WithError(err).WithField("lang", lang).Warn("locale override unavailable, using built-in strings")
			continue
		}
		o, err := parseCatalog(lang, []byte(text))
		if err != nil {
			log.WithError(err).WithField("lang", lang).Warn("locale override is not valid YAML, using built-in strings")
			continue
		}

		b.mu.Lock()
		merged := b.catalogs[lang].clone()
		merged.merge(o)
		b.catalogs[lang] = merged
		b.mu.Unlock()
		log.WithField("lang", lang).WithField("source", src).Info("locale override loaded")
	}
}

// Catalog returns the catalog for lang, which may be a bare tag ("zh") or an
// Accept-Language header value.
func (b *Bundle) Catalog(lang string) *Catalog {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.catalogs[Match(lang)]
}

// Match returns the first supported language in preference order, by base
// language only ("zh-TW" is "zh"). Anything else is English.
func Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil {
		return English
	}
	for _, t := range tags {
		b, _ := t.Base()
		if lang, ok := supported[b]; ok {
			return lang
		}
	}
	return English
}
