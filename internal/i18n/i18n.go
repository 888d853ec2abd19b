// Package i18n holds the translated message catalog used for voice keywords,
// spoken confirmations and user-visible notifications.
//
// Messages are flat key → text maps, one YAML file per language
// (locales/en.yaml, locales/ne.yaml, ...). Lookups fall back from a regional
// tag ("ne-NP") to its base language and then to English; a key missing
// everywhere is returned unchanged. Parameters are interpolated with the
// {{name}} syntax.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fallback is the language every lookup falls back to.
const Fallback = "en"

//go:embed locales/*.yaml
var builtin embed.FS

// Catalog is a set of per-language messages. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	messages map[string]map[string]string
}

// New returns a catalog preloaded with the built-in locales.
func New() (*Catalog, error) {
	c := &Catalog{messages: make(map[string]map[string]string)}
	if err := c.LoadFS(builtin, "locales"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir merges every *.yaml file in dir over the current messages.
func (c *Catalog) LoadDir(dir string) error {
	return c.LoadFS(os.DirFS(dir), ".")
}

// LoadFS merges every *.yaml file in dir of fsys. The file name without
// extension is the language code.
func (c *Catalog) LoadFS(fsys fs.FS, dir string) error {
	files, err := fs.Glob(fsys, path.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("i18n: glob %s: %w", dir, err)
	}
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f)
		if err != nil {
			return fmt.Errorf("i18n: read %s: %w", f, err)
		}
		var msgs map[string]string
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return fmt.Errorf("i18n: parse %s: %w", f, err)
		}
		c.Add(strings.TrimSuffix(path.Base(f), ".yaml"), msgs)
	}
	return nil
}

// Add merges msgs into lang.
func (c *Catalog) Add(lang string, msgs map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages == nil {
		c.messages = make(map[string]map[string]string)
	}
	dst, ok := c.messages[lang]
	if !ok {
		dst = make(map[string]string, len(msgs))
		c.messages[lang] = dst
	}
	maps.Copy(dst, msgs)
}

// Languages returns the loaded language codes, sorted.
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.messages))
}

// T translates key into lang and interpolates params.
func (c *Catalog) T(lang, key string, params map[string]string) string {
	msg, ok := c.lookup(lang, key)
	if !ok {
		msg = key
	}
	for k, v := range params {
		msg = strings.ReplaceAll(msg, "{{"+k+"}}", v)
	}
	return msg
}

func (c *Catalog) lookup(lang, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candidates := []string{lang}
	if base, _, ok := strings.Cut(lang, "-"); ok {
		candidates = append(candidates, base)
	}
	candidates = append(candidates, Fallback)
	for _, l := range candidates {
		if msg, ok := c.messages[l][key]; ok {
			return msg, true
		}
	}
	return "", false
}

// For returns a translator bound to lang.
func (c *Catalog) For(lang string) Localizer {
	return Localizer{catalog: c, lang: lang}
}

// Localizer translates into one language.
type Localizer struct {
	catalog *Catalog
	lang    string
}

// Lang returns the bound language.
func (l Localizer) Lang() string { return l.lang }

// T translates key.
func (l Localizer) T(key string, params map[string]string) string {
	return l.catalog.T(l.lang, key, params)
}

var languageNames = map[string]string{
	"en":   "English",
	"ne":   "नेपाली",
	"es":   "Español",
	"zh":   "中文",
	"ja":   "日本語",
	"hi":   "हिन्दी",
	"fr":   "Français",
	"ar":   "العربية",
	"de":   "Deutsch",
	"ru":   "Русский",
	"newa": "नेवारी",
	"taj":  "तामाङ",
	"mai":  "मैथिली",
	"bho":  "भोजपुरी",
	"thr":  "थारु",
	"bn":   "বাংলা",
	"ur":   "اردو",
	"mr":   "मराठी",
}

// LanguageName returns the native display name of code, or code itself.
func LanguageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return code
}
