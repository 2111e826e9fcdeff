// Package i18n resolves user-facing text from YAML catalogs keyed by language.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

const builtinDir = "locales"

// DefaultLanguage is used when neither the sender nor the configuration names a catalog.
const DefaultLanguage = "en"

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	Lang() string
}

// Vars fills {{.Name}} placeholders in a translated string.
type Vars map[string]string

// Manager stores all available translations.
type Manager struct {
	translations map[string]map[string]string
	defaultLang  string
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the manager over the built-in catalogs with English as the fallback.
func Default() *Manager {
	defaultOnce.Do(func() {
		m, err := Load(DefaultLanguage)
		if err != nil {
			panic(fmt.Sprintf("i18n: built-in catalogs are invalid: %v", err))
		}
		defaultManager = m
	})
	return defaultManager
}

// Load loads the built-in catalogs.
func Load(defaultLang string) (*Manager, error) {
	catalog, err := parseDir(builtin, builtinDir)
	if err != nil {
		return nil, err
	}
	return newManager(catalog, defaultLang)
}

// LoadFromDir loads the built-in catalogs and merges the YAML files in dir over them. Keys
// present in dir win.
func LoadFromDir(dir, defaultLang string) (*Manager, error) {
	catalog, err := parseDir(builtin, builtinDir)
	if err != nil {
		return nil, err
	}

	if dir != "" {
		overrides, err := parseDir(os.DirFS(dir), ".")
		if err != nil {
			return nil, err
		}
		merge(catalog, overrides)
	}

	return newManager(catalog, defaultLang)
}

func newManager(catalog map[string]map[string]string, defaultLang string) (*Manager, error) {
	defaultLang = strings.ToLower(strings.TrimSpace(defaultLang))
	if defaultLang == "" {
		defaultLang = DefaultLanguage
	}

	if _, ok := catalog[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Manager{translations: catalog, defaultLang: defaultLang}, nil
}

// Translator returns a translator for lang. Region subtags fall back to the base language,
// so "pt-BR" uses "pt" when no "pt-br" catalog exists.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	return translator{
		lang:         m.resolve(lang),
		fallback:     m.defaultLang,
		translations: m.translations,
	}
}

func (m *Manager) resolve(lang string) string {
	norm := strings.ToLower(strings.TrimSpace(lang))
	norm = strings.ReplaceAll(norm, "_", "-")
	if norm == "" {
		return m.defaultLang
	}
	if m.translations[norm] != nil {
		return norm
	}
	if base, _, ok := strings.Cut(norm, "-"); ok && m.translations[base] != nil {
		return base
	}
	return m.defaultLang
}

// Languages returns all loaded languages.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}

	languages := make([]string, 0, len(m.translations))
	for lang := range m.translations {
		languages = append(languages, lang)
	}
	return languages
}

// Format translates key and substitutes vars. Unknown placeholders are left in place.
func Format(t Translator, key string, vars Vars) string {
	var text string
	if t != nil {
		text = t.T(key)
	} else {
		text = key
	}

	for name, value := range vars {
		text = strings.ReplaceAll(text, "{{."+name+"}}", value)
	}
	return text
}

// Weekday translates day (Monday=0) in form, one of "weekday", "weekday_plural" or
// "weekday_short".
func Weekday(t Translator, form string, day int) string {
	name := strings.ToLower(time.Weekday((day + 1) % 7).String())
	key := form + "." + name
	if t == nil {
		return key
	}
	return t.T(key)
}

type translator struct {
	lang         string
	fallback     string
	translations map[string]map[string]string
}

func (t translator) Lang() string {
	return t.lang
}

func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}

	if value := t.lookup(t.lang, key); value != "" {
		return value
	}

	if value := t.lookup(t.fallback, key); value != "" {
		return value
	}

	return key
}

func (t translator) lookup(lang, key string) string {
	if lang == "" || t.translations == nil {
		return ""
	}

	if entries := t.translations[lang]; entries != nil {
		if value, ok := entries[key]; ok {
			return value
		}
	}

	return ""
}

func merge(dst, src map[string]map[string]string) {
	for lang, translations := range src {
		if _, ok := dst[lang]; !ok {
			dst[lang] = make(map[string]string)
		}
		for key, value := range translations {
			dst[lang][key] = value
		}
	}
}

func parseDir(fsys fs.FS, dir string) (map[string]map[string]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}

	catalog := make(map[string]map[string]string)
	var processed bool

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry) {
			continue
		}

		processed = true

		name := path.Join(dir, entry.Name())
		fileCatalog, err := parseFile(fsys, name)
		if err != nil {
			return nil, err
		}
		merge(catalog, fileCatalog)
	}

	if !processed {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}

	return catalog, nil
}

func isYAML(entry fs.DirEntry) bool {
	name := strings.ToLower(entry.Name())
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func parseFile(fsys fs.FS, name string) (map[string]map[string]string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("i18n: read file %s: %w", name, err)
	}

	if strings.TrimSpace(string(data)) == "" {
		return map[string]map[string]string{}, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("i18n: parse file %s: %w", name, err)
	}

	catalog := make(map[string]map[string]string)
	for lang, value := range raw {
		langKey := strings.ToLower(strings.TrimSpace(lang))
		if langKey == "" {
			continue
		}

		normalized := toStringMap(value)
		if len(normalized) == 0 {
			continue
		}

		flattened := make(map[string]string)
		flatten("", normalized, flattened)
		if len(flattened) == 0 {
			continue
		}

		catalog[langKey] = flattened
	}

	return catalog, nil
}

func toStringMap(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case map[interface{}]any:
		converted := make(map[string]any, len(v))
		for key, item := range v {
			keyStr, ok := key.(string)
			if !ok {
				continue
			}
			converted[keyStr] = item
		}
		return converted
	default:
		return nil
	}
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for key, value := range in {
		if key == "" {
			continue
		}

		nextKey := key
		if prefix != "" {
			nextKey = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[nextKey] = v
		case map[string]any:
			flatten(nextKey, v, out)
		case map[interface{}]any:
			child := toStringMap(v)
			if len(child) == 0 {
				continue
			}
			flatten(nextKey, child, out)
		}
	}
}
