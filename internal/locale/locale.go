// Package locale loads YAML message catalogs and renders localized strings.
//
// Each catalog is a flat map of message keys to templates; placeholders are
// written as {name}. The built-in catalogs can be overridden or extended by
// files named <lang>.yaml in an external directory.
package locale

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

type Catalog struct {
	fallback string
	messages map[string]map[string]string
}

// Load reads the built-in catalogs and overlays dir when it is non-empty.
func Load(dir, fallback string) (*Catalog, error) {
	c := &Catalog{
		fallback: normalize(fallback),
		messages: make(map[string]map[string]string),
	}

	sub, err := fs.Sub(builtin, "locales")
	if err != nil {
		return nil, err
	}
	if err := c.loadFS(sub); err != nil {
		return nil, fmt.Errorf("builtin locales: %w", err)
	}

	if dir != "" {
		if err := c.loadFS(os.DirFS(dir)); err != nil {
			return nil, fmt.Errorf("locales in %s: %w", dir, err)
		}
	}

	if _, ok := c.messages[c.fallback]; !ok {
		return nil, fmt.Errorf("fallback locale %q has no catalog", fallback)
	}
	return c, nil
}

func (c *Catalog) loadFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}

		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return err
		}

		var msgs map[string]string
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}

		lang := normalize(strings.TrimSuffix(e.Name(), ".yaml"))
		if c.messages[lang] == nil {
			c.messages[lang] = make(map[string]string, len(msgs))
		}
		for k, v := range msgs {
			c.messages[lang][k] = strings.TrimRight(v, "\n")
		}
	}
	return nil
}

func (c *Catalog) Fallback() string {
	return c.fallback
}

// Has reports whether lang has its own catalog.
func (c *Catalog) Has(lang string) bool {
	_, ok := c.messages[normalize(lang)]
	return ok
}

// Languages lists catalog codes in sorted order.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.messages))
	for l := range c.messages {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Resolve picks the first candidate that has a catalog, or the fallback.
// Regional variants such as "pt-br" resolve to "pt" when only that exists.
func (c *Catalog) Resolve(candidates ...string) string {
	for _, cand := range candidates {
		lang := normalize(cand)
		if lang == "" {
			continue
		}
		if c.Has(lang) {
			return lang
		}
		if base, _, ok := strings.Cut(lang, "-"); ok && c.Has(base) {
			return base
		}
	}
	return c.fallback
}

// T renders key in lang. args are placeholder/value pairs. Missing keys fall
// back to the fallback catalog and finally to the key itself.
func (c *Catalog) T(lang, key string, args ...string) string {
	msg, ok := c.messages[normalize(lang)][key]
	if !ok {
		msg, ok = c.messages[c.fallback][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}

	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

func normalize(lang string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(lang)), "_", "-")
}
