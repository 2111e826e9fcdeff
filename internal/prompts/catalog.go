// Package prompts holds the prompt catalog and the rotation selector that issues prompts from it.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ErrEmptyCatalog is returned when no category holds any prompt.
var ErrEmptyCatalog = errors.New("prompt catalog is empty")

// Catalog maps categories to prompt texts. Category order drives rotation.
type Catalog struct {
	order   []domain.Category
	prompts map[domain.Category][]string
}

type catalogFile struct {
	Categories []struct {
		Name    string   `yaml:"name"`
		Prompts []string `yaml:"prompts"`
	} `yaml:"categories"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	catalog, _, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded catalog is invalid: %v", err))
	}
	return catalog
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (*Catalog, []string, error) {
	// #nosec G304: catalog path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog %q: %w", path, err)
	}

	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Duplicate prompts and repeated categories are
// merged and reported as warnings rather than errors.
func ParseCatalog(data []byte) (*Catalog, []string, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{prompts: make(map[domain.Category][]string)}
	var warnings []string

	for _, group := range file.Categories {
		name := domain.Category(strings.TrimSpace(group.Name))
		if name == "" {
			warnings = append(warnings, "category without a name skipped")
			continue
		}

		if _, seen := c.prompts[name]; seen {
			warnings = append(warnings, fmt.Sprintf("category %q declared more than once, prompts merged", name))
		} else {
			c.order = append(c.order, name)
			c.prompts[name] = nil
		}

		for _, text := range group.Prompts {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if contains(c.prompts[name], text) {
				warnings = append(warnings, fmt.Sprintf("duplicate prompt in %q: %q", name, text))
				continue
			}
			c.prompts[name] = append(c.prompts[name], text)
		}

		if len(c.prompts[name]) == 0 {
			warnings = append(warnings, fmt.Sprintf("category %q has no prompts", name))
		}
	}

	if c.Size() == 0 {
		return nil, warnings, ErrEmptyCatalog
	}

	if c.alternates() {
		for _, name := range c.order {
			if name != domain.CategorySelfAwareness && name != domain.CategoryConnections {
				warnings = append(warnings, fmt.Sprintf("category %q is outside the odd/even rotation and only serves as a fallback", name))
			}
		}
	} else {
		warnings = append(warnings, fmt.Sprintf("catalog lacks %q or %q, rotating categories in file order",
			domain.CategorySelfAwareness, domain.CategoryConnections))
	}

	return c, warnings, nil
}

// NewCatalog builds a catalog from an ordered list of categories.
func NewCatalog(order []domain.Category, prompts map[domain.Category][]string) *Catalog {
	c := &Catalog{prompts: make(map[domain.Category][]string, len(order))}
	for _, name := range order {
		c.order = append(c.order, name)
		c.prompts[name] = append([]string(nil), prompts[name]...)
	}
	return c
}

// Categories returns the categories in rotation order.
func (c *Catalog) Categories() []domain.Category {
	if c == nil {
		return nil
	}
	return append([]domain.Category(nil), c.order...)
}

// Prompts returns the prompts of a category.
func (c *Catalog) Prompts(category domain.Category) []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.prompts[category]...)
}

// Has reports whether the category exists and holds at least one prompt.
func (c *Catalog) Has(category domain.Category) bool {
	return c != nil && len(c.prompts[category]) > 0
}

// Size returns the total number of prompts.
func (c *Catalog) Size() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, texts := range c.prompts {
		total += len(texts)
	}
	return total
}

// CategoryFor returns the category for the count-th issued prompt. Counts start at 1. Odd
// counts map to self_awareness and even counts to connections whenever the catalog holds
// both, whatever their order in the file. Other catalogs rotate in file order.
func (c *Catalog) CategoryFor(count int) domain.Category {
	if c == nil || len(c.order) == 0 {
		return domain.CategorySelfAwareness
	}
	if count < 1 {
		count = 1
	}
	if c.alternates() {
		if count%2 == 1 {
			return domain.CategorySelfAwareness
		}
		return domain.CategoryConnections
	}
	return c.order[(count-1)%len(c.order)]
}

func (c *Catalog) alternates() bool {
	return c.Has(domain.CategorySelfAwareness) && c.Has(domain.CategoryConnections)
}

func (c *Catalog) nonEmpty() []domain.Category {
	out := make([]domain.Category, 0, len(c.order))
	for _, name := range c.order {
		if len(c.prompts[name]) > 0 {
			out = append(out, name)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
