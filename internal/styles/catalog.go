// Package styles holds the catalog of image styles offered to users.
package styles

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	// ErrUnknownStyle indicates no style matches the given reference.
	ErrUnknownStyle = errors.New("unknown style")
	// ErrEmptyCatalog indicates a catalog file without styles.
	ErrEmptyCatalog = errors.New("style catalog is empty")
)

// Style is one selectable image style.
type Style struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Label       string `yaml:"label"`
	DemoFile    string `yaml:"demo_file"`
	Prompt      string `yaml:"prompt"`
}

// Catalog is an ordered, immutable set of styles.
type Catalog struct {
	styles []Style
	index  map[string]int
}

type catalogFile struct {
	Styles []Style `yaml:"styles"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("styles: built-in catalog: %v", err))
	}
	return c
}

// LoadFile reads a YAML catalog from path. An empty path yields the default.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode style catalog: %w", err)
	}
	if len(file.Styles) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{index: map[string]int{}}
	for _, s := range file.Styles {
		s.ID = strings.TrimSpace(s.ID)
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		if s.ID == "" || s.Name == "" {
			return nil, fmt.Errorf("style entry requires id and name: %+v", s)
		}
		if s.DisplayName == "" {
			s.DisplayName = s.Name
		}
		if s.Label == "" {
			s.Label = s.DisplayName
		}
		if strings.TrimSpace(s.Prompt) == "" {
			s.Prompt = fmt.Sprintf("Apply %s style to this photo.", s.Name)
		}
		pos := len(c.styles)
		for _, key := range lookupKeys(s) {
			if prev, ok := c.index[key]; ok && prev != pos {
				return nil, fmt.Errorf("duplicate style reference %q", key)
			}
			c.index[key] = pos
		}
		c.styles = append(c.styles, s)
	}
	return c, nil
}

// All returns the styles in catalog order.
func (c *Catalog) All() []Style {
	out := make([]Style, len(c.styles))
	copy(out, c.styles)
	return out
}

// Get returns the style whose canonical name is name.
func (c *Catalog) Get(name string) (Style, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range c.styles {
		if s.Name == name {
			return s, true
		}
	}
	return Style{}, false
}

// Resolve matches a payload id, canonical name, display name or label
// (ignoring case and emoji) to a style.
func (c *Catalog) Resolve(ref string) (Style, error) {
	key := normalize(ref)
	if key == "" {
		return Style{}, ErrUnknownStyle
	}
	pos, ok := c.index[key]
	if !ok {
		return Style{}, fmt.Errorf("%w: %q", ErrUnknownStyle, ref)
	}
	return c.styles[pos], nil
}

func lookupKeys(s Style) []string {
	keys := []string{normalize(s.ID), normalize(s.Name), normalize(s.DisplayName), normalize(s.Label)}
	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func normalize(ref string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, ref)
	return strings.Join(strings.Fields(cleaned), " ")
}
