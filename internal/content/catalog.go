// Package content turns a transit ranking into the text of the daily message.
package content

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thedetect/universe-talk-bot/assets"
	"github.com/thedetect/universe-talk-bot/internal/astro"
)

// Catalog is the static phrase data. Themes are keyed by transiting body, then aspect name.
type Catalog struct {
	Fallback      string                       `yaml:"fallback"`
	Reminder      string                       `yaml:"reminder"`
	GenericTheme  string                       `yaml:"generic_theme"`
	Themes        map[string]map[string]string `yaml:"themes"`
	Insights      map[string]string            `yaml:"insights"`
	Do            []string                     `yaml:"do"`
	Dont          []string                     `yaml:"dont"`
	GenericDo     []string                     `yaml:"generic_do"`
	GenericDont   []string                     `yaml:"generic_dont"`
	Rituals       map[string]string            `yaml:"rituals"`
	GenericRitual string                       `yaml:"generic_ritual"`
	Mottos        []string                     `yaml:"mottos"`
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(assets.Content)
}

// Load reads a catalog from path, or returns the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	switch {
	case c.Fallback == "":
		return errors.New("fallback is empty")
	case c.Reminder == "":
		return errors.New("reminder is empty")
	case c.GenericTheme == "":
		return errors.New("generic_theme is empty")
	case len(c.Mottos) == 0:
		return errors.New("mottos pool is empty")
	case len(c.Do) == 0 || len(c.Dont) == 0:
		return errors.New("do/dont pools must not be empty")
	case len(c.GenericDo) == 0 || len(c.GenericDont) == 0:
		return errors.New("generic do/dont pairs must not be empty")
	case c.GenericRitual == "":
		return errors.New("generic_ritual is empty")
	}
	for _, e := range []astro.Element{astro.Fire, astro.Earth, astro.Air, astro.Water} {
		if c.Rituals[e.String()] == "" {
			return fmt.Errorf("missing ritual for %s", e)
		}
	}
	return nil
}

func (c *Catalog) theme(b astro.Body, a astro.AspectType) string {
	if t := c.Themes[b.String()][a.String()]; t != "" {
		return t
	}
	return c.GenericTheme
}
