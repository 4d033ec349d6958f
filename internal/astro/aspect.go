package astro

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thedetect/universe-talk-bot/assets"
)

// AspectType names an angular relationship between two longitudes.
type AspectType int

const (
	Conjunction AspectType = iota
	Sextile
	Square
	Trine
	Opposition

	numAspects = int(Opposition) + 1
)

var aspectNames = [numAspects]string{"conjunction", "sextile", "square", "trine", "opposition"}

func (a AspectType) String() string {
	if a < 0 || int(a) >= numAspects {
		return fmt.Sprintf("aspect(%d)", int(a))
	}
	return aspectNames[a]
}

// ParseAspect maps a lower-case aspect name to its AspectType.
func ParseAspect(s string) (AspectType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range aspectNames {
		if n == s {
			return AspectType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown aspect %q", s)
}

// AspectSpec is one row of the aspect table.
type AspectSpec struct {
	Type       AspectType
	Angle      float64 // exact angle, degrees
	Orb        float64 // tolerance either side of Angle, degrees
	Harmonious bool
}

// Tables is the static data the engine ranks with.
type Tables struct {
	Aspects   []AspectSpec
	SpeedRank [numBodies]int
}

type tablesFile struct {
	Aspects []struct {
		Name       string  `yaml:"name"`
		Angle      float64 `yaml:"angle"`
		Orb        float64 `yaml:"orb"`
		Harmonious bool    `yaml:"harmonious"`
	} `yaml:"aspects"`
	SpeedRank map[string]int `yaml:"speed_rank"`
}

// DefaultTables parses the embedded aspect and speed tables.
func DefaultTables() (Tables, error) {
	return ParseTables(assets.Astro)
}

// ParseTables decodes and validates a YAML aspect table.
func ParseTables(data []byte) (Tables, error) {
	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Tables{}, fmt.Errorf("decode astro tables: %w", err)
	}
	if len(f.Aspects) == 0 {
		return Tables{}, errors.New("astro tables: no aspects")
	}

	var t Tables
	seen := map[AspectType]bool{}
	for _, a := range f.Aspects {
		typ, err := ParseAspect(a.Name)
		if err != nil {
			return Tables{}, fmt.Errorf("astro tables: %w", err)
		}
		if seen[typ] {
			return Tables{}, fmt.Errorf("astro tables: duplicate aspect %s", typ)
		}
		if a.Angle < 0 || a.Angle > 180 || a.Orb <= 0 {
			return Tables{}, fmt.Errorf("astro tables: %s has angle %.2f orb %.2f", typ, a.Angle, a.Orb)
		}
		seen[typ] = true
		t.Aspects = append(t.Aspects, AspectSpec{Type: typ, Angle: a.Angle, Orb: a.Orb, Harmonious: a.Harmonious})
	}

	for _, b := range Bodies {
		rank, ok := f.SpeedRank[b.String()]
		if !ok {
			return Tables{}, fmt.Errorf("astro tables: missing speed rank for %s", b)
		}
		t.SpeedRank[b] = rank
	}
	return t, nil
}

// Classify returns the aspect whose window contains the separation. Windows are closed:
// a separation exactly Orb away from the exact angle still matches.
func (t Tables) Classify(separation float64) (AspectSpec, bool) {
	for _, a := range t.Aspects {
		if math.Abs(separation-a.Angle) <= a.Orb {
			return a, true
		}
	}
	return AspectSpec{}, false
}

// Harmonious reports whether the aspect type is marked harmonious in the table.
func (t Tables) Harmonious(typ AspectType) bool {
	for _, a := range t.Aspects {
		if a.Type == typ {
			return a.Harmonious
		}
	}
	return false
}

// Normalize maps any angle into [0, 360).
func Normalize(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Separation returns the smaller angle between two longitudes, in [0, 180].
func Separation(a, b float64) float64 {
	d := math.Abs(Normalize(a) - Normalize(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}
