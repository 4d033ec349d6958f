// Package astro computes transit-to-natal aspects between the seven classical bodies and
// ranks them by significance.
package astro

import (
	"fmt"
	"strings"
)

// Body is one of the seven reference bodies. The declaration order is the fixed priority
// used to break ranking ties.
type Body int

const (
	Sun Body = iota
	Moon
	Mercury
	Venus
	Mars
	Jupiter
	Saturn

	numBodies = int(Saturn) + 1
)

// Bodies lists every reference body in priority order.
var Bodies = [numBodies]Body{Sun, Moon, Mercury, Venus, Mars, Jupiter, Saturn}

var bodyNames = [numBodies]string{"sun", "moon", "mercury", "venus", "mars", "jupiter", "saturn"}

func (b Body) String() string {
	if b < 0 || int(b) >= numBodies {
		return fmt.Sprintf("body(%d)", int(b))
	}
	return bodyNames[b]
}

// ParseBody maps a lower-case body name to its Body.
func ParseBody(s string) (Body, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range bodyNames {
		if n == s {
			return Body(i), nil
		}
	}
	return 0, fmt.Errorf("unknown body %q", s)
}

// Longitudes holds one ecliptic longitude in degrees per body, indexed by Body.
type Longitudes [numBodies]float64

// Element is the classical element of a zodiac sign.
type Element int

const (
	Fire Element = iota
	Earth
	Air
	Water
)

var elementNames = [...]string{"fire", "earth", "air", "water"}

func (e Element) String() string {
	if e < 0 || int(e) >= len(elementNames) {
		return fmt.Sprintf("element(%d)", int(e))
	}
	return elementNames[e]
}

// SignIndex returns the zodiac sign (0 = Aries … 11 = Pisces) containing lon.
func SignIndex(lon float64) int {
	return int(Normalize(lon)/30) % 12
}

// ElementOf returns the element of the sign containing lon. Signs cycle
// fire, earth, air, water starting from Aries.
func ElementOf(lon float64) Element {
	return Element(SignIndex(lon) % 4)
}
