package astro

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrUnavailable reports that an ephemeris source could not produce a longitude.
var ErrUnavailable = errors.New("ephemeris unavailable")

// EphemerisSource yields the geocentric ecliptic longitude of a body at an instant.
type EphemerisSource interface {
	LongitudeOf(ctx context.Context, body Body, instant time.Time) (float64, error)
}

// KeplerSource computes longitudes from mean orbital elements (J2000 ecliptic, valid
// 1800–2050 to well under a degree for the planets) and a truncated lunar series. It needs
// no data files and never blocks.
type KeplerSource struct{}

// keplerElements holds J2000 values and per-century rates:
// semi-major axis (au), eccentricity, inclination, mean longitude,
// longitude of perihelion, longitude of ascending node (degrees).
type keplerElements struct {
	a, e, i, l, peri, node       float64
	da, de, di, dl, dperi, dnode float64
}

var (
	earthElements = keplerElements{
		1.00000261, 0.01671123, -0.00001531, 100.46457166, 102.93768193, 0.0,
		0.00000562, -0.00004392, -0.01294668, 35999.37244981, 0.32327364, 0.0,
	}
	planetElements = map[Body]keplerElements{
		Mercury: {
			0.38709927, 0.20563593, 7.00497902, 252.25032350, 77.45779628, 48.33076593,
			0.00000037, 0.00001906, -0.00594749, 149472.67411175, 0.16047689, -0.12534081,
		},
		Venus: {
			0.72333566, 0.00677672, 3.39467605, 181.97909950, 131.60246718, 76.67984255,
			0.00000390, -0.00004107, -0.00078890, 58517.81538729, 0.00268329, -0.27769418,
		},
		Mars: {
			1.52371034, 0.09339410, 1.84969142, -4.55343205, -23.94362959, 49.55953891,
			0.00001847, 0.00007882, -0.00813131, 19140.30268499, 0.44441088, -0.29257343,
		},
		Jupiter: {
			5.20288700, 0.04838624, 1.30439695, 34.39644051, 14.72847983, 100.47390909,
			-0.00011607, -0.00013253, -0.00183714, 3034.74612775, 0.21252668, 0.20469106,
		},
		Saturn: {
			9.53667594, 0.05386179, 2.48599187, 49.95424423, 92.59887831, 113.66242448,
			-0.00125060, -0.00050991, 0.00193609, 1222.49362201, -0.41897216, -0.28867794,
		},
	}
)

// LongitudeOf implements EphemerisSource.
func (KeplerSource) LongitudeOf(ctx context.Context, body Body, instant time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if instant.IsZero() {
		return 0, fmt.Errorf("%w: zero instant", ErrUnavailable)
	}
	T := julianCenturies(instant)

	switch body {
	case Moon:
		return moonLongitude(T), nil
	case Sun:
		ex, ey, _ := heliocentric(earthElements, T)
		return Normalize(deg(math.Atan2(-ey, -ex))), nil
	}

	el, ok := planetElements[body]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported body %s", ErrUnavailable, body)
	}
	px, py, _ := heliocentric(el, T)
	ex, ey, _ := heliocentric(earthElements, T)
	return Normalize(deg(math.Atan2(py-ey, px-ex))), nil
}

// julianCenturies returns centuries since J2000.0 (UT, ΔT ignored).
func julianCenturies(t time.Time) float64 {
	t = t.UTC()
	jd := (float64(t.Unix())+float64(t.Nanosecond())/1e9)/86400.0 + 2440587.5
	return (jd - 2451545.0) / 36525.0
}

func heliocentric(el keplerElements, T float64) (x, y, z float64) {
	a := el.a + el.da*T
	e := el.e + el.de*T
	inc := rad(el.i + el.di*T)
	L := el.l + el.dl*T
	peri := el.peri + el.dperi*T
	node := el.node + el.dnode*T

	omega := rad(peri - node)
	M := rad(Normalize(L - peri))
	E := solveKepler(M, e)

	xp := a * (math.Cos(E) - e)
	yp := a * math.Sqrt(1-e*e) * math.Sin(E)

	cw, sw := math.Cos(omega), math.Sin(omega)
	cn, sn := math.Cos(rad(node)), math.Sin(rad(node))
	ci, si := math.Cos(inc), math.Sin(inc)

	x = (cw*cn-sw*sn*ci)*xp + (-sw*cn-cw*sn*ci)*yp
	y = (cw*sn+sw*cn*ci)*xp + (-sw*sn+cw*cn*ci)*yp
	z = (sw*si)*xp + (cw*si)*yp
	return x, y, z
}

// solveKepler solves E - e·sin E = M by Newton iteration (radians).
func solveKepler(M, e float64) float64 {
	E := M + e*math.Sin(M)
	for i := 0; i < 30; i++ {
		dE := (E - e*math.Sin(E) - M) / (1 - e*math.Cos(E))
		E -= dE
		if math.Abs(dE) < 1e-12 {
			break
		}
	}
	return E
}

// moonLongitude uses the six largest periodic terms of the lunar theory (~0.3° accuracy).
func moonLongitude(T float64) float64 {
	Lp := 218.3164477 + 481267.88123421*T
	D := rad(297.8501921 + 445267.1114034*T)
	M := rad(357.5291092 + 35999.0502909*T)
	Mp := rad(134.9633964 + 477198.8675055*T)
	F := rad(93.2720950 + 483202.0175233*T)

	lon := Lp +
		6.289*math.Sin(Mp) +
		1.274*math.Sin(2*D-Mp) +
		0.658*math.Sin(2*D) +
		0.214*math.Sin(2*Mp) -
		0.186*math.Sin(M) -
		0.114*math.Sin(2*F)
	return Normalize(lon)
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
