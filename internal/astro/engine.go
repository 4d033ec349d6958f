package astro

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Status tells the caller whether a Ranking carries matches.
type Status int

const (
	StatusOK Status = iota
	StatusUnavailable
	StatusInvalidInput
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusInvalidInput:
		return "invalid_input"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// AspectMatch is one transit-to-natal aspect that fell inside its orb.
type AspectMatch struct {
	Transiting Body
	Natal      Body
	Aspect     AspectType
	Separation float64 // degrees, [0, 180]
	Exact      float64 // exact angle of Aspect
	Weight     float64
}

// Deviation is the distance from the exact aspect angle.
func (m AspectMatch) Deviation() float64 {
	return math.Abs(m.Separation - m.Exact)
}

// Ranking is the result of one computation. Matches and NatalSun are meaningful only when
// Status is StatusOK.
type Ranking struct {
	Status   Status
	Matches  []AspectMatch
	NatalSun float64
}

// Engine ranks transit aspects against a natal chart.
type Engine struct {
	src     EphemerisSource
	tables  Tables
	timeout time.Duration
	log     *zap.Logger
}

// NewEngine builds an engine. A non-positive timeout disables the per-call bound.
func NewEngine(src EphemerisSource, tables Tables, timeout time.Duration, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{src: src, tables: tables, timeout: timeout, log: log}
}

// Tables returns the aspect table the engine ranks with.
func (e *Engine) Tables() Tables { return e.tables }

// ComputeRanking computes natal longitudes at birth and transit longitudes at target and
// ranks every pair that forms an aspect. It never fails: a zero birth instant yields
// StatusInvalidInput and any ephemeris failure or timeout yields StatusUnavailable.
func (e *Engine) ComputeRanking(ctx context.Context, birth, target time.Time) Ranking {
	if birth.IsZero() || target.IsZero() {
		return Ranking{Status: StatusInvalidInput}
	}
	natal, err := e.longitudes(ctx, birth)
	if err != nil {
		e.log.Warn("natal longitudes unavailable", zap.Error(err))
		return Ranking{Status: StatusUnavailable}
	}
	transit, err := e.longitudes(ctx, target)
	if err != nil {
		e.log.Warn("transit longitudes unavailable", zap.Error(err))
		return Ranking{Status: StatusUnavailable}
	}
	return Ranking{
		Status:   StatusOK,
		Matches:  Rank(natal, transit, e.tables),
		NatalSun: natal[Sun],
	}
}

// longitudes queries every body at t under a single bounded deadline. The query runs on its
// own goroutine so a source that ignores ctx still cannot hold the caller past the deadline.
func (e *Engine) longitudes(ctx context.Context, t time.Time) (Longitudes, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		lons Longitudes
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		for _, b := range Bodies {
			lon, err := e.src.LongitudeOf(ctx, b, t)
			if err != nil {
				r.err = fmt.Errorf("%s at %s: %w", b, t.UTC().Format(time.RFC3339), err)
				break
			}
			if math.IsNaN(lon) || math.IsInf(lon, 0) {
				r.err = fmt.Errorf("%s at %s: %w: non-finite longitude", b, t.UTC().Format(time.RFC3339), ErrUnavailable)
				break
			}
			r.lons[b] = Normalize(lon)
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r.lons, r.err
	case <-ctx.Done():
		return Longitudes{}, errors.Join(ErrUnavailable, ctx.Err())
	}
}

// Rank pairs every transiting body with every natal body, keeps pairs inside an aspect
// window and orders them by weight. Equal weights fall back to transiting body priority,
// then natal body priority, then aspect order, so identical inputs give identical output.
func Rank(natal, transit Longitudes, tables Tables) []AspectMatch {
	var out []AspectMatch
	for _, tb := range Bodies {
		for _, nb := range Bodies {
			sep := Separation(transit[tb], natal[nb])
			spec, ok := tables.Classify(sep)
			if !ok {
				continue
			}
			tightness := (spec.Orb - math.Abs(sep-spec.Angle)) / spec.Orb
			out = append(out, AspectMatch{
				Transiting: tb,
				Natal:      nb,
				Aspect:     spec.Type,
				Separation: sep,
				Exact:      spec.Angle,
				Weight:     float64(tables.SpeedRank[tb]) + tightness,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Transiting != b.Transiting {
			return a.Transiting < b.Transiting
		}
		if a.Natal != b.Natal {
			return a.Natal < b.Natal
		}
		return a.Aspect < b.Aspect
	})
	return out
}
