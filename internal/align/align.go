// Package align registers a frame's source catalog against the
// reference catalog by scanning a small grid of integer pixel offsets
// and keeping the one that pairs the most sources.
package align

import (
	"errors"
	"fmt"

	"photoz/internal/catalog"
	"photoz/internal/match"
	"photoz/internal/wcs"
)

// ErrInsufficientMatches reports that no candidate offset paired enough
// sources. Callers treat it as a per-frame skip, not a pipeline failure.
var ErrInsufficientMatches = errors.New("insufficient matches")

// Params configures the search. The offset grid is inclusive on both
// ends; defaults scan dx, dy over -3..+2.
type Params struct {
	MinOffset  int
	MaxOffset  int
	MinMatches int
	Match      match.Params
}

// DefaultParams returns the standard search configuration.
func DefaultParams() Params {
	return Params{
		MinOffset:  -3,
		MaxOffset:  2,
		MinMatches: 50,
		Match:      match.DefaultParams(),
	}
}

// Result is the winning offset with the pairing it produced.
type Result struct {
	DX, DY  int
	Matches int
	RefIdx  []int // indices into the reference catalog
	InIdx   []int // parallel indices into the input catalog
}

// ProjectOntoReference maps the catalog's pixel positions through its
// own WCS onto the reference pixel grid.
func ProjectOntoReference(c *catalog.Catalog, from, onto *wcs.WCS) [][2]float64 {
	out := make([][2]float64, len(c.Sources))
	for i, s := range c.Sources {
		ra, dec := from.PixToSky(s.X, s.Y)
		x, y := onto.SkyToPix(ra, dec)
		out[i] = [2]float64{x, y}
	}
	return out
}

// Search scans the offset grid, dx outer and dy inner in ascending
// order, counting matched pairs at each candidate. A later candidate
// that equals the best count so far replaces it, so ties resolve to the
// last offset scanned; the fixed order keeps the result deterministic.
// ref holds reference-grid positions, in holds the input positions
// already projected onto that grid.
//
// When the best count falls below MinMatches the search fails with
// ErrInsufficientMatches and the caller is expected to skip the frame.
func Search(ref, in [][2]float64, p Params) (*Result, error) {
	if p.MaxOffset < p.MinOffset {
		return nil, fmt.Errorf("invalid offset grid [%d,%d]", p.MinOffset, p.MaxOffset)
	}

	bestDX, bestDY := p.MinOffset, p.MinOffset
	bestCount := -1
	for dx := p.MinOffset; dx <= p.MaxOffset; dx++ {
		for dy := p.MinOffset; dy <= p.MaxOffset; dy++ {
			refIdx, _ := match.Match(ref, in, float64(dx), float64(dy), p.Match)
			if len(refIdx) >= bestCount {
				bestCount = len(refIdx)
				bestDX, bestDY = dx, dy
			}
		}
	}

	if bestCount < p.MinMatches {
		return nil, fmt.Errorf("%w: best %d at (%+d,%+d), need %d",
			ErrInsufficientMatches, bestCount, bestDX, bestDY, p.MinMatches)
	}

	refIdx, inIdx := match.Match(ref, in, float64(bestDX), float64(bestDY), p.Match)
	return &Result{
		DX:      bestDX,
		DY:      bestDY,
		Matches: len(refIdx),
		RefIdx:  refIdx,
		InIdx:   inIdx,
	}, nil
}
