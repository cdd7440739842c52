package align

import (
	"errors"
	"testing"

	"photoz/internal/catalog"
	"photoz/internal/wcs"
)

// gridField lays n sources on an 80 px grid so every source is well
// isolated for the matcher.
func gridField(n int) [][2]float64 {
	pts := make([][2]float64, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, [2]float64{50 + 80*float64(i%40), 50 + 80*float64(i/40)})
	}
	return pts
}

// jitter adds a deterministic sub-pixel-to-1.1 px wobble per source so
// that only the true offset keeps every pair inside the 2 px tolerance.
func jitter(pts [][2]float64, shiftX, shiftY float64) [][2]float64 {
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		nx := (float64(i%5) - 2) * 0.55
		ny := (float64((i/5)%5) - 2) * 0.55
		out[i] = [2]float64{p[0] + shiftX + nx, p[1] + shiftY + ny}
	}
	return out
}

func TestSearchRecoversKnownOffset(t *testing.T) {
	ref := gridField(100)
	// input frame sits 2 px left and 1 px up: offset (+2,-1) corrects it
	in := jitter(ref, -2, +1)

	res, err := Search(ref, in, DefaultParams())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.DX != 2 || res.DY != -1 {
		t.Fatalf("got offset (%d,%d), want (2,-1)", res.DX, res.DY)
	}
	if res.Matches != 100 {
		t.Fatalf("got %d matches, want 100", res.Matches)
	}
	for k := range res.RefIdx {
		if res.RefIdx[k] != res.InIdx[k] {
			t.Fatalf("pair %d matched wrong sources: %d vs %d", k, res.RefIdx[k], res.InIdx[k])
		}
	}
}

func TestSearchTieBreakPrefersLaterOffset(t *testing.T) {
	// With zero jitter every offset whose length stays within the 2 px
	// tolerance pairs all sources, so the counts tie across that whole
	// neighbourhood. The scan runs dx outer, dy inner, ascending, and a
	// later equal count replaces the earlier one, so the last such
	// candidate (dx=+2, dy=0) must win.
	ref := gridField(60)
	res, err := Search(ref, ref, DefaultParams())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.DX != 2 || res.DY != 0 {
		t.Fatalf("tie resolved to (%d,%d), want (2,0)", res.DX, res.DY)
	}
	if res.Matches != 60 {
		t.Fatalf("got %d matches, want 60", res.Matches)
	}
}

func TestSearchIdempotentOnRegisteredFrame(t *testing.T) {
	ref := gridField(100)
	in := jitter(ref, 0, 0)
	res, err := Search(ref, in, DefaultParams())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.DX != 0 || res.DY != 0 {
		t.Fatalf("registered frame produced offset (%d,%d)", res.DX, res.DY)
	}
}

func TestSearchThreshold(t *testing.T) {
	ref := gridField(49)
	_, err := Search(ref, jitter(ref, -1, 0), DefaultParams())
	if !errors.Is(err, ErrInsufficientMatches) {
		t.Fatalf("expected ErrInsufficientMatches, got %v", err)
	}

	ref = gridField(50)
	res, err := Search(ref, jitter(ref, -1, 0), DefaultParams())
	if err != nil {
		t.Fatalf("50 matches should pass the threshold: %v", err)
	}
	if res.Matches != 50 || res.DX != 1 || res.DY != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSearchSparseOverlapSkips(t *testing.T) {
	// only 10 sources in common, the rest disjoint
	ref := gridField(100)
	in := jitter(ref[:10], -2, 1)
	_, err := Search(ref, in, DefaultParams())
	if !errors.Is(err, ErrInsufficientMatches) {
		t.Fatalf("expected skip for 10-source overlap, got %v", err)
	}
}

func TestProjectOntoReference(t *testing.T) {
	w := &wcs.WCS{
		CRPix1: 100, CRPix2: 100,
		CRVal1: 150, CRVal2: 2,
		CD: [2][2]float64{{-8.3e-6, 0}, {0, 8.3e-6}},
	}
	c := &catalog.Catalog{Sources: []catalog.Source{{X: 10, Y: 20}, {X: 150, Y: 90}}}
	pts := ProjectOntoReference(c, w, w)
	for i, s := range c.Sources {
		if dx, dy := pts[i][0]-s.X, pts[i][1]-s.Y; dx*dx+dy*dy > 1e-12 {
			t.Fatalf("identity projection moved source %d to %v", i, pts[i])
		}
	}
}
