package tasks

import (
	"context"
	"math"
	"testing"

	"photoz/internal/catalog"
	"photoz/internal/fits"
	"photoz/internal/wcs"
)

// tweakField builds a synthetic registered field under dir: an f444w
// reference frame plus an f200w frame whose catalog sits at a known
// integer offset, both sharing the same nominal WCS.
func tweakField(t *testing.T, dir string) []Frame {
	t.Helper()
	w := testWCS(32, 32)

	// 60 reference sources on an 8 px grid
	var refPos [][2]float64
	for i := 0; len(refPos) < 60; i++ {
		refPos = append(refPos, [2]float64{float64(4 + 8*(i%8)), float64(4 + 8*(i/8))})
	}

	ref := Frame{Field: "ceers", Filter: "f444w", Wave: 444}
	in := Frame{Field: "ceers", Filter: "f200w", Wave: 200}

	writeTweakFrame(t, dir, ref, w, refPos)

	// shift by (-2,+1) with sub-pixel scatter so only the true offset
	// pairs every source
	inPos := make([][2]float64, len(refPos))
	for i, p := range refPos {
		nx := float64(i%5-2) * 0.55
		ny := float64((i/5)%5-2) * 0.55
		inPos[i] = [2]float64{p[0] - 2 + nx, p[1] + 1 + ny}
	}
	writeTweakFrame(t, dir, in, w, inPos)

	return []Frame{in, ref}
}

func writeTweakFrame(t *testing.T, dir string, frame Frame, w *wcs.WCS, pos [][2]float64) {
	t.Helper()
	sci := flatImage(64, 64, 1)
	w.ToHeader(sci.Header)
	if err := fits.WriteFile(frame.SciPath(dir), sci); err != nil {
		t.Fatal(err)
	}
	wht := flatImage(64, 64, 1)
	w.ToHeader(wht.Header)
	if err := fits.WriteFile(frame.WhtPath(dir), wht); err != nil {
		t.Fatal(err)
	}

	cat := &catalog.Catalog{Filter: frame.Filter}
	for i, p := range pos {
		ra, dec := w.PixToSky(p[0], p[1])
		cat.Sources = append(cat.Sources, catalog.Source{
			ID: i + 1, X: p[0], Y: p[1], RA: ra, Dec: dec,
			Flux: 900, Mag: 20.5, Area: 9,
		})
	}
	if err := catalog.WriteFile(frame.CatalogPath(dir), cat); err != nil {
		t.Fatal(err)
	}
}

func TestTweakFieldRegistersFrame(t *testing.T) {
	dir := t.TempDir()
	frames := tweakField(t, dir)

	results, err := TweakField(context.Background(), frames, dir, DefaultTweakParams(), discardLog())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	res := results[0]
	if res.Skipped {
		t.Fatalf("frame skipped: %s", res.SkipReason)
	}
	if res.DX != 2 || res.DY != -1 {
		t.Fatalf("offset (%d,%d), want (2,-1)", res.DX, res.DY)
	}
	if res.Matches != 60 {
		t.Fatalf("matched %d sources, want 60", res.Matches)
	}
	if res.RMS <= 0 || res.RMS > 2 {
		t.Fatalf("fit rms %v out of range", res.RMS)
	}

	// the frame now lives on the reference grid
	img, w, err := loadSci(frames[0].SciPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if img.Width != 64 || img.Height != 64 {
		t.Fatalf("output is %dx%d", img.Width, img.Height)
	}
	refWCS := testWCS(32, 32)
	if math.Abs(w.CRPix1-refWCS.CRPix1) > 1e-9 || math.Abs(w.CRVal1-refWCS.CRVal1) > 1e-9 {
		t.Fatalf("output WCS %+v does not match reference", w)
	}
	if v := img.At(32, 32); math.Abs(float64(v)-1) > 1e-3 {
		t.Fatalf("interior pixel %v, want 1", v)
	}
}

func TestTweakFieldSkipsSparseFrame(t *testing.T) {
	dir := t.TempDir()
	frames := tweakField(t, dir)

	// a frame whose catalog only overlaps the reference in 10 sources
	sparse := Frame{Field: "ceers", Filter: "f115w", Wave: 115}
	var pos [][2]float64
	for i := 0; i < 10; i++ {
		pos = append(pos, [2]float64{float64(4 + 6*i), 4})
	}
	writeTweakFrame(t, dir, sparse, testWCS(32, 32), pos)
	frames = append(frames, sparse)

	results, err := TweakField(context.Background(), frames, dir, DefaultTweakParams(), discardLog())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	var sparseRes *TweakFrameResult
	for i := range results {
		if results[i].Frame.Filter == "f115w" {
			sparseRes = &results[i]
		}
	}
	if sparseRes == nil {
		t.Fatal("no result for the sparse frame")
	}
	if !sparseRes.Skipped || sparseRes.SkipReason == "" {
		t.Fatalf("sparse frame not skipped: %+v", sparseRes)
	}
	// the other frame still registered
	for _, r := range results {
		if r.Frame.Filter == "f200w" && r.Skipped {
			t.Fatal("good frame skipped alongside the sparse one")
		}
	}
}

func TestTweakFieldRequiresReference(t *testing.T) {
	dir := t.TempDir()
	frames := []Frame{{Field: "ceers", Filter: "f200w", Wave: 200}}
	if _, err := TweakField(context.Background(), frames, dir, DefaultTweakParams(), discardLog()); err == nil {
		t.Fatal("expected error without the reference filter")
	}
}
