package match

import (
	"math/rand"
	"testing"
)

func TestMatchIdenticalCatalogs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var pts [][2]float64
	for i := 0; i < 60; i++ {
		pts = append(pts, [2]float64{rng.Float64() * 4000, rng.Float64() * 4000})
	}
	refIdx, inIdx := Match(pts, pts, 0, 0, DefaultParams())
	if len(refIdx) != len(inIdx) {
		t.Fatalf("index slices differ: %d vs %d", len(refIdx), len(inIdx))
	}
	// all well-separated sources should self-match
	if len(refIdx) < 55 {
		t.Fatalf("too few matches: %d", len(refIdx))
	}
	for k := range refIdx {
		if refIdx[k] != inIdx[k] {
			t.Fatalf("pair %d: ref %d != in %d", k, refIdx[k], inIdx[k])
		}
	}
}

func TestMatchAppliesOffset(t *testing.T) {
	ref := [][2]float64{{100, 100}, {200, 150}, {300, 400}}
	in := [][2]float64{{98, 101}, {198, 151}, {298, 401}}
	// input shifted by (-2,+1) relative to reference: offset (2,-1) aligns
	refIdx, _ := Match(ref, in, 2, -1, DefaultParams())
	if len(refIdx) != 3 {
		t.Fatalf("expected 3 matches with correcting offset, got %d", len(refIdx))
	}
	refIdx, _ = Match(ref, in, -2, 1, DefaultParams())
	if len(refIdx) != 0 {
		t.Fatalf("expected 0 matches with wrong offset, got %d", len(refIdx))
	}
}

func TestMatchRespectsTolerance(t *testing.T) {
	ref := [][2]float64{{50, 50}}
	in := [][2]float64{{52.5, 50}}
	p := DefaultParams()
	if refIdx, _ := Match(ref, in, 0, 0, p); len(refIdx) != 0 {
		t.Fatal("match beyond tolerance")
	}
	in[0][0] = 51.5
	if refIdx, _ := Match(ref, in, 0, 0, p); len(refIdx) != 1 {
		t.Fatal("match within tolerance missed")
	}
}

func TestMatchDropsCrowdedSources(t *testing.T) {
	// two reference sources 0.5 px apart violate the separation cut
	ref := [][2]float64{{10, 10}, {10.5, 10}, {100, 100}}
	in := [][2]float64{{10, 10}, {100, 100}}
	refIdx, inIdx := Match(ref, in, 0, 0, DefaultParams())
	if len(refIdx) != 1 || refIdx[0] != 2 || inIdx[0] != 1 {
		t.Fatalf("crowded pair not excluded: ref=%v in=%v", refIdx, inIdx)
	}
}

func TestMatchEachReferenceUsedOnce(t *testing.T) {
	ref := [][2]float64{{10, 10}}
	in := [][2]float64{{9.5, 10}, {11.5, 10}}
	refIdx, inIdx := Match(ref, in, 0, 0, DefaultParams())
	if len(refIdx) != 1 {
		t.Fatalf("expected single match, got %d", len(refIdx))
	}
	if inIdx[0] != 0 {
		t.Fatalf("expected first input source to claim the reference, got %d", inIdx[0])
	}
}
