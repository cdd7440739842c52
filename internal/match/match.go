// Package match pairs sources between two catalogs projected onto a
// common pixel grid.
package match

import "math"

// Params controls the pairing. Defaults mirror the values used for
// JWST NIRCam mosaics: a 10 px coarse radius, unique sources separated
// by at least 1 px, and a 2 px final tolerance.
type Params struct {
	SearchRad  float64
	Separation float64
	Tolerance  float64
}

// DefaultParams returns the standard matching parameters.
func DefaultParams() Params {
	return Params{SearchRad: 10, Separation: 1, Tolerance: 2}
}

// Match pairs reference positions with input positions, both expressed
// on the reference pixel grid, after shifting the input by (dx, dy).
// Sources closer than Separation to a neighbour in their own catalog
// are discarded first; each surviving input source is then paired
// greedily, in catalog order, with the nearest unused reference source
// within Tolerance. The returned index slices are parallel.
func Match(ref, in [][2]float64, dx, dy float64, p Params) (refIdx, inIdx []int) {
	if p.Tolerance <= 0 {
		p = DefaultParams()
	}

	refOK := isolated(ref, p.Separation)
	inOK := isolated(in, p.Separation)

	cell := p.SearchRad
	if cell < p.Tolerance {
		cell = p.Tolerance
	}
	grid := buildGrid(ref, refOK, cell)

	used := make([]bool, len(ref))
	for i, pt := range in {
		if !inOK[i] {
			continue
		}
		x := pt[0] + dx
		y := pt[1] + dy

		best := -1
		bestD2 := p.Tolerance * p.Tolerance
		cx, cy := int(math.Floor(x/cell)), int(math.Floor(y/cell))
		for gx := cx - 1; gx <= cx+1; gx++ {
			for gy := cy - 1; gy <= cy+1; gy++ {
				for _, j := range grid[gridKey{gx, gy}] {
					if used[j] {
						continue
					}
					ddx := ref[j][0] - x
					ddy := ref[j][1] - y
					d2 := ddx*ddx + ddy*ddy
					if d2 <= bestD2 {
						// on an exact tie keep the lower-index reference
						if d2 == bestD2 && best >= 0 && j > best {
							continue
						}
						best = j
						bestD2 = d2
					}
				}
			}
		}
		if best >= 0 {
			used[best] = true
			refIdx = append(refIdx, best)
			inIdx = append(inIdx, i)
		}
	}
	return refIdx, inIdx
}

// isolated flags positions with no neighbour closer than sep in the
// same catalog. sep <= 0 keeps everything.
func isolated(pts [][2]float64, sep float64) []bool {
	ok := make([]bool, len(pts))
	for i := range ok {
		ok[i] = true
	}
	if sep <= 0 {
		return ok
	}
	sep2 := sep * sep
	grid := make(map[gridKey][]int)
	for i, pt := range pts {
		k := gridKey{int(math.Floor(pt[0] / sep)), int(math.Floor(pt[1] / sep))}
		grid[k] = append(grid[k], i)
	}
	for i, pt := range pts {
		cx, cy := int(math.Floor(pt[0]/sep)), int(math.Floor(pt[1]/sep))
		for gx := cx - 1; gx <= cx+1 && ok[i]; gx++ {
			for gy := cy - 1; gy <= cy+1 && ok[i]; gy++ {
				for _, j := range grid[gridKey{gx, gy}] {
					if j == i {
						continue
					}
					dx := pts[j][0] - pt[0]
					dy := pts[j][1] - pt[1]
					if dx*dx+dy*dy < sep2 {
						ok[i] = false
						ok[j] = false
						break
					}
				}
			}
		}
	}
	return ok
}

type gridKey struct{ x, y int }

func buildGrid(pts [][2]float64, ok []bool, cell float64) map[gridKey][]int {
	grid := make(map[gridKey][]int)
	for i, pt := range pts {
		if !ok[i] {
			continue
		}
		k := gridKey{int(math.Floor(pt[0] / cell)), int(math.Floor(pt[1] / cell))}
		grid[k] = append(grid[k], i)
	}
	return grid
}
