package wcs

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pair ties a pixel position in the frame being fitted to the sky
// position of its matched reference source.
type Pair struct {
	X, Y    float64 // zero-based pixel in the input frame
	RA, Dec float64 // degrees
}

// FitTAN solves for the TAN WCS that best maps the pixel positions of
// pairs onto their sky positions, by linear least squares in the tangent
// plane. initial supplies the tangent point; the CD matrix and reference
// pixel are free parameters (general geometry: shift, rotation, scale
// and skew). At least three pairs are required.
func FitTAN(pairs []Pair, initial *WCS) (*WCS, error) {
	if len(pairs) < 3 {
		return nil, fmt.Errorf("wcs fit needs at least 3 matched pairs, have %d", len(pairs))
	}

	tangent := &WCS{
		CRVal1: initial.CRVal1,
		CRVal2: initial.CRVal2,
		CD:     [2][2]float64{{1, 0}, {0, 1}},
		CRPix1: 1,
		CRPix2: 1,
	}

	// u = a*x + b*y + e ; v = c*x + d*y + f
	n := len(pairs)
	a := mat.NewDense(2*n, 6, nil)
	b := mat.NewVecDense(2*n, nil)
	for i, p := range pairs {
		u, v := tangent.project(p.RA, p.Dec)
		a.Set(2*i, 0, p.X)
		a.Set(2*i, 1, p.Y)
		a.Set(2*i, 2, 1)
		b.SetVec(2*i, u)
		a.Set(2*i+1, 3, p.X)
		a.Set(2*i+1, 4, p.Y)
		a.Set(2*i+1, 5, 1)
		b.SetVec(2*i+1, v)
	}

	var qr mat.QR
	qr.Factorize(a)
	x := mat.NewVecDense(6, nil)
	if err := qr.SolveVecTo(x, false, b); err != nil {
		return nil, fmt.Errorf("wcs least squares: %w", err)
	}

	cd := [2][2]float64{
		{x.AtVec(0), x.AtVec(1)},
		{x.AtVec(3), x.AtVec(4)},
	}
	det := cd[0][0]*cd[1][1] - cd[0][1]*cd[1][0]
	if math.Abs(det) < 1e-18 {
		return nil, fmt.Errorf("wcs fit degenerate: singular CD matrix")
	}

	// Place CRPIX where the tangent-plane coordinates vanish:
	// CD * (crpix_zero) = -(e, f)
	e, f := x.AtVec(2), x.AtVec(5)
	px := -(cd[1][1]*e - cd[0][1]*f) / det
	py := -(-cd[1][0]*e + cd[0][0]*f) / det

	return &WCS{
		CRPix1: px + 1,
		CRPix2: py + 1,
		CRVal1: initial.CRVal1,
		CRVal2: initial.CRVal2,
		CD:     cd,
	}, nil
}

// Residuals returns the RMS pixel distance between the fitted positions
// and the matched sky positions under w.
func Residuals(w *WCS, pairs []Pair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		px, py := w.SkyToPix(p.RA, p.Dec)
		sum += (px-p.X)*(px-p.X) + (py-p.Y)*(py-p.Y)
	}
	return math.Sqrt(sum / float64(len(pairs)))
}
