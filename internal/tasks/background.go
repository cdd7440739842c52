package tasks

import (
	"math"
	"sort"

	"photoz/internal/fits"
)

// BackgroundParams controls the 2-D mesh background estimate.
type BackgroundParams struct {
	BoxSize    int // mesh cell size in pixels
	FilterSize int // median filter applied to the mesh, must be odd
	SigmaClip  float64
	ClipIters  int
}

// DefaultBackgroundParams returns the mesh settings used for NIRCam
// mosaics: 64 px boxes smoothed with a 3x3 median filter.
func DefaultBackgroundParams() BackgroundParams {
	return BackgroundParams{BoxSize: 64, FilterSize: 3, SigmaClip: 3, ClipIters: 5}
}

// EstimateBackground computes a low-resolution background mesh from
// sigma-clipped cell medians, median-filters it, and interpolates it
// back to the full image grid.
func EstimateBackground(img *fits.Image, p BackgroundParams) []float32 {
	if p.BoxSize <= 0 {
		p = DefaultBackgroundParams()
	}
	nx := (img.Width + p.BoxSize - 1) / p.BoxSize
	ny := (img.Height + p.BoxSize - 1) / p.BoxSize

	mesh := make([]float64, nx*ny)
	cell := make([]float64, 0, p.BoxSize*p.BoxSize)
	for cy := 0; cy < ny; cy++ {
		for cx := 0; cx < nx; cx++ {
			cell = cell[:0]
			for y := cy * p.BoxSize; y < (cy+1)*p.BoxSize && y < img.Height; y++ {
				for x := cx * p.BoxSize; x < (cx+1)*p.BoxSize && x < img.Width; x++ {
					v := float64(img.At(x, y))
					if !math.IsNaN(v) {
						cell = append(cell, v)
					}
				}
			}
			mesh[cy*nx+cx] = clippedMedian(cell, p.SigmaClip, p.ClipIters)
		}
	}

	if p.FilterSize > 1 {
		mesh = medianFilter2D(mesh, nx, ny, p.FilterSize)
	}

	// bilinear interpolation from cell centers back to pixels
	out := make([]float32, img.Width*img.Height)
	half := float64(p.BoxSize) / 2
	for y := 0; y < img.Height; y++ {
		gy := (float64(y) - half + 0.5) / float64(p.BoxSize)
		y0 := int(math.Floor(gy))
		fy := gy - float64(y0)
		y1 := y0 + 1
		y0 = clampIdx(y0, ny)
		y1 = clampIdx(y1, ny)
		for x := 0; x < img.Width; x++ {
			gx := (float64(x) - half + 0.5) / float64(p.BoxSize)
			x0 := int(math.Floor(gx))
			fx := gx - float64(x0)
			x1 := x0 + 1
			x0 = clampIdx(x0, nx)
			x1 = clampIdx(x1, nx)

			v := mesh[y0*nx+x0]*(1-fx)*(1-fy) +
				mesh[y0*nx+x1]*fx*(1-fy) +
				mesh[y1*nx+x0]*(1-fx)*fy +
				mesh[y1*nx+x1]*fx*fy
			out[y*img.Width+x] = float32(v)
		}
	}
	return out
}

// SubtractBackground returns a copy of img with the mesh background
// removed. The input image is left untouched.
func SubtractBackground(img *fits.Image, p BackgroundParams) (*fits.Image, []float32) {
	bkg := EstimateBackground(img, p)
	out := &fits.Image{
		Name:   img.Name,
		Width:  img.Width,
		Height: img.Height,
		Header: img.Header,
		Data:   make([]float32, len(img.Data)),
	}
	for i, v := range img.Data {
		out.Data[i] = v - bkg[i]
	}
	return out, bkg
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// clippedMedian iteratively rejects samples beyond k sigma of the
// median before returning the final median. Empty cells give 0.
func clippedMedian(vals []float64, k float64, iters int) float64 {
	if len(vals) == 0 {
		return 0
	}
	work := append([]float64(nil), vals...)
	for iter := 0; iter < iters; iter++ {
		med := median(work)
		std := stddevAbout(work, med)
		if std == 0 {
			return med
		}
		kept := work[:0]
		for _, v := range work {
			if math.Abs(v-med) <= k*std {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(work) || len(kept) == 0 {
			break
		}
		work = kept
	}
	return median(work)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func stddevAbout(vals []float64, center float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		d := v - center
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

func medianFilter2D(mesh []float64, nx, ny, size int) []float64 {
	half := size / 2
	out := make([]float64, len(mesh))
	var window []float64
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			window = window[:0]
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					yy := clampIdx(y+dy, ny)
					xx := clampIdx(x+dx, nx)
					window = append(window, mesh[yy*nx+xx])
				}
			}
			out[y*nx+x] = median(window)
		}
	}
	return out
}
