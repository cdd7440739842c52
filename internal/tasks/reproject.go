package tasks

import (
	"math"

	"photoz/internal/fits"
	"photoz/internal/wcs"
)

// Reproject interpolates src onto the pixel grid described by dstWCS
// with the given shape. Pixels that fall outside the source footprint
// become NaN. Interpolation is bilinear; srcWCS describes the source
// frame as-is.
func Reproject(src *fits.Image, srcWCS, dstWCS *wcs.WCS, width, height int) *fits.Image {
	out := &fits.Image{
		Name:   src.Name,
		Width:  width,
		Height: height,
		Header: src.Header,
		Data:   make([]float32, width*height),
	}
	nan := float32(math.NaN())

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ra, dec := dstWCS.PixToSky(float64(x), float64(y))
			sx, sy := srcWCS.SkyToPix(ra, dec)
			out.Data[y*width+x] = sampleBilinear(src, sx, sy, nan)
		}
	}
	return out
}

func sampleBilinear(img *fits.Image, x, y float64, fill float32) float32 {
	// the sky round trip wobbles at the 1e-10 px level, snap to the
	// grid so edge pixels stay inside the footprint
	const eps = 1e-6
	if r := math.Round(x); math.Abs(x-r) < eps {
		x = r
	}
	if r := math.Round(y); math.Abs(y-r) < eps {
		y = r
	}
	if x < 0 || y < 0 || x > float64(img.Width-1) || y > float64(img.Height-1) {
		return fill
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= img.Width {
		x1 = x0
	}
	if y1 >= img.Height {
		y1 = y0
	}
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))

	v00 := img.At(x0, y0)
	v10 := img.At(x1, y0)
	v01 := img.At(x0, y1)
	v11 := img.At(x1, y1)
	if isNaN32(v00) || isNaN32(v10) || isNaN32(v01) || isNaN32(v11) {
		return fill
	}
	return v00*(1-fx)*(1-fy) + v10*fx*(1-fy) + v01*(1-fx)*fy + v11*fx*fy
}
