package tasks

import (
	"math"

	"photoz/internal/catalog"
	"photoz/internal/fits"
	"photoz/internal/wcs"
)

// ExtractParams controls source detection.
type ExtractParams struct {
	SigmaThreshold float64 // detection threshold in units of the sky sigma
	MinArea        int     // minimum connected pixels per source
	MaxArea        int     // reject blobs larger than this, 0 disables
}

// DefaultExtractParams returns the detection settings used for the
// registration catalogs.
func DefaultExtractParams() ExtractParams {
	return ExtractParams{SigmaThreshold: 1.5, MinArea: 5, MaxArea: 0}
}

// ExtractSources detects connected pixel groups above the sky noise in
// a background-subtracted frame and returns their flux-weighted
// centroids as a catalog. zeropoint converts isophotal flux to AB
// magnitudes; when w is non-nil each source also gets sky coordinates.
func ExtractSources(img *fits.Image, zeropoint float64, w *wcs.WCS, p ExtractParams) *catalog.Catalog {
	if p.SigmaThreshold <= 0 {
		p = DefaultExtractParams()
	}

	sky, sigma := skyStats(img.Data)
	threshold := float32(sky + p.SigmaThreshold*sigma)

	width, height := img.Width, img.Height
	labels := make([]int32, len(img.Data))
	cat := &catalog.Catalog{}
	next := int32(0)

	var stack [][2]int
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if labels[i] != 0 || img.Data[i] <= threshold || isNaN32(img.Data[i]) {
				continue
			}

			next++
			labels[i] = next
			stack = stack[:0]
			stack = append(stack, [2]int{x, y})

			var sumF, sumX, sumY float64
			area := 0
			for len(stack) > 0 {
				px := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := px[0], px[1]
				v := float64(img.At(cx, cy)) - sky
				if v < 0 {
					v = 0
				}
				sumF += v
				sumX += v * float64(cx)
				sumY += v * float64(cy)
				area++

				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := cx+dx, cy+dy
						if nx < 0 || ny < 0 || nx >= width || ny >= height {
							continue
						}
						j := ny*width + nx
						if labels[j] != 0 || img.Data[j] <= threshold || isNaN32(img.Data[j]) {
							continue
						}
						labels[j] = next
						stack = append(stack, [2]int{nx, ny})
					}
				}
			}

			if area < p.MinArea || (p.MaxArea > 0 && area > p.MaxArea) || sumF <= 0 {
				continue
			}

			s := catalog.Source{
				ID:   len(cat.Sources) + 1,
				X:    sumX / sumF,
				Y:    sumY / sumF,
				Flux: sumF,
				Area: area,
			}
			s.Mag = zeropoint - 2.5*math.Log10(sumF)
			// noise over the isophotal footprint, in magnitudes
			noise := sigma * math.Sqrt(float64(area))
			s.MagErr = 1.0857 * noise / sumF
			if w != nil {
				s.RA, s.Dec = w.PixToSky(s.X, s.Y)
			}
			cat.Sources = append(cat.Sources, s)
		}
	}
	return cat
}

// skyStats estimates the sky level and noise with iterative 3-sigma
// clipping about the median.
func skyStats(data []float32) (sky, sigma float64) {
	vals := make([]float64, 0, len(data))
	for _, v := range data {
		if !isNaN32(v) {
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	for iter := 0; iter < 5; iter++ {
		med := median(vals)
		std := stddevAbout(vals, med)
		if std == 0 {
			return med, 0
		}
		kept := vals[:0]
		for _, v := range vals {
			if math.Abs(v-med) <= 3*std {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(vals) {
			return med, std
		}
		vals = kept
	}
	med := median(vals)
	return med, stddevAbout(vals, med)
}

func isNaN32(v float32) bool { return v != v }
