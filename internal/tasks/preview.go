package tasks

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/gographics/imagick.v3/imagick"

	"photoz/internal/fits"
)

// PreviewParams controls the stretch applied when rendering a science
// frame to PNG.
type PreviewParams struct {
	// LowPercentile and HighPercentile set the black and white points.
	LowPercentile  float64
	HighPercentile float64
	// Gamma softens the midtones after the linear stretch.
	Gamma float64
}

// DefaultPreviewParams returns a stretch that works for typical
// background-subtracted frames.
func DefaultPreviewParams() PreviewParams {
	return PreviewParams{LowPercentile: 0.25, HighPercentile: 0.998, Gamma: 0.45}
}

// PreviewFrame renders the image at path to an 8-bit grayscale PNG at
// outPath using a percentile stretch.
func PreviewFrame(path, outPath string, p PreviewParams) error {
	img, _, err := loadSciLoose(path)
	if err != nil {
		return err
	}
	pixels := stretchToBytes(img, p)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(uint(img.Width), uint(img.Height), "I", imagick.PIXEL_CHAR, pixels); err != nil {
		return fmt.Errorf("constitute %s: %w", path, err)
	}
	// FITS rows run bottom-up.
	if err := mw.FlipImage(); err != nil {
		return err
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return err
	}
	if err := mw.WriteImage(outPath); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}

// stretchToBytes maps the image onto 0..255 between the configured
// percentiles, with a gamma curve on top. NaN pixels map to black.
func stretchToBytes(img *fits.Image, p PreviewParams) []byte {
	finite := make([]float64, 0, len(img.Data))
	for _, v := range img.Data {
		if !isNaN32(v) {
			finite = append(finite, float64(v))
		}
	}
	lo, hi := 0.0, 1.0
	if len(finite) > 0 {
		sort.Float64s(finite)
		lo = percentile(finite, p.LowPercentile)
		hi = percentile(finite, p.HighPercentile)
	}
	if hi <= lo {
		hi = lo + 1
	}
	scale := 1.0 / (hi - lo)

	out := make([]byte, len(img.Data))
	for i, v := range img.Data {
		if isNaN32(v) {
			continue
		}
		t := (float64(v) - lo) * scale
		if t <= 0 {
			continue
		}
		if t > 1 {
			t = 1
		}
		if p.Gamma > 0 && p.Gamma != 1 {
			t = math.Pow(t, p.Gamma)
		}
		out[i] = byte(t*255 + 0.5)
	}
	return out
}

func percentile(sorted []float64, q float64) float64 {
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
