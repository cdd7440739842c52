package tasks

import (
	"context"
	"fmt"
	"math"
	"os"

	"log/slog"

	"photoz/internal/fits"
)

// Zeropoint converts the PIXAR_A2 pixel area (arcsec^2) into an AB
// magnitude zeropoint for data in MJy/sr:
//
//	zp = 8.9 - 2.5*log10(1e6 / ((360*3600)/(2*pi*sqrt(PIXAR_A2)))^2)
func Zeropoint(pixarA2 float64) float64 {
	perRad := (360.0 * 3600.0) / (2 * math.Pi * math.Sqrt(pixarA2))
	return 8.9 - 2.5*math.Log10(1e6/(perRad*perRad))
}

// SplitResult reports what PrepFrame produced.
type SplitResult struct {
	Frame     Frame
	SciPath   string
	WhtPath   string
	Zeropoint float64
	Width     int
	Height    int
}

// PrepFrame splits an i2d product into a science frame and a weight
// frame under outDir. The science header merges the primary header with
// the SCI extension header and gains MAGZP, FIELD and FILTER cards.
func PrepFrame(ctx context.Context, frame Frame, outDir string, log *slog.Logger) (SplitResult, error) {
	var res SplitResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return res, err
	}

	hdus, err := fits.ReadFile(frame.Path)
	if err != nil {
		return res, err
	}

	sci, err := fits.ImageByName(hdus, "SCI")
	if err != nil {
		return res, fmt.Errorf("%s: %w", frame.Path, err)
	}
	wht, err := fits.ImageByName(hdus, "WHT")
	if err != nil {
		return res, fmt.Errorf("%s: %w", frame.Path, err)
	}

	sci.Header.Merge(hdus[0].Header)

	pixar, ok := sci.Header.Float("PIXAR_A2")
	if !ok {
		// some products keep the pixel area in the primary header only
		if pixar, ok = hdus[0].Header.Float("PIXAR_A2"); !ok {
			return res, fmt.Errorf("%s: missing PIXAR_A2", frame.Path)
		}
	}
	zp := Zeropoint(pixar)

	sci.Header.SetFloat("MAGZP", zp, "AB zeropoint from PIXAR_A2")
	sci.Header.SetStr("FIELD", frame.Field, "")
	sci.Header.SetStr("FILTER", frame.Filter, "")
	sci.Header.Delete("EXTNAME")
	wht.Header.Delete("EXTNAME")

	res = SplitResult{
		Frame:     frame,
		SciPath:   frame.SciPath(outDir),
		WhtPath:   frame.WhtPath(outDir),
		Zeropoint: zp,
		Width:     sci.Width,
		Height:    sci.Height,
	}

	if err := fits.WriteFile(res.SciPath, sci); err != nil {
		return res, err
	}
	if err := fits.WriteFile(res.WhtPath, wht); err != nil {
		return res, err
	}

	log.Info("frame split",
		"field", frame.Field,
		"filter", frame.Filter,
		"zeropoint", fmt.Sprintf("%.4f", zp),
		"size", fmt.Sprintf("%dx%d", sci.Width, sci.Height),
	)
	return res, nil
}

// ChannelZeropoints tracks the representative zeropoint per channel:
// the maximum over short-wavelength filters and the minimum over
// long-wavelength ones.
type ChannelZeropoints struct {
	SW float64
	LW float64

	haveSW bool
	haveLW bool
}

// Observe folds one frame's zeropoint into the channel summary.
func (c *ChannelZeropoints) Observe(frame Frame, zp float64) {
	if frame.LongWave() {
		if !c.haveLW || zp < c.LW {
			c.LW = zp
			c.haveLW = true
		}
		return
	}
	if !c.haveSW || zp > c.SW {
		c.SW = zp
		c.haveSW = true
	}
}
