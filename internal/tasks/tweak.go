package tasks

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"photoz/internal/align"
	"photoz/internal/catalog"
	"photoz/internal/fits"
	"photoz/internal/wcs"
)

// TweakParams configures astrometric registration of a field.
type TweakParams struct {
	RefFilter string // long-wavelength anchor, default f444w
	Align     align.Params
}

// DefaultTweakParams returns the standard registration setup.
func DefaultTweakParams() TweakParams {
	return TweakParams{RefFilter: "f444w", Align: align.DefaultParams()}
}

// TweakFrameResult records the outcome for one frame.
type TweakFrameResult struct {
	Frame      Frame
	Skipped    bool
	SkipReason string
	DX, DY     int
	Matches    int
	RMS        float64 // fit residual in reference pixels
}

// TweakField registers every frame of a field onto the reference
// filter's grid: offset search over the extracted catalogs, TAN WCS fit
// on the matched pairs, then reprojection of the science and weight
// frames. Frames without enough matches are skipped with a warning;
// any other error aborts the run. Frames are processed one at a time.
func TweakField(ctx context.Context, frames []Frame, dir string, p TweakParams, log *slog.Logger) ([]TweakFrameResult, error) {
	if p.RefFilter == "" {
		p = DefaultTweakParams()
	}

	var ref *Frame
	for i := range frames {
		if frames[i].Filter == p.RefFilter {
			ref = &frames[i]
			break
		}
	}
	if ref == nil {
		return nil, fmt.Errorf("reference filter %s not present in field", p.RefFilter)
	}

	refCat, err := catalog.ReadFile(ref.CatalogPath(dir))
	if err != nil {
		return nil, fmt.Errorf("reference catalog: %w", err)
	}
	refSci, refWCS, err := loadSci(ref.SciPath(dir))
	if err != nil {
		return nil, err
	}
	refPos := refCat.Positions()

	var results []TweakFrameResult
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if frame.Filter == p.RefFilter {
			continue
		}

		res, err := tweakFrame(frame, dir, refPos, refWCS, refSci.Width, refSci.Height, p, log)
		if err != nil {
			return results, fmt.Errorf("%s: %w", frame.Filter, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func tweakFrame(frame Frame, dir string, refPos [][2]float64, refWCS *wcs.WCS, refW, refH int, p TweakParams, log *slog.Logger) (TweakFrameResult, error) {
	result := TweakFrameResult{Frame: frame}

	cat, err := catalog.ReadFile(frame.CatalogPath(dir))
	if err != nil {
		return result, err
	}
	sci, inWCS, err := loadSci(frame.SciPath(dir))
	if err != nil {
		return result, err
	}

	projected := align.ProjectOntoReference(cat, inWCS, refWCS)
	search, err := align.Search(refPos, projected, p.Align)
	if errors.Is(err, align.ErrInsufficientMatches) {
		log.Warn("frame skipped, not enough catalog matches",
			"field", frame.Field,
			"filter", frame.Filter,
			"detail", err.Error(),
		)
		result.Skipped = true
		result.SkipReason = err.Error()
		return result, nil
	}
	if err != nil {
		return result, err
	}
	result.DX, result.DY = search.DX, search.DY
	result.Matches = search.Matches

	pairs := make([]wcs.Pair, len(search.RefIdx))
	for k := range search.RefIdx {
		rp := refPos[search.RefIdx[k]]
		ra, dec := refWCS.PixToSky(rp[0], rp[1])
		in := cat.Sources[search.InIdx[k]]
		pairs[k] = wcs.Pair{X: in.X, Y: in.Y, RA: ra, Dec: dec}
	}
	fitted, err := wcs.FitTAN(pairs, inWCS)
	if err != nil {
		return result, err
	}
	result.RMS = wcs.Residuals(fitted, pairs)

	log.Info("frame registered",
		"field", frame.Field,
		"filter", frame.Filter,
		"offset", fmt.Sprintf("(%+d,%+d)", search.DX, search.DY),
		"matches", search.Matches,
		"rms_px", fmt.Sprintf("%.3f", result.RMS),
	)

	// reproject science and weight onto the reference grid
	fitted.ToHeader(sci.Header)
	sciOut := Reproject(sci, fitted, refWCS, refW, refH)
	refWCS.ToHeader(sciOut.Header)
	if err := fits.WriteFile(frame.SciPath(dir), sciOut); err != nil {
		return result, err
	}

	whtHDUs, err := fits.ReadFile(frame.WhtPath(dir))
	if err != nil {
		return result, err
	}
	var wht *fits.Image
	for _, h := range whtHDUs {
		if h.Image != nil {
			wht = h.Image
			break
		}
	}
	if wht == nil {
		return result, fmt.Errorf("no image data in %s", frame.WhtPath(dir))
	}
	whtOut := Reproject(wht, fitted, refWCS, refW, refH)
	refWCS.ToHeader(whtOut.Header)
	if err := fits.WriteFile(frame.WhtPath(dir), whtOut); err != nil {
		return result, err
	}

	return result, nil
}

// loadSci reads the first image HDU of a science frame and its WCS.
func loadSci(path string) (*fits.Image, *wcs.WCS, error) {
	hdus, err := fits.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	for _, h := range hdus {
		if h.Image == nil {
			continue
		}
		w, err := wcs.FromHeader(h.Header)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		return h.Image, w, nil
	}
	return nil, nil, fmt.Errorf("no image data in %s", path)
}
