package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"

	"photoz/internal/catalog"
	"photoz/internal/fits"
	"photoz/internal/fsutil"
	"photoz/internal/wcs"
)

// minPrepSpace is the free-space floor below which prep warns; split
// frames for one field can run to a few GB.
const minPrepSpace = 2 << 30

// DiscoverSplitFrames lists the split science frames under dir, i.e.
// the *_sci.fits files produced by the prep stage.
func DiscoverSplitFrames(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []Frame
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if e.IsDir() || !strings.HasSuffix(name, "_sci.fits") || strings.Contains(name, "_bkgsub") {
			continue
		}
		frame, perr := ParseFrameName(filepath.Join(dir, e.Name()))
		if perr != nil {
			continue
		}
		frames = append(frames, frame)
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].Wave != frames[j].Wave {
			return frames[i].Wave < frames[j].Wave
		}
		return frames[i].Filter < frames[j].Filter
	})
	return frames, nil
}

// PrepSummary aggregates a prep run.
type PrepSummary struct {
	Frames     []SplitResult
	Zeropoints ChannelZeropoints
}

// RunPrep splits every i2d product under inputDir into science and
// weight frames in outDir and collects the channel zeropoints.
func RunPrep(ctx context.Context, inputDir, outDir string, log *slog.Logger) (PrepSummary, error) {
	var sum PrepSummary
	frames, err := DiscoverFrames(inputDir)
	if err != nil {
		return sum, err
	}
	if len(frames) == 0 {
		return sum, fmt.Errorf("no *_i2d.fits products under %s", inputDir)
	}
	if err := fsutil.EnsureDir(outDir); err != nil {
		return sum, err
	}
	if free, err := fsutil.FreeSpace(outDir); err == nil && free < minPrepSpace {
		log.Warn("low disk space in work directory", "dir", outDir, "free_bytes", free)
	}
	for _, frame := range frames {
		res, err := PrepFrame(ctx, frame, outDir, log)
		if err != nil {
			return sum, err
		}
		sum.Frames = append(sum.Frames, res)
		sum.Zeropoints.Observe(frame, res.Zeropoint)
	}
	return sum, nil
}

// RunBkgSub background-subtracts every split science frame in dir,
// writing *_sci_bkgsub.fits alongside the originals.
func RunBkgSub(ctx context.Context, dir string, p BackgroundParams, log *slog.Logger) (int, error) {
	frames, err := DiscoverSplitFrames(dir)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		img, _, err := loadSciLoose(frame.SciPath(dir))
		if err != nil {
			return done, err
		}
		sub, _ := SubtractBackground(img, p)
		if err := fits.WriteFile(frame.BkgSubPath(dir), sub); err != nil {
			return done, err
		}
		log.Info("background subtracted", "field", frame.Field, "filter", frame.Filter)
		done++
	}
	return done, nil
}

// RunExtract builds a source catalog for every frame in dir, preferring
// the background-subtracted image when it exists.
func RunExtract(ctx context.Context, dir string, p ExtractParams, log *slog.Logger) (int, error) {
	frames, err := DiscoverSplitFrames(dir)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		path := fsutil.FirstExisting(frame.BkgSubPath(dir), frame.SciPath(dir))
		if path == "" {
			return done, fmt.Errorf("no science frame for %s %s", frame.Field, frame.Filter)
		}
		img, w, err := loadSciLoose(path)
		if err != nil {
			return done, err
		}
		zp, ok := img.Header.Float("MAGZP")
		if !ok {
			return done, fmt.Errorf("%s: missing MAGZP", path)
		}
		cat := ExtractSources(img, zp, w, p)
		cat.Filter = frame.Filter
		if err := catalog.WriteFile(frame.CatalogPath(dir), cat); err != nil {
			return done, err
		}
		log.Info("sources extracted", "field", frame.Field, "filter", frame.Filter, "count", cat.Len())
		done++
	}
	return done, nil
}

// loadSciLoose reads the first image HDU; a missing or partial WCS is
// tolerated (nil WCS) since early stages run before headers are fixed.
func loadSciLoose(path string) (*fits.Image, *wcs.WCS, error) {
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
			w = nil
		}
		return h.Image, w, nil
	}
	return nil, nil, fmt.Errorf("no image data in %s", path)
}
