package tasks

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"photoz/internal/fsutil"
)

// Frame identifies one calibrated mosaic product on disk.
type Frame struct {
	Path   string
	Field  string
	Filter string // lower case, e.g. "f200w"
	Wave   int    // central wavelength in 10 nm units parsed from the name
}

// LongWave reports whether the frame comes from the long-wavelength
// channel (2.5 micron cutoff).
func (f Frame) LongWave() bool { return f.Wave >= 250 }

var filterRe = regexp.MustCompile(`(?i)^f(\d{3})[wmn]2?$`)

// ParseFrameName extracts field and filter from an i2d product name such
// as "ceers_f200w_i2d.fits". Separators may be underscores or dashes;
// the first token is the field and the filter is the first token that
// looks like an imaging filter name.
func ParseFrameName(path string) (Frame, error) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, ".fits")
	name = strings.TrimSuffix(name, "_i2d")

	tokens := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(tokens) < 2 {
		return Frame{}, fmt.Errorf("cannot parse frame name %q", base)
	}

	frame := Frame{Path: path, Field: strings.ToLower(tokens[0])}
	for _, tok := range tokens[1:] {
		m := filterRe.FindStringSubmatch(tok)
		if m == nil {
			continue
		}
		frame.Filter = strings.ToLower(tok)
		frame.Wave, _ = strconv.Atoi(m[1])
		return frame, nil
	}
	return Frame{}, fmt.Errorf("no filter token in %q", base)
}

// DiscoverFrames finds every *_i2d.fits under root and returns them
// sorted by wavelength, then filter name. Files whose names cannot be
// parsed are skipped.
func DiscoverFrames(root string) ([]Frame, error) {
	paths, err := fsutil.ListFITS(root, "_i2d.fits")
	if err != nil {
		return nil, err
	}
	var frames []Frame
	for _, path := range paths {
		frame, perr := ParseFrameName(path)
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

// SciPath returns the split science frame path for a frame under dir.
func (f Frame) SciPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_sci.fits", f.Field, f.Filter))
}

// WhtPath returns the split weight frame path for a frame under dir.
func (f Frame) WhtPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_wht.fits", f.Field, f.Filter))
}

// BkgSubPath returns the background-subtracted science frame path.
func (f Frame) BkgSubPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_sci_bkgsub.fits", f.Field, f.Filter))
}

// CatalogPath returns the extracted source catalog path.
func (f Frame) CatalogPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.cat", f.Field, f.Filter))
}
