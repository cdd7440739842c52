// Package catalog holds extracted source lists and their on-disk text
// format: one whitespace-separated row per source with a commented
// column header, readable by the usual astronomy table tools.
package catalog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Source is a detected object in a single frame.
type Source struct {
	ID     int
	X, Y   float64 // zero-based pixel centroid
	RA     float64 // degrees, 0 when no WCS was available
	Dec    float64
	Flux   float64 // counts above background
	Mag    float64 // AB magnitude via the frame zeropoint
	MagErr float64
	Area   int // isophotal pixel count
}

// Catalog is the source list of one frame.
type Catalog struct {
	Filter  string
	Sources []Source
}

// Len returns the number of sources.
func (c *Catalog) Len() int { return len(c.Sources) }

var columns = []string{
	"NUMBER", "X_IMAGE", "Y_IMAGE", "ALPHA_J2000", "DELTA_J2000",
	"FLUX_ISO", "MAG_AUTO", "MAGERR_AUTO", "ISOAREA_IMAGE",
}

// WriteFile writes the catalog as text at path.
func WriteFile(path string, c *Catalog) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i, col := range columns {
		fmt.Fprintf(w, "# %3d %s\n", i+1, col)
	}
	for _, s := range c.Sources {
		fmt.Fprintf(w, "%6d %10.3f %10.3f %12.7f %12.7f %14.6g %9.4f %9.4f %6d\n",
			s.ID, s.X, s.Y, s.RA, s.Dec, s.Flux, s.Mag, s.MagErr, s.Area)
	}
	return w.Flush()
}

// ReadFile reads a text catalog written by WriteFile.
func ReadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := &Catalog{}
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < len(columns) {
			return nil, fmt.Errorf("%s:%d: expected %d columns, got %d", path, line, len(columns), len(fields))
		}
		var s Source
		var errs [9]error
		s.ID, errs[0] = strconv.Atoi(fields[0])
		s.X, errs[1] = strconv.ParseFloat(fields[1], 64)
		s.Y, errs[2] = strconv.ParseFloat(fields[2], 64)
		s.RA, errs[3] = strconv.ParseFloat(fields[3], 64)
		s.Dec, errs[4] = strconv.ParseFloat(fields[4], 64)
		s.Flux, errs[5] = strconv.ParseFloat(fields[5], 64)
		s.Mag, errs[6] = strconv.ParseFloat(fields[6], 64)
		s.MagErr, errs[7] = strconv.ParseFloat(fields[7], 64)
		s.Area, errs[8] = strconv.Atoi(fields[8])
		for _, e := range errs {
			if e != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, e)
			}
		}
		c.Sources = append(c.Sources, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Positions returns the pixel positions as a slice of (x, y).
func (c *Catalog) Positions() [][2]float64 {
	out := make([][2]float64, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = [2]float64{s.X, s.Y}
	}
	return out
}
