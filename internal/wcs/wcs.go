// Package wcs implements the TAN (gnomonic) world coordinate system used
// by imaging headers: CRPIX/CRVAL reference point plus a CD rotation and
// scale matrix.
package wcs

import (
	"fmt"
	"math"

	"photoz/internal/fits"
)

// WCS maps between pixel and celestial coordinates. Pixel arguments are
// zero-based; CRPix follows the 1-based header convention.
type WCS struct {
	CRPix1, CRPix2 float64
	CRVal1, CRVal2 float64 // degrees
	CD             [2][2]float64
}

// FromHeader builds a WCS from CRPIX/CRVAL/CD cards. A CDELT-only header
// (no rotation) is accepted as a diagonal CD matrix.
func FromHeader(h *fits.Header) (*WCS, error) {
	w := &WCS{}
	var ok bool
	if w.CRPix1, ok = h.Float("CRPIX1"); !ok {
		return nil, fmt.Errorf("missing CRPIX1")
	}
	if w.CRPix2, ok = h.Float("CRPIX2"); !ok {
		return nil, fmt.Errorf("missing CRPIX2")
	}
	if w.CRVal1, ok = h.Float("CRVAL1"); !ok {
		return nil, fmt.Errorf("missing CRVAL1")
	}
	if w.CRVal2, ok = h.Float("CRVAL2"); !ok {
		return nil, fmt.Errorf("missing CRVAL2")
	}

	if cd11, ok := h.Float("CD1_1"); ok {
		w.CD[0][0] = cd11
		w.CD[0][1], _ = h.Float("CD1_2")
		w.CD[1][0], _ = h.Float("CD2_1")
		if w.CD[1][1], ok = h.Float("CD2_2"); !ok {
			return nil, fmt.Errorf("missing CD2_2")
		}
		return w, nil
	}

	cdelt1, ok1 := h.Float("CDELT1")
	cdelt2, ok2 := h.Float("CDELT2")
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("no CD matrix or CDELT scale")
	}
	w.CD[0][0] = cdelt1
	w.CD[1][1] = cdelt2
	return w, nil
}

// ToHeader writes the WCS cards onto h.
func (w *WCS) ToHeader(h *fits.Header) {
	h.SetStr("CTYPE1", "RA---TAN", "gnomonic projection")
	h.SetStr("CTYPE2", "DEC--TAN", "gnomonic projection")
	h.SetFloat("CRPIX1", w.CRPix1, "reference pixel")
	h.SetFloat("CRPIX2", w.CRPix2, "reference pixel")
	h.SetFloat("CRVAL1", w.CRVal1, "RA at reference pixel [deg]")
	h.SetFloat("CRVAL2", w.CRVal2, "Dec at reference pixel [deg]")
	h.SetFloat("CD1_1", w.CD[0][0], "")
	h.SetFloat("CD1_2", w.CD[0][1], "")
	h.SetFloat("CD2_1", w.CD[1][0], "")
	h.SetFloat("CD2_2", w.CD[1][1], "")
}

const degToRad = math.Pi / 180

// PixToSky converts a zero-based pixel position to RA/Dec in degrees.
func (w *WCS) PixToSky(x, y float64) (ra, dec float64) {
	dx := x - (w.CRPix1 - 1)
	dy := y - (w.CRPix2 - 1)
	u := (w.CD[0][0]*dx + w.CD[0][1]*dy) * degToRad
	v := (w.CD[1][0]*dx + w.CD[1][1]*dy) * degToRad

	ra0 := w.CRVal1 * degToRad
	dec0 := w.CRVal2 * degToRad

	r := math.Hypot(u, v)
	if r == 0 {
		return w.CRVal1, w.CRVal2
	}
	c := math.Atan(r)
	sinc, cosc := math.Sin(c), math.Cos(c)

	dec = math.Asin(cosc*math.Sin(dec0) + v*sinc*math.Cos(dec0)/r)
	ra = ra0 + math.Atan2(u*sinc, r*math.Cos(dec0)*cosc-v*math.Sin(dec0)*sinc)

	ra /= degToRad
	dec /= degToRad
	if ra < 0 {
		ra += 360
	} else if ra >= 360 {
		ra -= 360
	}
	return ra, dec
}

// SkyToPix converts RA/Dec in degrees to a zero-based pixel position.
func (w *WCS) SkyToPix(ra, dec float64) (x, y float64) {
	u, v := w.project(ra, dec)
	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	dx := (w.CD[1][1]*u - w.CD[0][1]*v) / det
	dy := (-w.CD[1][0]*u + w.CD[0][0]*v) / det
	return dx + (w.CRPix1 - 1), dy + (w.CRPix2 - 1)
}

// project returns tangent-plane coordinates in degrees about CRVAL.
func (w *WCS) project(ra, dec float64) (u, v float64) {
	a := ra * degToRad
	d := dec * degToRad
	a0 := w.CRVal1 * degToRad
	d0 := w.CRVal2 * degToRad

	den := math.Sin(d)*math.Sin(d0) + math.Cos(d)*math.Cos(d0)*math.Cos(a-a0)
	u = math.Cos(d) * math.Sin(a-a0) / den / degToRad
	v = (math.Sin(d)*math.Cos(d0) - math.Cos(d)*math.Sin(d0)*math.Cos(a-a0)) / den / degToRad
	return u, v
}

// PixelScale returns the mean pixel scale in arcsec/pixel.
func (w *WCS) PixelScale() float64 {
	det := math.Abs(w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0])
	return math.Sqrt(det) * 3600
}
