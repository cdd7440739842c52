package eazy

import (
	"bufio"
	"fmt"
	"math"
	"os"
)

// MissingFlux marks an unmeasured band in the EAZY catalog. EAZY
// ignores fluxes below -90.
const MissingFlux = -100

// MagToMicroJy converts an AB magnitude to flux density in microjansky.
func MagToMicroJy(mag float64) float64 {
	return math.Pow(10, -0.4*(mag-23.9))
}

// FluxErr propagates a magnitude error onto a flux in the same units as
// flux.
func FluxErr(magErr, flux float64) float64 {
	return 2.5 / math.Ln10 * magErr * flux
}

// Photometry is one object's multi-band measurements in AB magnitudes,
// keyed by filter name. Bands the object was not measured in are simply
// absent.
type Photometry struct {
	ID     int
	Mag    map[string]float64
	MagErr map[string]float64
}

// Measured reports whether the object carries a usable magnitude in the
// given band. Magnitudes below 1 are placeholder values from the
// extraction stage and count as missing.
func (p Photometry) Measured(filter string) bool {
	m, ok := p.Mag[filter]
	return ok && !math.IsNaN(m) && !math.IsInf(m, 0) && m >= 1
}

// WriteCatalog writes the EAZY flux catalog: an #id column followed by
// flux and error columns per filter, in microjansky. Missing bands get
// MissingFlux with a zero error.
func WriteCatalog(path string, objects []Photometry, filters []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# id")
	for _, filt := range filters {
		fmt.Fprintf(w, " %s %s_err", filt, filt)
	}
	fmt.Fprintln(w)

	for _, obj := range objects {
		fmt.Fprintf(w, "%d", obj.ID)
		for _, filt := range filters {
			if !obj.Measured(filt) {
				fmt.Fprintf(w, " %g 0", float64(MissingFlux))
				continue
			}
			flux := MagToMicroJy(obj.Mag[filt])
			fmt.Fprintf(w, " %.6g %.6g", flux, FluxErr(obj.MagErr[filt], flux))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
