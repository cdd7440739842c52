// Package eazy prepares inputs for, runs, and plots the output of the
// EAZY photometric-redshift code.
package eazy

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Params mirrors the zphot.param keys the pipeline sets. Anything not
// covered here keeps EAZY's built-in default.
type Params struct {
	FiltersRes     string // FILTER.RES.latest path
	TemplatesFile  string
	CatalogFile    string
	OutputDir      string
	MainOutputFile string

	ZMin, ZMax, ZStep float64

	ApplyPrior  bool
	PriorFile   string
	PriorFilter int // filter number the prior magnitude refers to

	// Extra passes through verbatim for keys without a struct field.
	Extra map[string]string
}

// DefaultParams covers a NIRCam run over 0 < z < 12.
func DefaultParams() Params {
	return Params{
		FiltersRes:     "FILTER.RES.latest",
		TemplatesFile:  "templates/eazy_v1.3.spectra.param",
		CatalogFile:    "photz.cat",
		OutputDir:      "OUTPUT",
		MainOutputFile: "photz",
		ZMin:           0.01,
		ZMax:           12,
		ZStep:          0.01,
		ApplyPrior:     true,
		PriorFile:      "templates/prior_K_extend.dat",
		PriorFilter:    377,
	}
}

// WriteParam writes the zphot.param file, one "KEY value" line per
// setting.
func (p Params) WriteParam(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	put := func(key, value string) {
		fmt.Fprintf(w, "%s %s\n", key, value)
	}
	yn := func(b bool) string {
		if b {
			return "y"
		}
		return "n"
	}

	put("FILTERS_RES", p.FiltersRes)
	put("TEMPLATES_FILE", p.TemplatesFile)
	put("CATALOG_FILE", p.CatalogFile)
	put("OUTPUT_DIRECTORY", p.OutputDir)
	put("MAIN_OUTPUT_FILE", p.MainOutputFile)
	put("Z_MIN", strconv.FormatFloat(p.ZMin, 'g', -1, 64))
	put("Z_MAX", strconv.FormatFloat(p.ZMax, 'g', -1, 64))
	put("Z_STEP", strconv.FormatFloat(p.ZStep, 'g', -1, 64))
	put("APPLY_PRIOR", yn(p.ApplyPrior))
	if p.ApplyPrior {
		put("PRIOR_FILE", p.PriorFile)
		put("PRIOR_FILTER", strconv.Itoa(p.PriorFilter))
	}

	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		put(k, p.Extra[k])
	}
	return w.Flush()
}

// FilterNumbers maps NIRCam filter names to their entries in the stock
// EAZY FILTER.RES.latest.
var FilterNumbers = map[string]int{
	"f090w": 363,
	"f115w": 364,
	"f150w": 365,
	"f200w": 366,
	"f277w": 375,
	"f356w": 376,
	"f410m": 383,
	"f444w": 377,
}

// WriteTranslate writes the zphot.translate file binding the catalog's
// per-filter flux and error columns to filter numbers. Filters without
// a known number are an error.
func WriteTranslate(path string, filters []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, filt := range filters {
		num, ok := FilterNumbers[filt]
		if !ok {
			return fmt.Errorf("no filter number for %s", filt)
		}
		fmt.Fprintf(w, "%s F%d\n", filt, num)
		fmt.Fprintf(w, "%s_err E%d\n", filt, num)
	}
	return w.Flush()
}
