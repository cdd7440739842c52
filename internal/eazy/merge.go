package eazy

import (
	"fmt"
	"sort"

	"photoz/internal/catalog"
	"photoz/internal/match"
)

// MergeCatalogs cross-identifies the per-filter catalogs of a
// registered field against the reference filter and returns one
// Photometry per reference source, plus the filter list in catalog
// column order. Frames are already on a common pixel grid, so sources
// pair up positionally at zero offset.
func MergeCatalogs(cats map[string]*catalog.Catalog, refFilter string, p match.Params) ([]Photometry, []string, error) {
	ref, ok := cats[refFilter]
	if !ok {
		return nil, nil, fmt.Errorf("reference filter %s not among catalogs", refFilter)
	}

	filters := make([]string, 0, len(cats))
	for f := range cats {
		filters = append(filters, f)
	}
	sort.Strings(filters)

	objects := make([]Photometry, len(ref.Sources))
	for i, s := range ref.Sources {
		objects[i] = Photometry{
			ID:     s.ID,
			Mag:    map[string]float64{refFilter: s.Mag},
			MagErr: map[string]float64{refFilter: s.MagErr},
		}
	}

	refPos := ref.Positions()
	for _, filt := range filters {
		if filt == refFilter {
			continue
		}
		c := cats[filt]
		refIdx, inIdx := match.Match(refPos, c.Positions(), 0, 0, p)
		for k := range refIdx {
			obj := &objects[refIdx[k]]
			src := c.Sources[inIdx[k]]
			obj.Mag[filt] = src.Mag
			obj.MagErr[filt] = src.MagErr
		}
	}
	return objects, filters, nil
}
