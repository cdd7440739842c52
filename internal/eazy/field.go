package eazy

import (
	"context"
	"fmt"
	"path/filepath"

	"log/slog"

	"photoz/internal/catalog"
	"photoz/internal/match"
)

// FieldRequest bundles everything a full photo-z run over one field
// needs: the registered per-filter catalogs and the EAZY setup.
type FieldRequest struct {
	Catalogs  map[string]*catalog.Catalog
	RefFilter string
	Match     match.Params

	Params Params
	Run    RunOptions

	// PlotIDs selects objects to render SED and P(z) panels for after
	// the run. Empty means no plots.
	PlotIDs []int
}

// FieldResult summarizes a photo-z run.
type FieldResult struct {
	Objects     int
	Filters     []string
	CatalogPath string
	Plots       int
}

// RunField merges the catalogs, writes the EAZY inputs, executes EAZY
// and renders the requested plots.
func RunField(ctx context.Context, req FieldRequest, log *slog.Logger) (FieldResult, error) {
	var res FieldResult

	objects, filters, err := MergeCatalogs(req.Catalogs, req.RefFilter, req.Match)
	if err != nil {
		return res, err
	}
	res.Objects = len(objects)
	res.Filters = filters

	inputs := req.Run.WorkDir
	res.CatalogPath = filepath.Join(inputs, req.Params.CatalogFile)
	if err := WriteCatalog(res.CatalogPath, objects, filters); err != nil {
		return res, err
	}
	if err := WriteTranslate(filepath.Join(inputs, "zphot.translate"), filters); err != nil {
		return res, err
	}
	if err := req.Params.WriteParam(filepath.Join(inputs, "zphot.param")); err != nil {
		return res, err
	}
	log.Info("eazy inputs written",
		"objects", res.Objects,
		"filters", len(filters),
		"catalog", res.CatalogPath,
	)

	if err := Run(ctx, req.Run, req.Params, log); err != nil {
		return res, err
	}

	outputDir := filepath.Join(inputs, req.Params.OutputDir)
	for _, id := range req.PlotIDs {
		obj, err := ReadObject(outputDir, req.Params.MainOutputFile, id)
		if err != nil {
			log.Warn("object output missing, skipping plots", "id", id, "error", err)
			continue
		}
		sed := filepath.Join(outputDir, fmt.Sprintf("%d_sed.png", id))
		pz := filepath.Join(outputDir, fmt.Sprintf("%d_pz.png", id))
		if err := PlotSED(obj, sed); err != nil {
			return res, err
		}
		if err := PlotPZ(obj, pz); err != nil {
			return res, err
		}
		res.Plots++
	}
	return res, nil
}
