package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"photoz/internal/catalog"
	"photoz/internal/config"
	"photoz/internal/eazy"
	"photoz/internal/match"
	"photoz/internal/storage"
	"photoz/internal/tasks"
)

// router implements Processor and routes jobs to their concrete
// handlers. The stage functions are fields so tests can stub them.
type router struct {
	log   *slog.Logger
	store *storage.Store
	cfg   *config.Config

	discoverFn func(root string) ([]tasks.Frame, error)
	prepFn     func(ctx context.Context, inputDir, outDir string, log *slog.Logger) (tasks.PrepSummary, error)
	bkgsubFn   func(ctx context.Context, dir string, p tasks.BackgroundParams, log *slog.Logger) (int, error)
	extractFn  func(ctx context.Context, dir string, p tasks.ExtractParams, log *slog.Logger) (int, error)
	tweakFn    func(ctx context.Context, frames []tasks.Frame, dir string, p tasks.TweakParams, log *slog.Logger) ([]tasks.TweakFrameResult, error)
	photozFn   func(ctx context.Context, req eazy.FieldRequest, log *slog.Logger) (eazy.FieldResult, error)
	previewFn  func(path, outPath string, p tasks.PreviewParams) error
}

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	return &router{
		log:        logger,
		store:      store,
		cfg:        cfg,
		discoverFn: tasks.DiscoverFrames,
		prepFn:     tasks.RunPrep,
		bkgsubFn:   tasks.RunBkgSub,
		extractFn:  tasks.RunExtract,
		tweakFn:    tasks.TweakField,
		photozFn:   eazy.RunField,
		previewFn:  tasks.PreviewFrame,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobScan:
		return r.handleScan(ctx, job)
	case JobPrep:
		return r.handlePrep(ctx, job)
	case JobBkgSub:
		return r.handleBkgSub(ctx, job)
	case JobExtract:
		return r.handleExtract(ctx, job)
	case JobTweak:
		return r.handleTweak(ctx, job)
	case JobPhotoz:
		return r.handlePhotoz(ctx, job)
	case JobPreview:
		return r.handlePreview(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// stageDir resolves the working directory for stages that run in place:
// the job's input path wins over the configured work directory.
func (r *router) stageDir(job Job) string {
	if job.InputPath != "" {
		return job.InputPath
	}
	return r.cfg.Paths.WorkDir
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	frames, err := r.discoverFn(job.InputPath)
	fields := map[string]int{}
	for _, f := range frames {
		fields[f.Field]++
	}
	meta := map[string]any{
		"products": len(frames),
		"fields":   fields,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handlePrep(ctx context.Context, job Job) Result {
	outDir := job.Output
	if outDir == "" {
		outDir = r.cfg.Paths.WorkDir
	}
	sum, err := r.prepFn(ctx, job.InputPath, outDir, r.log)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	if r.store != nil {
		for _, fr := range sum.Frames {
			_ = r.store.UpsertFrame(storage.FrameRecord{
				Field:     fr.Frame.Field,
				Filter:    fr.Frame.Filter,
				Wave:      fr.Frame.Wave,
				SciPath:   fr.SciPath,
				WhtPath:   fr.WhtPath,
				Zeropoint: fr.Zeropoint,
				Width:     fr.Width,
				Height:    fr.Height,
				Status:    storage.FrameSplit,
			})
		}
	}
	meta := map[string]any{
		"frames":       len(sum.Frames),
		"zeropoint_sw": sum.Zeropoints.SW,
		"zeropoint_lw": sum.Zeropoints.LW,
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleBkgSub(ctx context.Context, job Job) Result {
	dir := r.stageDir(job)
	bg := r.cfg.Reduction.Background
	p := tasks.BackgroundParams{
		BoxSize:    bg.BoxSize,
		FilterSize: bg.FilterSize,
		SigmaClip:  bg.SigmaClip,
		ClipIters:  bg.ClipIters,
	}
	n, err := r.bkgsubFn(ctx, dir, p, r.log)
	if err == nil && r.store != nil {
		r.markFrames(dir, storage.FrameBkgSub)
	}
	return Result{Job: job, Error: err, Meta: map[string]any{"frames": n}}
}

func (r *router) handleExtract(ctx context.Context, job Job) Result {
	dir := r.stageDir(job)
	ex := r.cfg.Reduction.Extraction
	p := tasks.ExtractParams{
		SigmaThreshold: ex.SigmaThreshold,
		MinArea:        ex.MinArea,
		MaxArea:        ex.MaxArea,
	}
	n, err := r.extractFn(ctx, dir, p, r.log)
	if err == nil && r.store != nil {
		r.markFrames(dir, storage.FrameExtracted)
	}
	return Result{Job: job, Error: err, Meta: map[string]any{"catalogs": n}}
}

func (r *router) markFrames(dir, status string) {
	frames, err := tasks.DiscoverSplitFrames(dir)
	if err != nil {
		return
	}
	for _, f := range frames {
		_ = r.store.SetFrameStatus(f.Field, f.Filter, status)
	}
}

func (r *router) handleTweak(ctx context.Context, job Job) Result {
	dir := r.stageDir(job)
	frames, err := tasks.DiscoverSplitFrames(dir)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	results, err := r.tweakFn(ctx, frames, dir, r.tweakParams(), r.log)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	registered, skipped := 0, 0
	for _, res := range results {
		status := storage.FrameRegistered
		if res.Skipped {
			status = storage.FrameSkipped
			skipped++
		} else {
			registered++
		}
		if r.store != nil {
			_ = r.store.RecordRegistration(storage.FrameRecord{
				Field:      res.Frame.Field,
				Filter:     res.Frame.Filter,
				Status:     status,
				DX:         res.DX,
				DY:         res.DY,
				Matches:    res.Matches,
				FitRMS:     res.RMS,
				SkipReason: res.SkipReason,
			})
		}
	}
	meta := map[string]any{
		"registered": registered,
		"skipped":    skipped,
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) tweakParams() tasks.TweakParams {
	reg := r.cfg.Reduction.Registration
	p := tasks.DefaultTweakParams()
	p.RefFilter = r.cfg.Reduction.ReferenceFilter
	p.Align.MinOffset = reg.MinOffset
	p.Align.MaxOffset = reg.MaxOffset
	p.Align.MinMatches = reg.MinMatches
	p.Align.Match = r.matchParams()
	return p
}

func (r *router) matchParams() match.Params {
	reg := r.cfg.Reduction.Registration
	return match.Params{
		SearchRad:  reg.SearchRad,
		Separation: reg.Separation,
		Tolerance:  reg.Tolerance,
	}
}

func (r *router) handlePhotoz(ctx context.Context, job Job) Result {
	dir := r.stageDir(job)
	frames, err := tasks.DiscoverSplitFrames(dir)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	cats := make(map[string]*catalog.Catalog, len(frames))
	for _, f := range frames {
		c, err := catalog.ReadFile(f.CatalogPath(dir))
		if err != nil {
			return Result{Job: job, Error: fmt.Errorf("%s catalog: %w", f.Filter, err)}
		}
		cats[f.Filter] = c
	}

	ez := r.cfg.Eazy
	params := eazy.DefaultParams()
	params.FiltersRes = ez.FiltersRes
	params.TemplatesFile = ez.TemplatesFile
	params.OutputDir = ez.OutputDir
	params.ZMin, params.ZMax, params.ZStep = ez.ZMin, ez.ZMax, ez.ZStep
	params.ApplyPrior = ez.ApplyPrior
	params.PriorFile = ez.PriorFile
	params.PriorFilter = ez.PriorFilter

	if err := os.MkdirAll(ez.InputsDir, 0o755); err != nil {
		return Result{Job: job, Error: err}
	}

	req := eazy.FieldRequest{
		Catalogs:  cats,
		RefFilter: r.cfg.Reduction.ReferenceFilter,
		Match:     r.matchParams(),
		Params:    params,
		Run: eazy.RunOptions{
			Binary:  ez.Binary,
			WorkDir: ez.InputsDir,
		},
		PlotIDs: plotIDs(job.Options),
	}
	res, err := r.photozFn(ctx, req, r.log)
	meta := map[string]any{
		"objects": res.Objects,
		"filters": res.Filters,
		"catalog": res.CatalogPath,
		"plots":   res.Plots,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// plotIDs reads the requested object IDs out of the job options.
// []int comes from the CLI, []any of floats from decoded API bodies.
func plotIDs(options map[string]any) []int {
	switch v := options["plotIDs"].(type) {
	case []int:
		return v
	case []any:
		var ids []int
		for _, item := range v {
			switch n := item.(type) {
			case int:
				ids = append(ids, n)
			case float64:
				ids = append(ids, int(n))
			case string:
				if id, err := strconv.Atoi(n); err == nil {
					ids = append(ids, id)
				}
			}
		}
		return ids
	}
	return nil
}

func (r *router) handlePreview(ctx context.Context, job Job) Result {
	outDir := job.Output
	if outDir == "" {
		outDir = r.cfg.Paths.PreviewDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{Job: job, Error: err}
	}

	var paths []string
	info, err := os.Stat(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if info.IsDir() {
		frames, err := tasks.DiscoverSplitFrames(job.InputPath)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		for _, f := range frames {
			paths = append(paths, f.SciPath(job.InputPath))
		}
	} else {
		paths = []string{job.InputPath}
	}

	p := tasks.DefaultPreviewParams()
	rendered := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Result{Job: job, Error: err}
		}
		base := filepath.Base(path)
		out := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".png")
		if err := r.previewFn(path, out, p); err != nil {
			return Result{Job: job, Error: err}
		}
		rendered++
	}
	return Result{Job: job, Meta: map[string]any{"previews": rendered, "dir": outDir}}
}
