package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"photoz/internal/config"
	"photoz/internal/eazy"
	"photoz/internal/storage"
	"photoz/internal/tasks"
)

func testRouter(t *testing.T) (*router, *storage.Store) {
	t.Helper()
	store, err := storage.New(t.TempDir() + "/router.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cfg := config.Default()
	return &router{
		log:   slog.New(slog.DiscardHandler),
		store: store,
		cfg:   cfg,
	}, store
}

func TestRouterUnknownJobType(t *testing.T) {
	r, _ := testRouter(t)
	res := r.Process(context.Background(), Job{ID: "x", Type: JobType("bogus")})
	if res.Error == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

func TestRouterScanCountsFields(t *testing.T) {
	r, _ := testRouter(t)
	r.discoverFn = func(root string) ([]tasks.Frame, error) {
		return []tasks.Frame{
			{Field: "ceers", Filter: "f200w", Wave: 200},
			{Field: "ceers", Filter: "f444w", Wave: 444},
			{Field: "smacs", Filter: "f356w", Wave: 356},
		}, nil
	}

	res := r.Process(context.Background(), Job{ID: "scan-1", Type: JobScan, InputPath: "/inbox"})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["products"] != 3 {
		t.Fatalf("expected 3 products, got %v", res.Meta["products"])
	}
	fields := res.Meta["fields"].(map[string]int)
	if fields["ceers"] != 2 || fields["smacs"] != 1 {
		t.Fatalf("unexpected field counts: %v", fields)
	}
}

func TestRouterPrepRecordsFrames(t *testing.T) {
	r, store := testRouter(t)
	r.prepFn = func(ctx context.Context, inputDir, outDir string, log *slog.Logger) (tasks.PrepSummary, error) {
		sum := tasks.PrepSummary{}
		sum.Zeropoints.SW = 28.1
		sum.Zeropoints.LW = 26.5
		sum.Frames = []tasks.SplitResult{
			{
				Frame:     tasks.Frame{Field: "ceers", Filter: "f200w", Wave: 200},
				SciPath:   outDir + "/ceers_f200w_sci.fits",
				WhtPath:   outDir + "/ceers_f200w_wht.fits",
				Zeropoint: 28.1,
				Width:     4000, Height: 4000,
			},
		}
		return sum, nil
	}

	res := r.Process(context.Background(), Job{ID: "prep-1", Type: JobPrep, InputPath: "/inbox", Output: t.TempDir()})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["frames"] != 1 {
		t.Fatalf("expected 1 frame in meta, got %v", res.Meta["frames"])
	}
	if res.Meta["zeropoint_lw"] != 26.5 {
		t.Fatalf("unexpected LW zeropoint meta: %v", res.Meta["zeropoint_lw"])
	}

	frames, err := store.FramesForField("ceers")
	if err != nil {
		t.Fatalf("frames for field: %v", err)
	}
	if len(frames) != 1 || frames[0].Status != storage.FrameSplit {
		t.Fatalf("expected one split frame recorded, got %+v", frames)
	}
	if frames[0].Zeropoint != 28.1 {
		t.Fatalf("zeropoint not persisted: %v", frames[0].Zeropoint)
	}
}

func TestRouterPrepPropagatesError(t *testing.T) {
	r, store := testRouter(t)
	want := errors.New("no products found")
	r.prepFn = func(ctx context.Context, inputDir, outDir string, log *slog.Logger) (tasks.PrepSummary, error) {
		return tasks.PrepSummary{}, want
	}

	res := r.Process(context.Background(), Job{ID: "prep-2", Type: JobPrep, InputPath: "/empty"})
	if !errors.Is(res.Error, want) {
		t.Fatalf("expected prep error, got %v", res.Error)
	}
	fields, err := store.Fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if len(fields) != 0 {
		t.Fatalf("no frames should be recorded on failure, got %v", fields)
	}
}

func TestRouterBkgSubUsesConfiguredParams(t *testing.T) {
	r, _ := testRouter(t)
	r.cfg.Reduction.Background.BoxSize = 32
	var got tasks.BackgroundParams
	r.bkgsubFn = func(ctx context.Context, dir string, p tasks.BackgroundParams, log *slog.Logger) (int, error) {
		got = p
		return 4, nil
	}

	res := r.Process(context.Background(), Job{ID: "bkg-1", Type: JobBkgSub, InputPath: t.TempDir()})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.BoxSize != 32 || got.SigmaClip != 3 {
		t.Fatalf("config not mapped to background params: %+v", got)
	}
	if res.Meta["frames"] != 4 {
		t.Fatalf("unexpected meta frames: %v", res.Meta["frames"])
	}
}

func TestRouterExtractUsesConfiguredParams(t *testing.T) {
	r, _ := testRouter(t)
	r.cfg.Reduction.Extraction.SigmaThreshold = 2.5
	var got tasks.ExtractParams
	r.extractFn = func(ctx context.Context, dir string, p tasks.ExtractParams, log *slog.Logger) (int, error) {
		got = p
		return 2, nil
	}

	res := r.Process(context.Background(), Job{ID: "ext-1", Type: JobExtract, InputPath: t.TempDir()})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.SigmaThreshold != 2.5 || got.MinArea != 5 {
		t.Fatalf("config not mapped to extract params: %+v", got)
	}
	if res.Meta["catalogs"] != 2 {
		t.Fatalf("unexpected meta catalogs: %v", res.Meta["catalogs"])
	}
}

func TestRouterTweakRecordsRegistration(t *testing.T) {
	r, store := testRouter(t)
	if err := store.UpsertFrame(storage.FrameRecord{Field: "ceers", Filter: "f200w", Wave: 200, Status: storage.FrameExtracted}); err != nil {
		t.Fatalf("seed frame: %v", err)
	}
	if err := store.UpsertFrame(storage.FrameRecord{Field: "ceers", Filter: "f115w", Wave: 115, Status: storage.FrameExtracted}); err != nil {
		t.Fatalf("seed frame: %v", err)
	}

	var gotParams tasks.TweakParams
	r.tweakFn = func(ctx context.Context, frames []tasks.Frame, dir string, p tasks.TweakParams, log *slog.Logger) ([]tasks.TweakFrameResult, error) {
		gotParams = p
		return []tasks.TweakFrameResult{
			{Frame: tasks.Frame{Field: "ceers", Filter: "f200w"}, DX: 2, DY: -1, Matches: 87, RMS: 0.6},
			{Frame: tasks.Frame{Field: "ceers", Filter: "f115w"}, Skipped: true, SkipReason: "12 matches at best offset, need 50"},
		}, nil
	}

	res := r.Process(context.Background(), Job{ID: "tweak-1", Type: JobTweak, InputPath: t.TempDir()})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["registered"] != 1 || res.Meta["skipped"] != 1 {
		t.Fatalf("unexpected meta: %v", res.Meta)
	}
	if gotParams.RefFilter != "f444w" || gotParams.Align.MinMatches != 50 {
		t.Fatalf("config not mapped to tweak params: %+v", gotParams)
	}
	if gotParams.Align.Match.Tolerance != 2 {
		t.Fatalf("match tolerance not mapped: %v", gotParams.Align.Match.Tolerance)
	}

	frames, err := store.FramesForField("ceers")
	if err != nil {
		t.Fatalf("frames for field: %v", err)
	}
	byFilter := map[string]storage.FrameRecord{}
	for _, f := range frames {
		byFilter[f.Filter] = f
	}
	reg := byFilter["f200w"]
	if reg.Status != storage.FrameRegistered || reg.DX != 2 || reg.DY != -1 || reg.Matches != 87 {
		t.Fatalf("registration not persisted: %+v", reg)
	}
	skip := byFilter["f115w"]
	if skip.Status != storage.FrameSkipped || skip.SkipReason == "" {
		t.Fatalf("skip not persisted: %+v", skip)
	}
}

func TestRouterPhotozBuildsRequestFromConfig(t *testing.T) {
	r, _ := testRouter(t)
	r.cfg.Eazy.InputsDir = t.TempDir()
	r.cfg.Eazy.ZMax = 8

	var got eazy.FieldRequest
	r.photozFn = func(ctx context.Context, req eazy.FieldRequest, log *slog.Logger) (eazy.FieldResult, error) {
		got = req
		return eazy.FieldResult{Objects: 42, Filters: []string{"f200w", "f444w"}, Plots: 2}, nil
	}

	job := Job{
		ID:        "pz-1",
		Type:      JobPhotoz,
		InputPath: t.TempDir(), // empty dir, no catalogs
		Options:   map[string]any{"plotIDs": []any{float64(3), "17"}},
	}
	res := r.Process(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.RefFilter != "f444w" {
		t.Fatalf("reference filter not mapped: %v", got.RefFilter)
	}
	if got.Params.ZMax != 8 || got.Params.ApplyPrior != true {
		t.Fatalf("eazy params not mapped: %+v", got.Params)
	}
	if len(got.PlotIDs) != 2 || got.PlotIDs[0] != 3 || got.PlotIDs[1] != 17 {
		t.Fatalf("plot IDs not decoded: %v", got.PlotIDs)
	}
	if res.Meta["objects"] != 42 {
		t.Fatalf("unexpected meta objects: %v", res.Meta["objects"])
	}
}

func TestRouterPreviewSingleFile(t *testing.T) {
	r, _ := testRouter(t)
	dir := t.TempDir()
	sci := dir + "/ceers_f200w_sci.fits"
	if err := os.WriteFile(sci, []byte("x"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var outPaths []string
	r.previewFn = func(path, outPath string, p tasks.PreviewParams) error {
		outPaths = append(outPaths, outPath)
		return nil
	}

	res := r.Process(context.Background(), Job{ID: "prev-1", Type: JobPreview, InputPath: sci, Output: dir})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["previews"] != 1 {
		t.Fatalf("unexpected preview count: %v", res.Meta["previews"])
	}
	if len(outPaths) != 1 || outPaths[0] != dir+"/ceers_f200w_sci.png" {
		t.Fatalf("unexpected output path: %v", outPaths)
	}
}

func TestPlotIDs(t *testing.T) {
	cases := []struct {
		name string
		opts map[string]any
		want []int
	}{
		{"nil options", nil, nil},
		{"int slice", map[string]any{"plotIDs": []int{1, 2}}, []int{1, 2}},
		{"decoded json", map[string]any{"plotIDs": []any{float64(7), "9", "junk"}}, []int{7, 9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := plotIDs(tc.opts)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}
