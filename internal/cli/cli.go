package cli

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"log/slog"

	"photoz/internal/config"
	"photoz/internal/pipeline"
	"photoz/internal/server"
	"photoz/internal/storage"
	"photoz/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	if real, ok := pipe.(*pipeline.Pipeline); ok {
		return server.Serve(ctx, addr, store, real, log)
	}
	return fmt.Errorf("pipeline does not support server operation")
}

type watcherFunc func(dirs []string, settle time.Duration, log *slog.Logger) (*tasks.InboxWatcher, error)

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	watchFn  watcherFunc
}

// NewRoot constructs the CLI root command.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		watchFn:  tasks.NewInboxWatcher,
	}
}

// enqueueAndWait submits a job and blocks until its result arrives.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				if res.Error != nil {
					return res.Error
				}
				return nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// runReduction executes the reduction chain over workDir: prep from
// inputDir, then background subtraction, extraction and registration.
// When photoz is set the EAZY stage runs at the end.
func (r *Root) runReduction(ctx context.Context, inputDir, workDir string, photoz bool, plotIDs []int) error {
	jobs := []pipeline.Job{
		{ID: newID("prep"), Type: pipeline.JobPrep, InputPath: inputDir, Output: workDir},
		{ID: newID("bkgsub"), Type: pipeline.JobBkgSub, InputPath: workDir},
		{ID: newID("extract"), Type: pipeline.JobExtract, InputPath: workDir},
		{ID: newID("tweak"), Type: pipeline.JobTweak, InputPath: workDir},
	}
	if photoz {
		jobs = append(jobs, pipeline.Job{
			ID:        newID("photoz"),
			Type:      pipeline.JobPhotoz,
			InputPath: workDir,
			Options:   map[string]any{"plotIDs": plotIDs},
		})
	}
	for _, job := range jobs {
		if err := r.enqueueAndWait(ctx, job); err != nil {
			return fmt.Errorf("%s stage: %w", job.Type, err)
		}
	}
	return nil
}

// watchInbox blocks, queueing a prep job each time a new i2d product
// settles in one of the watched directories.
func (r *Root) watchInbox(ctx context.Context, dirs []string, workDir string) error {
	settle := time.Duration(r.cfg.Reduction.SettleSeconds) * time.Second
	watcher, err := r.watchFn(dirs, settle, r.log)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	r.log.Info("watching for new products", "dirs", dirs, "settle", settle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-watcher.Events:
			if r.store != nil {
				_ = r.store.RecordInboxEvent(ev.Path, ev.Time)
			}
			job := pipeline.Job{
				ID:        newID("prep"),
				Type:      pipeline.JobPrep,
				InputPath: filepath.Dir(ev.Path),
				Output:    workDir,
			}
			if err := r.enqueue(ctx, job); err != nil {
				r.log.Warn("could not queue prep for new product", "path", ev.Path, "error", err)
			}
		}
	}
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
