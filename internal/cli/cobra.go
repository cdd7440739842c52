package cli

import (
	"fmt"

	"log/slog"

	"photoz/internal/config"
	"photoz/internal/pipeline"
	"photoz/internal/storage"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "photoz",
		Short: "photoz reduces JWST imaging and measures photometric redshifts",
		Long: `photoz takes drizzled i2d products through science/weight splitting,
background subtraction, source extraction and astrometric registration,
then feeds the merged photometry to EAZY for redshift estimation.`,
	}

	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newPrepCmd(root))
	rootCmd.AddCommand(newBkgSubCmd(root))
	rootCmd.AddCommand(newExtractCmd(root))
	rootCmd.AddCommand(newTweakCmd(root))
	rootCmd.AddCommand(newPhotozCmd(root))
	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newPreviewCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newScanCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <input_directory>",
		Short: "List drizzled i2d products in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("scan"),
				Type:      pipeline.JobScan,
				InputPath: args[0],
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}
}

func newPrepCmd(root *Root) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "prep <input_directory>",
		Short: "Split i2d products into science and weight frames",
		Long: `Split each i2d product into a science frame and a weight frame.
The science header gains the AB zeropoint computed from the pixel area,
plus the field and filter parsed from the product name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = root.cfg.Paths.WorkDir
			}
			job := pipeline.Job{
				ID:        newID("prep"),
				Type:      pipeline.JobPrep,
				InputPath: args[0],
				Output:    output,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "work directory for split frames (default from config)")

	return cmd
}

func newBkgSubCmd(root *Root) *cobra.Command {
	var boxSize int

	cmd := &cobra.Command{
		Use:   "bkgsub [work_directory]",
		Short: "Subtract the sky background from split science frames",
		Long: `Estimate the sky on a sigma-clipped mesh, median-filter the mesh and
subtract the interpolated background from every science frame.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if boxSize > 0 {
				root.cfg.Reduction.Background.BoxSize = boxSize
			}
			job := pipeline.Job{
				ID:        newID("bkgsub"),
				Type:      pipeline.JobBkgSub,
				InputPath: argOrDefault(args, root.cfg.Paths.WorkDir),
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().IntVar(&boxSize, "box-size", 0, "background mesh box size in pixels (default from config)")

	return cmd
}

func newExtractCmd(root *Root) *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "extract [work_directory]",
		Short: "Extract source catalogs from science frames",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold > 0 {
				root.cfg.Reduction.Extraction.SigmaThreshold = threshold
			}
			job := pipeline.Job{
				ID:        newID("extract"),
				Type:      pipeline.JobExtract,
				InputPath: argOrDefault(args, root.cfg.Paths.WorkDir),
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "detection threshold in sky sigma (default from config)")

	return cmd
}

func newTweakCmd(root *Root) *cobra.Command {
	var reference string

	cmd := &cobra.Command{
		Use:   "tweak [work_directory]",
		Short: "Register frames onto the reference filter's pixel grid",
		Long: `Search integer pixel offsets between each frame's catalog and the
reference catalog, fit a tangent-plane solution to the matched pairs
and reproject the science and weight frames onto the reference grid.
Frames with too few matches are left untouched and reported.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reference != "" {
				root.cfg.Reduction.ReferenceFilter = reference
			}
			job := pipeline.Job{
				ID:        newID("tweak"),
				Type:      pipeline.JobTweak,
				InputPath: argOrDefault(args, root.cfg.Paths.WorkDir),
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVar(&reference, "reference", "", "reference filter (default f444w)")

	return cmd
}

func newPhotozCmd(root *Root) *cobra.Command {
	var (
		plotIDs []int
		binary  string
	)

	cmd := &cobra.Command{
		Use:   "photoz [work_directory]",
		Short: "Run EAZY over the merged multi-band catalog",
		Long: `Cross-match the per-filter catalogs against the reference filter,
write the EAZY catalog, translate and parameter files, run the EAZY
binary, and optionally plot the observed SED and P(z) for chosen
objects.

Examples:
  # Full field
  photoz photoz ./work

  # With SED and P(z) panels for two objects
  photoz photoz ./work --plot 117 --plot 204`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if binary != "" {
				root.cfg.Eazy.Binary = binary
			}
			job := pipeline.Job{
				ID:        newID("photoz"),
				Type:      pipeline.JobPhotoz,
				InputPath: argOrDefault(args, root.cfg.Paths.WorkDir),
				Options:   map[string]any{"plotIDs": plotIDs},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().IntSliceVar(&plotIDs, "plot", nil, "object IDs to plot (repeatable)")
	cmd.Flags().StringVar(&binary, "binary", "", "EAZY executable (default from config)")

	return cmd
}

func newRunCmd(root *Root) *cobra.Command {
	var (
		workDir string
		photoz  bool
		plotIDs []int
	)

	cmd := &cobra.Command{
		Use:   "run <input_directory>",
		Short: "Run the full reduction chain over a field",
		Long: `Run prep, background subtraction, extraction and registration in
sequence. With --photoz the EAZY stage runs at the end.

Examples:
  photoz run /data/inbox --work ./work
  photoz run /data/inbox --photoz --plot 117`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workDir == "" {
				workDir = root.cfg.Paths.WorkDir
			}
			if len(plotIDs) > 0 {
				photoz = true
			}
			return root.runReduction(cmd.Context(), args[0], workDir, photoz, plotIDs)
		},
	}

	cmd.Flags().StringVar(&workDir, "work", "", "work directory (default from config)")
	cmd.Flags().BoolVar(&photoz, "photoz", false, "run the EAZY stage after registration")
	cmd.Flags().IntSliceVar(&plotIDs, "plot", nil, "object IDs to plot after EAZY (implies --photoz)")

	return cmd
}

func newPreviewCmd(root *Root) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "preview <path>",
		Short: "Render PNG previews of science frames",
		Long: `Render a percentile-stretched PNG for a single science frame, or for
every split frame when given a directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("preview"),
				Type:      pipeline.JobPreview,
				InputPath: args[0],
				Output:    output,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "directory for rendered PNGs (default from config)")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		dirs    []string
		workDir string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch inbox directories and prep new products automatically",
		Long: `Watch one or more directories for arriving i2d products. Each product
that settles queues a prep job for its directory.

Examples:
  photoz watch --dir /data/inbox
  photoz watch --dir /data/inbox --dir /data/reprocess --work ./work`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(dirs) == 0 {
				dirs = []string{root.cfg.Paths.InboxDir}
			}
			if workDir == "" {
				workDir = root.cfg.Paths.WorkDir
			}
			return root.watchInbox(cmd.Context(), dirs, workDir)
		},
	}

	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "directories to watch (default: configured inbox)")
	cmd.Flags().StringVar(&workDir, "work", "", "work directory for split frames (default from config)")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start an HTTP server exposing job submission and history, per-field
frame state, and live result streaming over SSE and websockets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server", "addr", addr)
			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "server address (host:port)")

	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show recent processing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("no job database configured")
			}
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				cmd.Println("No jobs recorded.")
				return nil
			}
			for _, rec := range recs {
				line := fmt.Sprintf("%-32s %-8s %-10s %s", rec.ID, rec.JobType, rec.Status, rec.InputPath)
				if rec.Error != "" {
					line += "  (" + rec.Error + ")"
				}
				cmd.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("photoz v1.0.0")
		},
	}
}

func argOrDefault(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}
