package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/photoz/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Reduction  Reduction  `json:"reduction"`
	Eazy       Eazy       `json:"eazy"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	InboxDir     string `json:"inbox_dir"`   // where i2d products arrive
	WorkDir      string `json:"work_dir"`    // split frames, catalogs
	PreviewDir   string `json:"preview_dir"` // rendered PNGs
	DatabasePath string `json:"database_path"`
}

// Reduction configures the image-reduction stages.
type Reduction struct {
	ReferenceFilter string       `json:"reference_filter"`
	Background      Background   `json:"background"`
	Extraction      Extraction   `json:"extraction"`
	Registration    Registration `json:"registration"`
	SettleSeconds   int          `json:"watch_settle_seconds"`
}

// Background configures the mesh background estimate.
type Background struct {
	BoxSize    int     `json:"box_size"`
	FilterSize int     `json:"filter_size"`
	SigmaClip  float64 `json:"sigma_clip"`
	ClipIters  int     `json:"clip_iters"`
}

// Extraction configures source detection.
type Extraction struct {
	SigmaThreshold float64 `json:"sigma_threshold"`
	MinArea        int     `json:"min_area"`
	MaxArea        int     `json:"max_area"`
}

// Registration configures the offset search and pair matching.
type Registration struct {
	MinOffset  int     `json:"min_offset"`
	MaxOffset  int     `json:"max_offset"`
	MinMatches int     `json:"min_matches"`
	SearchRad  float64 `json:"search_radius"`
	Separation float64 `json:"separation"`
	Tolerance  float64 `json:"tolerance"`
}

// Eazy locates the EAZY installation and sets the redshift grid.
type Eazy struct {
	Binary        string  `json:"binary"`
	InputsDir     string  `json:"inputs_dir"`
	FiltersRes    string  `json:"filters_res"`
	TemplatesFile string  `json:"templates_file"`
	OutputDir     string  `json:"output_directory"`
	ZMin          float64 `json:"z_min"`
	ZMax          float64 `json:"z_max"`
	ZStep         float64 `json:"z_step"`
	ApplyPrior    bool    `json:"apply_prior"`
	PriorFile     string  `json:"prior_file"`
	PriorFilter   int     `json:"prior_filter"`
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	return defaultConfig()
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("PHOTOZ_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			InboxDir:     ".",
			WorkDir:      "./work",
			PreviewDir:   "./previews",
			DatabasePath: filepath.Join(os.TempDir(), "photoz.db"),
		},
		Reduction: Reduction{
			ReferenceFilter: "f444w",
			Background:      Background{BoxSize: 64, FilterSize: 3, SigmaClip: 3, ClipIters: 5},
			Extraction:      Extraction{SigmaThreshold: 1.5, MinArea: 5},
			Registration: Registration{
				MinOffset:  -3,
				MaxOffset:  2,
				MinMatches: 50,
				SearchRad:  10,
				Separation: 1,
				Tolerance:  2,
			},
			SettleSeconds: 2,
		},
		Eazy: Eazy{
			Binary:        "eazy",
			InputsDir:     "./eazy/inputs",
			FiltersRes:    "FILTER.RES.latest",
			TemplatesFile: "templates/eazy_v1.3.spectra.param",
			OutputDir:     "OUTPUT",
			ZMin:          0.01,
			ZMax:          12,
			ZStep:         0.01,
			ApplyPrior:    true,
			PriorFile:     "templates/prior_K_extend.dat",
			PriorFilter:   377,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
