package eazy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"log/slog"
)

// RunOptions locates the EAZY installation.
type RunOptions struct {
	Binary  string // eazy executable, default "eazy" from PATH
	WorkDir string // inputs directory holding zphot.param
	LogFile string // stdout/stderr capture, default eazy.log in WorkDir
}

// Run executes EAZY in the inputs directory, capturing its output to
// the logfile. The OUTPUT directory is created beforehand since EAZY
// does not make it itself.
func Run(ctx context.Context, opts RunOptions, p Params, log *slog.Logger) error {
	bin := opts.Binary
	if bin == "" {
		bin = "eazy"
	}
	logFile := opts.LogFile
	if logFile == "" {
		logFile = filepath.Join(opts.WorkDir, "eazy.log")
	}

	if err := os.MkdirAll(filepath.Join(opts.WorkDir, p.OutputDir), 0o755); err != nil {
		return err
	}

	out, err := os.Create(logFile)
	if err != nil {
		return err
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, bin)
	cmd.Dir = opts.WorkDir
	cmd.Stdout = out
	cmd.Stderr = out

	log.Info("running eazy", "binary", bin, "dir", opts.WorkDir, "log", logFile)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("eazy failed (see %s): %w", logFile, err)
	}
	return nil
}
