package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate photoz configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := os.Getenv("PHOTOZ_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/photoz/config.json"
			}
			cmd.Printf("Config file: %s\n\n", cfgPath)
			cmd.Printf("Paths:\n")
			cmd.Printf("  Inbox: %s\n", root.cfg.Paths.InboxDir)
			cmd.Printf("  Work directory: %s\n", root.cfg.Paths.WorkDir)
			cmd.Printf("  Previews: %s\n", root.cfg.Paths.PreviewDir)
			cmd.Printf("  Database: %s\n", root.cfg.Paths.DatabasePath)
			cmd.Printf("\nReduction:\n")
			cmd.Printf("  Reference filter: %s\n", root.cfg.Reduction.ReferenceFilter)
			cmd.Printf("  Background box: %d px\n", root.cfg.Reduction.Background.BoxSize)
			cmd.Printf("  Detection threshold: %.2f sigma\n", root.cfg.Reduction.Extraction.SigmaThreshold)
			cmd.Printf("  Offset search: %d..%d px, min %d matches\n",
				root.cfg.Reduction.Registration.MinOffset,
				root.cfg.Reduction.Registration.MaxOffset,
				root.cfg.Reduction.Registration.MinMatches)
			cmd.Printf("\nEAZY:\n")
			cmd.Printf("  Binary: %s\n", root.cfg.Eazy.Binary)
			cmd.Printf("  Templates: %s\n", root.cfg.Eazy.TemplatesFile)
			cmd.Printf("  Redshift grid: %.2f to %.2f step %.2f\n",
				root.cfg.Eazy.ZMin, root.cfg.Eazy.ZMax, root.cfg.Eazy.ZStep)
			cmd.Printf("  Apply prior: %t\n", root.cfg.Eazy.ApplyPrior)
			cmd.Printf("\nLogging:\n")
			cmd.Printf("  Level: %s\n", root.cfg.Logging.Level)
			cmd.Printf("  Format: %s\n", root.cfg.Logging.Format)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(root); err != nil {
				return err
			}
			cmd.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func validateConfig(root *Root) error {
	reg := root.cfg.Reduction.Registration
	if reg.MinOffset > reg.MaxOffset {
		return fmt.Errorf("registration: min_offset %d exceeds max_offset %d", reg.MinOffset, reg.MaxOffset)
	}
	if reg.MinMatches < 1 {
		return fmt.Errorf("registration: min_matches must be positive, got %d", reg.MinMatches)
	}
	if reg.Tolerance <= 0 {
		return fmt.Errorf("registration: tolerance must be positive, got %g", reg.Tolerance)
	}
	if root.cfg.Reduction.ReferenceFilter == "" {
		return fmt.Errorf("reduction: reference filter is required")
	}
	if bg := root.cfg.Reduction.Background; bg.BoxSize < 2 {
		return fmt.Errorf("background: box_size must be at least 2, got %d", bg.BoxSize)
	}
	ez := root.cfg.Eazy
	if ez.ZMin >= ez.ZMax {
		return fmt.Errorf("eazy: z_min %g must be below z_max %g", ez.ZMin, ez.ZMax)
	}
	if ez.ZStep <= 0 {
		return fmt.Errorf("eazy: z_step must be positive, got %g", ez.ZStep)
	}
	return nil
}
