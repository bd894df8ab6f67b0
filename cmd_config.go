package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sc2overlay/internal/config"
)

// newConfigCmd creates the "sc2overlay config" command group.
func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}
	cmd.AddCommand(newConfigValidateCmd(opts))
	return cmd
}

// newConfigValidateCmd creates the "sc2overlay config validate" subcommand.
func newConfigValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long:  "Loads the configuration file, applies environment overrides and reports\nevery problem found. Exits non-zero when the file is invalid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			for _, w := range cfg.Warnings() {
				fmt.Fprintf(out, "warning: %s\n", w)
			}

			if err := cfg.Validate(); err != nil {
				var verr *config.ValidationError
				if errors.As(err, &verr) {
					for _, p := range verr.Problems {
						fmt.Fprintf(out, "error: %s\n", p)
					}
				}
				return fmt.Errorf("%s: %w", opts.configPath, err)
			}
			fmt.Fprintf(out, "%s is valid\n", opts.configPath)
			return nil
		},
	}
}
