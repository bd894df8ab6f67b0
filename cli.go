package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"sc2overlay/internal/config"
	"sc2overlay/internal/data"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
	port       int
	staticDir  string
}

// newRootCmd creates the "sc2overlay" command. Without a subcommand it serves.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sc2overlay",
		Short:         "StarCraft II stream overlay backend",
		Long:          "Polls the StarCraft II client API, tracks games and win/loss statistics,\nand pushes live updates to browser overlays.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.debug, os.Stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the config file (.yaml or .toml)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.IntVarP(&opts.port, "port", "p", 0, "override server.port")
	flags.StringVar(&opts.staticDir, "static", "public", "directory with overlay pages")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newMatchesCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	return cmd
}

// newServeCmd creates the "sc2overlay serve" subcommand.
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll the game client and serve overlays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signalContext(ctx)
	defer stop()

	store, err := loadConfig(opts)
	if err != nil {
		return err
	}

	app, err := NewApp(ctx, store, AppOptions{StaticDir: opts.staticDir})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// loadConfig loads and validates the config file, applying flag overrides
func loadConfig(opts *rootOptions) (*config.Store, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}
	return config.NewStore(opts.configPath, cfg), nil
}

// openMatchLog opens the configured store for one-shot commands
func openMatchLog(ctx context.Context, cfg *config.Config) (data.MatchLog, error) {
	matches, err := data.Open(ctx, storageOptions(cfg, true))
	if err != nil {
		return nil, fmt.Errorf("open match log: %w", err)
	}
	return matches, nil
}

func storageOptions(cfg *config.Config, noCache bool) data.Options {
	return data.Options{
		Driver:  cfg.Storage.Driver,
		Path:    cfg.Storage.DatabasePath,
		URL:     cfg.Storage.DatabaseURL,
		NoCache: noCache,
	}
}
