package main

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"sc2overlay/internal/data"
	"sc2overlay/internal/sc2"
	"sc2overlay/internal/stats"
)

// newStatsCmd creates the "sc2overlay stats" subcommand.
func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON bool
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print statistics from the match log",
		Long:  "Prints win/loss statistics recomputed from the match log, using the\nconfigured time filter unless --all is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg := store.Get()

			matches, err := openMatchLog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer matches.Close()

			var filter *data.TimeFilter
			if !all {
				filter = cfg.TimeFilter(time.Now())
			}
			snap, err := matches.GetMatchStats(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("compute stats: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStats(cmd.OutOrStdout(), snap, filter)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "ignore the configured time filter")
	return cmd
}

func printStats(w io.Writer, snap stats.Snapshot, filter *data.TimeFilter) {
	if filter != nil {
		fmt.Fprintf(w, "Window: %s\n", filter)
	}
	fmt.Fprintf(w, "Total:  %s\n", formatRecord(snap.Total))
	for _, race := range sc2.Races {
		fmt.Fprintf(w, "  vs %-6s %s\n", race, formatRecord(snap.ByOpponentRace[race]))
	}
	if lg := snap.LastGame; lg != nil {
		fmt.Fprintf(w, "Last:   %s vs %s (%s) %s\n",
			lg.Result, lg.Opponent.Name, lg.Opponent.Race, lg.Timestamp.Local().Format(time.DateTime))
	}
}

func formatRecord(r stats.Record) string {
	return fmt.Sprintf("%d games, %dW %dL (%.1f%%)", r.Games, r.Wins, r.Losses, r.WinRate())
}
