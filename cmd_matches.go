package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"sc2overlay/internal/data"
)

// newMatchesCmd creates the "sc2overlay matches" subcommand.
func newMatchesCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Print the most recent matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadConfig(opts)
			if err != nil {
				return err
			}

			matches, err := openMatchLog(cmd.Context(), store.Get())
			if err != nil {
				return err
			}
			defer matches.Close()

			recs, err := matches.GetRecentMatches(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("load matches: %w", err)
			}

			if asJSON {
				if recs == nil {
					recs = []data.MatchRecord{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			return printMatches(cmd.OutOrStdout(), recs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", data.DefaultRecentLimit, "maximum matches to show")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printMatches(w io.Writer, recs []data.MatchRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No matches recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tRESULT\tPLAYER\tOPPONENT\tLENGTH")
	for _, r := range recs {
		length := "-"
		if r.GameLengthSeconds > 0 {
			length = (time.Duration(r.GameLengthSeconds) * time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s (%s)\t%s (%s)\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Result,
			r.PlayerName, r.PlayerRace, r.OpponentName, r.OpponentRace, length)
	}
	return tw.Flush()
}
