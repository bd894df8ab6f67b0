package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"sc2overlay/internal/data"
)

// newExportCmd creates the "sc2overlay export" subcommand.
func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every recorded match as a JSON array",
		Args:  cobra.MaximumNArgs(1),
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

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer f.Close()
				out = f
			}

			n, err := exportMatches(cmd.Context(), matches, out)
			if err != nil {
				return err
			}
			log.Info().Int("matches", n).Msg("Export complete")
			return nil
		},
	}
}

// newImportCmd creates the "sc2overlay import" subcommand.
func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load matches from a JSON array produced by export",
		Long:  "Bulk loads matches into the match log. Matches already recorded and\nmatches without a Victory or Defeat result are skipped.",
		Args:  cobra.ExactArgs(1),
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

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			n, total, err := importMatches(cmd.Context(), matches, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d matches\n", n, total)
			return nil
		},
	}
}

// exportMatches writes the whole log oldest first
func exportMatches(ctx context.Context, matches data.MatchLog, w io.Writer) (int, error) {
	recs, err := matches.GetRecentMatches(ctx, math.MaxInt32)
	if err != nil {
		return 0, fmt.Errorf("load matches: %w", err)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	if recs == nil {
		recs = []data.MatchRecord{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return 0, fmt.Errorf("encode matches: %w", err)
	}
	return len(recs), nil
}

func importMatches(ctx context.Context, matches data.MatchLog, r io.Reader) (imported, total int, err error) {
	var recs []data.MatchRecord
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return 0, 0, fmt.Errorf("decode matches: %w", err)
	}
	for i := range recs {
		recs[i].ID = 0
	}

	n, err := data.Import(ctx, matches, recs)
	if err != nil {
		return n, len(recs), fmt.Errorf("import matches: %w", err)
	}
	return n, len(recs), nil
}
