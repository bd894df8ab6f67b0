// Package data persists concluded matches and recomputes statistics from
// them over arbitrary time windows.
package data

import (
	"context"
	"errors"
	"fmt"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects and locates the match log backend
type Options struct {
	Driver string
	Path   string // sqlite
	URL    string // postgres
	// NoCache disables the statistics cache
	NoCache bool
}

// Importer is implemented by stores that support bulk loading
type Importer interface {
	ImportMatches(ctx context.Context, recs []MatchRecord) (int, error)
}

// Open creates the configured match log
func Open(ctx context.Context, opts Options) (MatchLog, error) {
	var (
		log MatchLog
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		log, err = OpenSQLite(ctx, opts.Path)
	case DriverPostgres:
		log, err = OpenPostgres(ctx, opts.URL)
	case DriverMemory:
		log = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.NoCache {
		return log, nil
	}
	return WithCache(log), nil
}

// Import bulk loads recs into log, falling back to one RecordMatch per
// record for stores without an Importer. Duplicates and Undecided records
// are skipped.
func Import(ctx context.Context, log MatchLog, recs []MatchRecord) (int, error) {
	if imp, ok := log.(Importer); ok {
		return imp.ImportMatches(ctx, recs)
	}
	n := 0
	for _, rec := range recs {
		if rec.Validate() != nil {
			continue
		}
		_, err := log.RecordMatch(ctx, rec)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrDuplicateMatch):
		default:
			return n, err
		}
	}
	return n, nil
}
