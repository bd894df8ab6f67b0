package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sc2overlay/internal/sc2"
	"sc2overlay/internal/stats"
)

type counter interface {
	Count(ctx context.Context) (int, error)
}

// stores returns a fresh instance of every backend available to the test run.
// Postgres only runs when TEST_DATABASE_URL points at a scratch database.
func stores(t *testing.T) map[string]func(t *testing.T) MatchLog {
	t.Helper()
	all := map[string]func(t *testing.T) MatchLog{
		"memory": func(t *testing.T) MatchLog {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) MatchLog {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "matches.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite-memory": func(t *testing.T) MatchLog {
			s, err := OpenSQLite(context.Background(), MemoryPath)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		all["postgres"] = func(t *testing.T) MatchLog {
			ctx := context.Background()
			s, err := OpenPostgres(ctx, url)
			require.NoError(t, err)
			_, err = s.Pool().Exec(ctx, "TRUNCATE matches")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return all
}

var base = time.Date(2024, 5, 4, 20, 0, 0, 0, time.UTC)

func rec(at time.Time, opponent string, race sc2.Race, result sc2.Result) MatchRecord {
	return MatchRecord{
		Timestamp:         at,
		PlayerName:        "Maru",
		OpponentName:      opponent,
		PlayerRace:        sc2.RaceTerran,
		OpponentRace:      race,
		Result:            result,
		GameLengthSeconds: 600,
	}
}

func countOf(t *testing.T, log MatchLog) int {
	t.Helper()
	if c, ok := log.(counter); ok {
		n, err := c.Count(context.Background())
		require.NoError(t, err)
		return n
	}
	recent, err := log.GetRecentMatches(context.Background(), 100)
	require.NoError(t, err)
	return len(recent)
}

func TestMatchLogEmpty(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			s, err := log.GetMatchStats(context.Background(), nil)
			require.NoError(t, err)

			assert.Equal(t, stats.Record{}, s.Total)
			assert.Len(t, s.ByOpponentRace, 4)
			assert.Nil(t, s.LastGame)
			assert.NoError(t, s.Validate())

			recent, err := log.GetRecentMatches(context.Background(), 5)
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}

func TestMatchLogRejectsUndecided(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			ctx := context.Background()

			_, err := log.RecordMatch(ctx, rec(base, "Serral", sc2.RaceZerg, sc2.ResultVictory))
			require.NoError(t, err)

			_, err = log.RecordMatch(ctx, rec(base.Add(time.Minute), "Reynor", sc2.RaceZerg, sc2.ResultUndecided))
			assert.ErrorIs(t, err, ErrUndecidedResult)
			assert.Equal(t, 1, countOf(t, log))
		})
	}
}

func TestMatchLogTimeFilter(t *testing.T) {
	t1 := base
	t2 := base.Add(2 * time.Hour)
	t3 := base.Add(4 * time.Hour)

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			ctx := context.Background()

			for _, r := range []MatchRecord{
				rec(t1, "Serral", sc2.RaceZerg, sc2.ResultVictory),
				rec(t2, "herO", sc2.RaceProtoss, sc2.ResultDefeat),
				rec(t3, "Clem", sc2.RaceTerran, sc2.ResultVictory),
			} {
				_, err := log.RecordMatch(ctx, r)
				require.NoError(t, err)
			}

			s, err := log.GetMatchStats(ctx, &TimeFilter{Start: t2.Add(-time.Minute), End: t3.Add(time.Minute)})
			require.NoError(t, err)
			require.NoError(t, s.Validate())
			assert.Equal(t, stats.Record{Games: 2, Wins: 1, Losses: 1}, s.Total)
			assert.Equal(t, 0, s.ByOpponentRace[sc2.RaceZerg].Games)
			assert.Equal(t, stats.Record{Games: 1, Losses: 1}, s.ByOpponentRace[sc2.RaceProtoss])
			require.NotNil(t, s.LastGame)
			assert.Equal(t, "Clem", s.LastGame.Opponent.Name)
			assert.True(t, s.LastGame.Timestamp.Equal(t3))

			all, err := log.GetMatchStats(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, 3, all.Total.Games)

			unbounded, err := log.GetMatchStats(ctx, &TimeFilter{Start: t2})
			require.NoError(t, err)
			assert.Equal(t, 2, unbounded.Total.Games, "zero end is unbounded")

			none, err := log.GetMatchStats(ctx, &TimeFilter{Start: t3.Add(time.Hour)})
			require.NoError(t, err)
			assert.Equal(t, 0, none.Total.Games)
			assert.Nil(t, none.LastGame)
		})
	}
}

func TestMatchLogRecentMatches(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			ctx := context.Background()

			// insertion order differs from chronological order
			for _, off := range []int{3, 0, 5, 1, 4, 2} {
				r := rec(base.Add(time.Duration(off)*time.Hour), "Opp", sc2.RaceZerg, sc2.ResultVictory)
				r.MapName = "Alcyone LE"
				_, err := log.RecordMatch(ctx, r)
				require.NoError(t, err)
			}

			recent, err := log.GetRecentMatches(ctx, 4)
			require.NoError(t, err)
			require.Len(t, recent, 4)
			for i := 1; i < len(recent); i++ {
				assert.True(t, recent[i-1].Timestamp.After(recent[i].Timestamp))
			}
			assert.True(t, recent[0].Timestamp.Equal(base.Add(5*time.Hour)))
			assert.Equal(t, "Alcyone LE", recent[0].MapName)
			assert.Equal(t, 600, recent[0].GameLengthSeconds)
			assert.Equal(t, sc2.RaceTerran, recent[0].PlayerRace)
			assert.NotZero(t, recent[0].ID)

			def, err := log.GetRecentMatches(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, def, 6, "default limit covers all six")
		})
	}
}

func TestMatchLogUnknownRaceBucketsAsRandom(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			ctx := context.Background()

			_, err := log.RecordMatch(ctx, rec(base, "Barcode", sc2.RaceUnknown, sc2.ResultDefeat))
			require.NoError(t, err)
			_, err = log.RecordMatch(ctx, rec(base.Add(time.Hour), "Rand", sc2.RaceRandom, sc2.ResultVictory))
			require.NoError(t, err)

			s, err := log.GetMatchStats(ctx, nil)
			require.NoError(t, err)
			require.NoError(t, s.Validate())
			assert.Equal(t, stats.Record{Games: 2, Wins: 1, Losses: 1}, s.ByOpponentRace[sc2.RaceRandom])
		})
	}
}

func TestMatchLogRejectsDuplicates(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			ctx := context.Background()
			r := rec(base, "Serral", sc2.RaceZerg, sc2.ResultVictory)

			_, err := log.RecordMatch(ctx, r)
			require.NoError(t, err)
			_, err = log.RecordMatch(ctx, r)
			assert.ErrorIs(t, err, ErrDuplicateMatch)

			other := r
			other.OpponentName = "Reynor"
			_, err = log.RecordMatch(ctx, other)
			require.NoError(t, err)
			assert.Equal(t, 2, countOf(t, log))
		})
	}
}

func TestMatchLogImport(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			ctx := context.Background()

			_, err := log.RecordMatch(ctx, rec(base, "Serral", sc2.RaceZerg, sc2.ResultVictory))
			require.NoError(t, err)

			n, err := Import(ctx, log, []MatchRecord{
				rec(base, "Serral", sc2.RaceZerg, sc2.ResultVictory),
				rec(base.Add(time.Hour), "herO", sc2.RaceProtoss, sc2.ResultDefeat),
				rec(base.Add(2*time.Hour), "Clem", sc2.RaceTerran, sc2.ResultUndecided),
				rec(base.Add(3*time.Hour), "Clem", sc2.RaceTerran, sc2.ResultVictory),
			})
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, 3, countOf(t, log))

			_, err = log.RecordMatch(ctx, rec(base.Add(time.Hour), "herO", sc2.RaceProtoss, sc2.ResultDefeat))
			assert.ErrorIs(t, err, ErrDuplicateMatch, "imported keys are tracked")
		})
	}
}

func TestMatchLogClosed(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			log := open(t)
			require.NoError(t, log.Close())
			require.NoError(t, log.Close())

			_, err := log.RecordMatch(context.Background(), rec(base, "Serral", sc2.RaceZerg, sc2.ResultVictory))
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = log.GetMatchStats(context.Background(), nil)
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestSQLiteReopenKeepsMatches(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sc2stats.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = s.RecordMatch(ctx, rec(base, "Serral", sc2.RaceZerg, sc2.ResultVictory))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.RecordMatch(ctx, rec(base, "Serral", sc2.RaceZerg, sc2.ResultVictory))
	assert.ErrorIs(t, err, ErrDuplicateMatch)
}

func TestValidateRecord(t *testing.T) {
	good := rec(base, "Serral", sc2.RaceZerg, sc2.ResultDefeat)
	assert.NoError(t, good.Validate())

	tie := good
	tie.Result = sc2.ResultTie
	assert.ErrorIs(t, tie.Validate(), ErrInvalidRecord)

	empty := good
	empty.Result = ""
	assert.ErrorIs(t, empty.Validate(), ErrUndecidedResult)

	noName := good
	noName.OpponentName = ""
	assert.ErrorIs(t, noName.Validate(), ErrInvalidRecord)

	noTime := good
	noTime.Timestamp = time.Time{}
	assert.ErrorIs(t, noTime.Validate(), ErrInvalidRecord)
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	log, err := Open(ctx, Options{Driver: DriverMemory})
	require.NoError(t, err)
	_, cached := log.(*CachedLog)
	assert.True(t, cached)
	log.Close()

	log, err = Open(ctx, Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "x.db"), NoCache: true})
	require.NoError(t, err)
	_, ok := log.(*SQLiteStore)
	assert.True(t, ok)
	log.Close()

	_, err = Open(ctx, Options{Driver: "mongo"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: DriverPostgres})
	assert.Error(t, err, "postgres needs a URL")
}
