package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sc2overlay/internal/sc2"
	"sc2overlay/internal/stats"
)

var (
	ErrUndecidedResult = errors.New("match result is Undecided")
	ErrInvalidRecord   = errors.New("invalid match record")
	ErrDuplicateMatch  = errors.New("match already recorded")
	ErrStoreClosed     = errors.New("match store is closed")
)

// DefaultRecentLimit is used when GetRecentMatches gets a non-positive limit
const DefaultRecentLimit = 10

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MatchRecord is one concluded match. Records are never updated.
type MatchRecord struct {
	ID                int64      `json:"id"`
	Timestamp         time.Time  `json:"timestamp"`
	PlayerName        string     `json:"playerName"`
	OpponentName      string     `json:"opponentName"`
	PlayerRace        sc2.Race   `json:"playerRace"`
	OpponentRace      sc2.Race   `json:"opponentRace"`
	Result            sc2.Result `json:"result"`
	MapName           string     `json:"mapName,omitempty"`
	GameLengthSeconds int        `json:"gameLength,omitempty"`
	RawData           string     `json:"-"`
}

// MatchLog is the append-only store of concluded matches
type MatchLog interface {
	// RecordMatch appends rec and returns its id. Undecided results are
	// rejected with ErrUndecidedResult.
	RecordMatch(ctx context.Context, rec MatchRecord) (int64, error)
	// GetMatchStats recomputes statistics over the records inside filter,
	// or over the whole log when filter is nil. Never returns a nil shape.
	GetMatchStats(ctx context.Context, filter *TimeFilter) (stats.Snapshot, error)
	// GetRecentMatches returns up to limit records, newest first
	GetRecentMatches(ctx context.Context, limit int) ([]MatchRecord, error)
	Close() error
}

// Validate checks a record can be persisted
func (r MatchRecord) Validate() error {
	switch r.Result {
	case sc2.ResultVictory, sc2.ResultDefeat:
	case sc2.ResultUndecided, "":
		return fmt.Errorf("%s vs %s: %w", r.PlayerName, r.OpponentName, ErrUndecidedResult)
	default:
		return fmt.Errorf("%w: unsupported result %q", ErrInvalidRecord, r.Result)
	}
	if r.PlayerName == "" || r.OpponentName == "" {
		return fmt.Errorf("%w: player and opponent names are required", ErrInvalidRecord)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	return nil
}

// Key identifies a match for duplicate detection
func (r MatchRecord) Key() string {
	return r.Timestamp.UTC().Format(timeLayout) + "|" + r.PlayerName + "|" + r.OpponentName
}

// FromMatch builds a record from a resolved match
func FromMatch(m stats.Match, gameLength float64, rawData string) MatchRecord {
	return MatchRecord{
		Timestamp:         m.Timestamp.UTC(),
		PlayerName:        m.Me.Name,
		OpponentName:      m.Opponent.Name,
		PlayerRace:        m.Me.Race,
		OpponentRace:      m.Opponent.Race,
		Result:            m.Result(),
		GameLengthSeconds: int(gameLength),
		RawData:           rawData,
	}
}

func (r MatchRecord) lastGame() *stats.LastGame {
	oppResult := sc2.ResultVictory
	if r.Result == sc2.ResultVictory {
		oppResult = sc2.ResultDefeat
	}
	return &stats.LastGame{
		Timestamp: r.Timestamp,
		MyPlayer:  sc2.Player{Name: r.PlayerName, Type: sc2.PlayerUser, Race: r.PlayerRace, Result: r.Result},
		Opponent:  sc2.Player{Name: r.OpponentName, Type: sc2.PlayerUser, Race: r.OpponentRace, Result: oppResult},
		Result:    r.Result,
	}
}

// raceCount is one GROUP BY opponent_race row
type raceCount struct {
	race   string
	wins   int
	losses int
}

// assemble folds per-race rows into a snapshot. Totals are summed from the
// buckets so the invariant holds even for races outside the fixed set.
func assemble(rows []raceCount, last *MatchRecord) stats.Snapshot {
	s := stats.Empty()
	for _, row := range rows {
		bucket := sc2.ParseRace(row.race).Bucket()
		r := s.ByOpponentRace[bucket]
		r.Wins += row.wins
		r.Losses += row.losses
		r.Games += row.wins + row.losses
		s.ByOpponentRace[bucket] = r

		s.Total.Wins += row.wins
		s.Total.Losses += row.losses
		s.Total.Games += row.wins + row.losses
	}
	if last != nil && s.Total.Games > 0 {
		s.LastGame = last.lastGame()
	}
	return s
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
