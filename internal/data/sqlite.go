package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"sc2overlay/internal/sc2"
	"sc2overlay/internal/stats"
)

// MemoryPath opens a private in-memory sqlite database
const MemoryPath = ":memory:"

// SQLiteStore is the default match log backed by a local sqlite file
type SQLiteStore struct {
	db     *sql.DB
	path   string
	seen   *seenMatches
	closed atomic.Bool
	logger zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == MemoryPath {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		seen:   newSeenMatches(),
		logger: log.With().Str("component", "matchlog").Str("driver", "sqlite").Logger(),
	}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.warm(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", path).Msg("Match log opened")
	return s, nil
}

// init creates the schema
func (s *SQLiteStore) init(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			player_name TEXT NOT NULL,
			opponent_name TEXT NOT NULL,
			player_race TEXT,
			opponent_race TEXT,
			result TEXT NOT NULL CHECK (result IN ('Victory', 'Defeat')),
			map_name TEXT,
			game_length_seconds INTEGER,
			raw_data TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_matches_timestamp ON matches(timestamp);
		CREATE INDEX IF NOT EXISTS idx_matches_opponent_race ON matches(opponent_race);
		CREATE INDEX IF NOT EXISTS idx_matches_key ON matches(timestamp, player_name, opponent_name);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// warm loads existing keys into the duplicate filter
func (s *SQLiteStore) warm(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, player_name, opponent_name FROM matches`)
	if err != nil {
		return fmt.Errorf("failed to load match keys: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var ts, player, opponent string
		if err := rows.Scan(&ts, &player, &opponent); err != nil {
			return fmt.Errorf("failed to scan match key: %w", err)
		}
		s.seen.Add(ts + "|" + player + "|" + opponent)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.logger.Debug().Int("matches", n).Msg("Duplicate filter warmed")
	return nil
}

// Path returns the database location
func (s *SQLiteStore) Path() string {
	return s.path
}

// RecordMatch implements MatchLog
func (s *SQLiteStore) RecordMatch(ctx context.Context, rec MatchRecord) (int64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	key := rec.Key()
	if s.seen.MaybeSeen(key) {
		dup, err := s.exists(ctx, rec)
		if err != nil {
			return 0, err
		}
		if dup {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateMatch, key)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (timestamp, player_name, opponent_name, player_race, opponent_race,
			result, map_name, game_length_seconds, raw_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTimestamp(rec.Timestamp), rec.PlayerName, rec.OpponentName,
		string(rec.PlayerRace), string(rec.OpponentRace), string(rec.Result),
		nullString(rec.MapName), nullInt(rec.GameLengthSeconds), nullString(rec.RawData))
	if err != nil {
		return 0, fmt.Errorf("failed to insert match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read match id: %w", err)
	}
	s.seen.Add(key)

	s.logger.Debug().Int64("id", id).Str("opponent", rec.OpponentName).Str("result", string(rec.Result)).Msg("Match stored")
	return id, nil
}

// ImportMatches bulk inserts records in a single transaction. Undecided and
// already stored records are skipped.
func (s *SQLiteStore) ImportMatches(ctx context.Context, recs []MatchRecord) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after Commit()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO matches (timestamp, player_name, opponent_name, player_race, opponent_race,
			result, map_name, game_length_seconds, raw_data)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM matches WHERE timestamp = ? AND player_name = ? AND opponent_name = ?
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare import statement: %w", err)
	}
	defer stmt.Close()

	imported := 0
	keys := make([]string, 0, len(recs))
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			s.logger.Debug().Err(err).Msg("Skipping record")
			continue
		}
		ts := formatTimestamp(rec.Timestamp)
		res, err := stmt.ExecContext(ctx, ts, rec.PlayerName, rec.OpponentName,
			string(rec.PlayerRace), string(rec.OpponentRace), string(rec.Result),
			nullString(rec.MapName), nullInt(rec.GameLengthSeconds), nullString(rec.RawData),
			ts, rec.PlayerName, rec.OpponentName)
		if err != nil {
			return 0, fmt.Errorf("failed to import match: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
			keys = append(keys, rec.Key())
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, k := range keys {
		s.seen.Add(k)
	}

	s.logger.Info().Int("imported", imported).Int("skipped", len(recs)-imported).Msg("Matches imported")
	return imported, nil
}

func (s *SQLiteStore) exists(ctx context.Context, rec MatchRecord) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM matches WHERE timestamp = ? AND player_name = ? AND opponent_name = ? LIMIT 1
	`, formatTimestamp(rec.Timestamp), rec.PlayerName, rec.OpponentName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate: %w", err)
	}
	return true, nil
}

// GetMatchStats implements MatchLog
func (s *SQLiteStore) GetMatchStats(ctx context.Context, filter *TimeFilter) (stats.Snapshot, error) {
	if s.closed.Load() {
		return stats.Snapshot{}, ErrStoreClosed
	}

	where, args := sqliteWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(opponent_race, ''),
			SUM(CASE WHEN result = 'Victory' THEN 1 ELSE 0 END),
			SUM(CASE WHEN result = 'Defeat' THEN 1 ELSE 0 END)
		FROM matches`+where+`
		GROUP BY opponent_race
	`, args...)
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("failed to query match stats: %w", err)
	}
	defer rows.Close()

	var counts []raceCount
	for rows.Next() {
		var rc raceCount
		if err := rows.Scan(&rc.race, &rc.wins, &rc.losses); err != nil {
			return stats.Snapshot{}, fmt.Errorf("failed to scan match stats: %w", err)
		}
		counts = append(counts, rc)
	}
	if err := rows.Err(); err != nil {
		return stats.Snapshot{}, err
	}
	rows.Close()

	var last *MatchRecord
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches`+where+`
		ORDER BY timestamp DESC, id DESC LIMIT 1`, args...)
	rec, err := scanMatch(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return stats.Snapshot{}, err
	default:
		last = &rec
	}

	return assemble(counts, last), nil
}

// GetRecentMatches implements MatchLog
func (s *SQLiteStore) GetRecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+` FROM matches
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent matches: %w", err)
	}
	defer rows.Close()

	matches := make([]MatchRecord, 0, min(limit, DefaultRecentLimit))
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, rec)
	}
	return matches, rows.Err()
}

// Count returns the number of stored matches
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	return n, nil
}

// Close implements MatchLog. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug().Msg("Match log closed")
	return s.db.Close()
}

const matchColumns = `id, timestamp, player_name, opponent_name, player_race, opponent_race,
	result, map_name, game_length_seconds, raw_data`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (MatchRecord, error) {
	var (
		rec                                        MatchRecord
		ts, result                                 string
		playerRace, opponentRace, mapName, rawData sql.NullString
		length                                     sql.NullInt64
	)
	err := row.Scan(&rec.ID, &ts, &rec.PlayerName, &rec.OpponentName, &playerRace, &opponentRace,
		&result, &mapName, &length, &rawData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MatchRecord{}, err
		}
		return MatchRecord{}, fmt.Errorf("failed to scan match: %w", err)
	}

	if rec.Timestamp, err = parseTimestamp(ts); err != nil {
		return MatchRecord{}, err
	}
	rec.PlayerRace = sc2.ParseRace(playerRace.String)
	rec.OpponentRace = sc2.ParseRace(opponentRace.String)
	rec.Result = sc2.Result(result)
	rec.MapName = mapName.String
	rec.GameLengthSeconds = int(length.Int64)
	rec.RawData = rawData.String
	return rec, nil
}

// sqliteWhere renders the filter against the fixed-width text timestamps
func sqliteWhere(f *TimeFilter) (string, []any) {
	if f == nil {
		return "", nil
	}
	var (
		clause string
		args   []any
	)
	if !f.Start.IsZero() {
		clause = " WHERE timestamp >= ?"
		args = append(args, formatTimestamp(f.Start))
	}
	if !f.End.IsZero() {
		if clause == "" {
			clause = " WHERE timestamp <= ?"
		} else {
			clause += " AND timestamp <= ?"
		}
		args = append(args, formatTimestamp(f.End))
	}
	return clause, args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}
