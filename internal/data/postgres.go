package data

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sc2overlay/internal/sc2"
	"sc2overlay/internal/stats"
)

// PostgresStore keeps the match log in a shared PostgreSQL database
type PostgresStore struct {
	pool   *pgxpool.Pool
	seen   *seenMatches
	closed atomic.Bool
	logger zerolog.Logger
}

// OpenPostgres connects to databaseURL and applies the schema
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		seen:   newSeenMatches(),
		logger: log.With().Str("component", "matchlog").Str("driver", "postgres").Logger(),
	}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.warm(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info().Msg("Match log opened")
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
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
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) warm(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT timestamp, player_name, opponent_name FROM matches`)
	if err != nil {
		return fmt.Errorf("failed to load match keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec MatchRecord
		if err := rows.Scan(&rec.Timestamp, &rec.PlayerName, &rec.OpponentName); err != nil {
			return fmt.Errorf("failed to scan match key: %w", err)
		}
		s.seen.Add(rec.Key())
	}
	return rows.Err()
}

// Pool returns the underlying connection pool for custom queries
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// postgres stores microseconds
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// RecordMatch implements MatchLog
func (s *PostgresStore) RecordMatch(ctx context.Context, rec MatchRecord) (int64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	rec.Timestamp = pgTime(rec.Timestamp)

	key := rec.Key()
	if s.seen.MaybeSeen(key) {
		var dup bool
		err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM matches WHERE timestamp = $1 AND player_name = $2 AND opponent_name = $3)
		`, rec.Timestamp, rec.PlayerName, rec.OpponentName).Scan(&dup)
		if err != nil {
			return 0, fmt.Errorf("failed to check for duplicate: %w", err)
		}
		if dup {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateMatch, key)
		}
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO matches (timestamp, player_name, opponent_name, player_race, opponent_race,
			result, map_name, game_length_seconds, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, rec.Timestamp, rec.PlayerName, rec.OpponentName, string(rec.PlayerRace), string(rec.OpponentRace),
		string(rec.Result), optString(rec.MapName), optInt(rec.GameLengthSeconds), optString(rec.RawData)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert match: %w", err)
	}
	s.seen.Add(key)
	return id, nil
}

// ImportMatches bulk inserts records in one transaction, skipping Undecided
// and already stored records
func (s *PostgresStore) ImportMatches(ctx context.Context, recs []MatchRecord) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	var queued []MatchRecord
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			continue
		}
		rec.Timestamp = pgTime(rec.Timestamp)
		batch.Queue(`
			INSERT INTO matches (timestamp, player_name, opponent_name, player_race, opponent_race,
				result, map_name, game_length_seconds, raw_data)
			SELECT $1::timestamptz, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::int, $9::text
			WHERE NOT EXISTS (
				SELECT 1 FROM matches WHERE timestamp = $1 AND player_name = $2 AND opponent_name = $3
			)
		`, rec.Timestamp, rec.PlayerName, rec.OpponentName, string(rec.PlayerRace), string(rec.OpponentRace),
			string(rec.Result), optString(rec.MapName), optInt(rec.GameLengthSeconds), optString(rec.RawData))
		queued = append(queued, rec)
	}

	imported := 0
	var keys []string
	br := tx.SendBatch(ctx, batch)
	for _, rec := range queued {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("failed to import match: %w", err)
		}
		if tag.RowsAffected() > 0 {
			imported++
			keys = append(keys, rec.Key())
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to import matches: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, k := range keys {
		s.seen.Add(k)
	}

	s.logger.Info().Int("imported", imported).Int("skipped", len(recs)-imported).Msg("Matches imported")
	return imported, nil
}

// GetMatchStats implements MatchLog
func (s *PostgresStore) GetMatchStats(ctx context.Context, filter *TimeFilter) (stats.Snapshot, error) {
	if s.closed.Load() {
		return stats.Snapshot{}, ErrStoreClosed
	}

	where, args := pgWhere(filter)
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(opponent_race, ''),
			SUM(CASE WHEN result = 'Victory' THEN 1 ELSE 0 END)::int,
			SUM(CASE WHEN result = 'Defeat' THEN 1 ELSE 0 END)::int
		FROM matches`+where+`
		GROUP BY opponent_race
	`, args...)
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("failed to query match stats: %w", err)
	}
	var counts []raceCount
	for rows.Next() {
		var (
			race         string
			wins, losses int32
		)
		if err := rows.Scan(&race, &wins, &losses); err != nil {
			rows.Close()
			return stats.Snapshot{}, fmt.Errorf("failed to scan match stats: %w", err)
		}
		counts = append(counts, raceCount{race: race, wins: int(wins), losses: int(losses)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats.Snapshot{}, err
	}

	var last *MatchRecord
	rec, err := pgScanMatch(s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches`+where+`
		ORDER BY timestamp DESC, id DESC LIMIT 1`, args...))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return stats.Snapshot{}, err
	default:
		last = &rec
	}

	return assemble(counts, last), nil
}

// GetRecentMatches implements MatchLog
func (s *PostgresStore) GetRecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.pool.Query(ctx, `SELECT `+matchColumns+` FROM matches
		ORDER BY timestamp DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent matches: %w", err)
	}
	defer rows.Close()

	matches := make([]MatchRecord, 0, min(limit, DefaultRecentLimit))
	for rows.Next() {
		rec, err := pgScanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, rec)
	}
	return matches, rows.Err()
}

// Close implements MatchLog
func (s *PostgresStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
}

func pgScanMatch(row pgx.Row) (MatchRecord, error) {
	var (
		rec                                        MatchRecord
		result                                     string
		playerRace, opponentRace, mapName, rawData *string
		length                                     *int32
	)
	err := row.Scan(&rec.ID, &rec.Timestamp, &rec.PlayerName, &rec.OpponentName, &playerRace, &opponentRace,
		&result, &mapName, &length, &rawData)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchRecord{}, err
		}
		return MatchRecord{}, fmt.Errorf("failed to scan match: %w", err)
	}

	rec.Timestamp = rec.Timestamp.UTC()
	rec.PlayerRace = sc2.ParseRace(deref(playerRace))
	rec.OpponentRace = sc2.ParseRace(deref(opponentRace))
	rec.Result = sc2.Result(result)
	rec.MapName = deref(mapName)
	rec.RawData = deref(rawData)
	if length != nil {
		rec.GameLengthSeconds = int(*length)
	}
	return rec, nil
}

func pgWhere(f *TimeFilter) (string, []any) {
	if f == nil {
		return "", nil
	}
	var (
		clause string
		args   []any
	)
	if !f.Start.IsZero() {
		args = append(args, f.Start.UTC())
		clause = fmt.Sprintf(" WHERE timestamp >= $%d", len(args))
	}
	if !f.End.IsZero() {
		args = append(args, f.End.UTC())
		if clause == "" {
			clause = fmt.Sprintf(" WHERE timestamp <= $%d", len(args))
		} else {
			clause += fmt.Sprintf(" AND timestamp <= $%d", len(args))
		}
	}
	return clause, args
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(n int) *int32 {
	if n <= 0 {
		return nil
	}
	v := int32(n)
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
