// Package stats keeps running win/loss totals for the configured player.
package stats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sc2overlay/internal/events"
	"sc2overlay/internal/sc2"
)

var (
	ErrNotGameEnd          = errors.New("event is not a game end")
	ErrPlayerNotIdentified = errors.New("configured player not found in match")
	ErrNoOpponent          = errors.New("opponent not found in match")
	ErrUndecided           = errors.New("match result is not decided")
)

// Match is a concluded match resolved from a GameEnded event
type Match struct {
	Timestamp time.Time
	Me        sc2.Player
	Opponent  sc2.Player
	Win       bool
}

// Result returns Victory or Defeat from my point of view
func (m Match) Result() sc2.Result {
	if m.Win {
		return sc2.ResultVictory
	}
	return sc2.ResultDefeat
}

// ResolveMatch extracts me and my opponent from a GameEnded event. The
// engine's identification is trusted first, name matching is the fallback.
// Only Victory and Defeat count; anything else is ErrUndecided.
func ResolveMatch(e events.Event, playerName string, exactMatch bool) (Match, error) {
	if e.Kind != events.GameEnded {
		return Match{}, ErrNotGameEnd
	}

	me := e.MyPlayer
	if me == nil {
		me, _ = sc2.FindPlayer(e.Players, playerName, exactMatch)
	}
	if me == nil {
		return Match{}, fmt.Errorf("%w: %q", ErrPlayerNotIdentified, playerName)
	}

	opp := sc2.Opponent(e.Players, me)
	if opp == nil {
		return Match{}, ErrNoOpponent
	}

	switch me.Result {
	case sc2.ResultVictory, sc2.ResultDefeat:
	default:
		return Match{}, fmt.Errorf("%w: %s", ErrUndecided, me.Result)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Match{
		Timestamp: ts,
		Me:        *me,
		Opponent:  *opp,
		Win:       me.Result == sc2.ResultVictory,
	}, nil
}

// Aggregator is the in-memory statistics cache. Readers always see a
// complete snapshot.
type Aggregator struct {
	mu         sync.RWMutex
	snap       Snapshot
	playerName string
	exactMatch bool
	logger     zerolog.Logger
}

// NewAggregator creates an empty aggregator for playerName
func NewAggregator(playerName string, exactMatch bool) *Aggregator {
	return &Aggregator{
		snap:       Empty(),
		playerName: playerName,
		exactMatch: exactMatch,
		logger:     log.With().Str("component", "stats").Logger(),
	}
}

// SetPlayer updates the identification fallback settings
func (a *Aggregator) SetPlayer(playerName string, exactMatch bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playerName = playerName
	a.exactMatch = exactMatch
}

// RecordMatchEnd counts a GameEnded event. Events that cannot be resolved
// are skipped and reported through the error.
func (a *Aggregator) RecordMatchEnd(e events.Event) (Match, error) {
	m, err := a.Resolve(e)
	if err != nil {
		return Match{}, err
	}
	a.Record(m)
	return m, nil
}

// Resolve identifies the match in a GameEnded event with the current player
// settings without counting it
func (a *Aggregator) Resolve(e events.Event) (Match, error) {
	a.mu.RLock()
	name, exact := a.playerName, a.exactMatch
	a.mu.RUnlock()

	m, err := ResolveMatch(e, name, exact)
	if err != nil {
		if errors.Is(err, ErrPlayerNotIdentified) {
			a.logger.Warn().
				Str("player", name).
				Strs("players", names(e.Players)).
				Msg("PLAYER NOT IDENTIFIED, statistics not recorded. Check player.name in the config")
		}
		return Match{}, err
	}
	return m, nil
}

// Record applies a resolved match as one update
func (a *Aggregator) Record(m Match) {
	a.mu.Lock()
	a.snap.Add(m.Opponent.Race, m.Win)
	a.snap.LastGame = &LastGame{
		Timestamp: m.Timestamp,
		MyPlayer:  m.Me,
		Opponent:  m.Opponent,
		Result:    m.Result(),
	}
	total := a.snap.Total
	a.mu.Unlock()

	a.logger.Info().
		Str("result", string(m.Result())).
		Str("opponent", m.Opponent.Name).
		Str("race", string(m.Opponent.Race)).
		Int("games", total.Games).
		Int("wins", total.Wins).
		Msg("Match recorded")
}

// Stats returns a copy of the current snapshot
func (a *Aggregator) Stats() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap.Clone()
}

// SetStats replaces the snapshot, typically with totals recomputed from
// the match log at startup
func (a *Aggregator) SetStats(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.snap = s.Clone()
	a.mu.Unlock()

	a.logger.Debug().Int("games", s.Total.Games).Msg("Statistics replaced")
	return nil
}

func names(players []sc2.Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Name
	}
	return out
}
