package stats

import (
	"errors"
	"fmt"
	"time"

	"sc2overlay/internal/sc2"
)

// ErrInvalidStats is returned when a snapshot fails structural validation
var ErrInvalidStats = errors.New("invalid statistics snapshot")

// Record holds win/loss counters
type Record struct {
	Games  int `json:"games"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// WinRate returns wins/games as a percentage, 0 with no games
func (r Record) WinRate() float64 {
	if r.Games == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Games) * 100
}

func (r *Record) add(win bool) {
	r.Games++
	if win {
		r.Wins++
	} else {
		r.Losses++
	}
}

// LastGame describes the most recently counted match
type LastGame struct {
	Timestamp time.Time  `json:"timestamp"`
	MyPlayer  sc2.Player `json:"myPlayer"`
	Opponent  sc2.Player `json:"opponent"`
	Result    sc2.Result `json:"result"`
}

// Snapshot is the statistics shape shared by the aggregator, the match log
// and overlay clients
type Snapshot struct {
	Total          Record              `json:"total"`
	ByOpponentRace map[sc2.Race]Record `json:"byOpponentRace"`
	LastGame       *LastGame           `json:"lastGame"`
}

// Empty returns a zero snapshot with every race bucket present
func Empty() Snapshot {
	byRace := make(map[sc2.Race]Record, len(sc2.Races))
	for _, r := range sc2.Races {
		byRace[r] = Record{}
	}
	return Snapshot{ByOpponentRace: byRace}
}

// Add counts one match against opponentRace. Unknown races land in random.
func (s *Snapshot) Add(opponentRace sc2.Race, win bool) {
	if s.ByOpponentRace == nil {
		*s = Empty()
	}
	s.Total.add(win)
	bucket := opponentRace.Bucket()
	r := s.ByOpponentRace[bucket]
	r.add(win)
	s.ByOpponentRace[bucket] = r
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	c := Snapshot{Total: s.Total}
	if s.ByOpponentRace != nil {
		c.ByOpponentRace = make(map[sc2.Race]Record, len(s.ByOpponentRace))
		for k, v := range s.ByOpponentRace {
			c.ByOpponentRace[k] = v
		}
	}
	if s.LastGame != nil {
		lg := *s.LastGame
		c.LastGame = &lg
	}
	return c
}

// Validate checks the shape and the counter invariants:
// games = wins + losses for every record, and total.games equals the sum of
// the race buckets.
func (s Snapshot) Validate() error {
	if s.ByOpponentRace == nil {
		return fmt.Errorf("%w: missing byOpponentRace", ErrInvalidStats)
	}
	if len(s.ByOpponentRace) != len(sc2.Races) {
		return fmt.Errorf("%w: expected %d race buckets, got %d", ErrInvalidStats, len(sc2.Races), len(s.ByOpponentRace))
	}
	if err := s.Total.validate("total"); err != nil {
		return err
	}

	sum := 0
	for _, race := range sc2.Races {
		r, ok := s.ByOpponentRace[race]
		if !ok {
			return fmt.Errorf("%w: missing race bucket %q", ErrInvalidStats, race)
		}
		if err := r.validate(string(race)); err != nil {
			return err
		}
		sum += r.Games
	}
	if sum != s.Total.Games {
		return fmt.Errorf("%w: total games %d does not match race buckets %d", ErrInvalidStats, s.Total.Games, sum)
	}
	return nil
}

func (r Record) validate(name string) error {
	if r.Games < 0 || r.Wins < 0 || r.Losses < 0 {
		return fmt.Errorf("%w: negative counter in %s", ErrInvalidStats, name)
	}
	if r.Wins+r.Losses != r.Games {
		return fmt.Errorf("%w: %s wins+losses != games", ErrInvalidStats, name)
	}
	return nil
}
