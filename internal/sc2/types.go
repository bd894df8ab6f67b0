package sc2

import (
	"strings"
	"time"
)

// Race is the faction a player picked
type Race string

const (
	RaceZerg    Race = "Zerg"
	RaceTerran  Race = "Terr"
	RaceProtoss Race = "Prot"
	RaceRandom  Race = "random"
	RaceUnknown Race = "unknown"
)

// Races is the fixed bucket set used for statistics
var Races = []Race{RaceZerg, RaceTerran, RaceProtoss, RaceRandom}

// ParseRace maps a raw API race string onto the closed set
func ParseRace(s string) Race {
	switch strings.TrimSpace(s) {
	case "Zerg":
		return RaceZerg
	case "Terr", "Terran":
		return RaceTerran
	case "Prot", "Protoss":
		return RaceProtoss
	case "random", "Random":
		return RaceRandom
	default:
		return RaceUnknown
	}
}

// Bucket returns the statistics bucket for the race. Anything outside the
// three fixed factions counts as random.
func (r Race) Bucket() Race {
	switch r {
	case RaceZerg, RaceTerran, RaceProtoss:
		return r
	default:
		return RaceRandom
	}
}

// Result is a player's match outcome as reported by the client
type Result string

const (
	ResultUndecided Result = "Undecided"
	ResultVictory   Result = "Victory"
	ResultDefeat    Result = "Defeat"
	ResultTie       Result = "Tie"
)

// ParseResult maps a raw API result. Empty means the match is still running.
func ParseResult(s string) Result {
	switch strings.TrimSpace(s) {
	case "", "Undecided":
		return ResultUndecided
	case "Victory":
		return ResultVictory
	case "Defeat":
		return ResultDefeat
	case "Tie":
		return ResultTie
	default:
		return Result(s)
	}
}

// Decided reports whether the result is final
func (r Result) Decided() bool {
	return r != "" && r != ResultUndecided
}

// PlayerType distinguishes humans from AI slots
type PlayerType string

const (
	PlayerUser     PlayerType = "user"
	PlayerComputer PlayerType = "computer"
)

// Player is one entry of the /game players array
type Player struct {
	ID     int        `json:"id"`
	Name   string     `json:"name"`
	Type   PlayerType `json:"type"`
	Race   Race       `json:"race"`
	Result Result     `json:"result"`
}

func (p *Player) normalize() {
	p.Race = ParseRace(string(p.Race))
	p.Result = ParseResult(string(p.Result))
	p.Type = PlayerType(strings.ToLower(strings.TrimSpace(string(p.Type))))
}

// UIState is the /ui response
type UIState struct {
	ActiveScreens []string `json:"activeScreens"`
}

// GameState is the /game response
type GameState struct {
	IsReplay    bool     `json:"isReplay"`
	DisplayTime float64  `json:"displayTime"`
	Players     []Player `json:"players"`
}

// Users returns the human players in API order
func (g *GameState) Users() []Player {
	if g == nil {
		return nil
	}
	users := make([]Player, 0, len(g.Players))
	for _, p := range g.Players {
		if p.Type == PlayerUser {
			users = append(users, p)
		}
	}
	return users
}

// IsValid1v1 reports whether exactly two humans and no AI are present
func (g *GameState) IsValid1v1() bool {
	if g == nil {
		return false
	}
	users, computers := 0, 0
	for _, p := range g.Players {
		switch p.Type {
		case PlayerUser:
			users++
		case PlayerComputer:
			computers++
		}
	}
	return users == 2 && computers == 0
}

// Clone returns a deep copy
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	c := *g
	if g.Players != nil {
		c.Players = append([]Player(nil), g.Players...)
	}
	return &c
}

// Snapshot is one poll cycle's observation of both endpoints
type Snapshot struct {
	UI        *UIState
	Game      *GameState
	FetchedAt time.Time
}

// Validate checks the fields the state engine depends on are present.
// A JSON null or a missing array decodes to a nil slice.
func (s *Snapshot) Validate() error {
	if s == nil || s.UI == nil || s.UI.ActiveScreens == nil {
		return ErrMalformedSnapshot
	}
	if s.Game == nil || s.Game.Players == nil {
		return ErrMalformedSnapshot
	}
	return nil
}

// ScreenName extracts the display name of the top-most screen.
// An empty list means the game view is showing.
func ScreenName(screens []string) string {
	if len(screens) == 0 {
		return "InGame"
	}
	main := screens[len(screens)-1]
	if i := strings.LastIndex(main, "/"); i >= 0 {
		return main[i+1:]
	}
	return main
}
