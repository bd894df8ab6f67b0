// Package events defines the match lifecycle events and the in-process bus
// that carries them from the state engine to its consumers.
package events

import (
	"time"

	"sc2overlay/internal/sc2"
)

// Kind is the closed set of event variants
type Kind int

const (
	GameStarted Kind = iota + 1
	GameEnded
	ReplayStarted
	ReplayEnded
	ScreenEntered
	ScreenExited
	ScreenChanged
	ConnectivityChanged
	CountersChanged
)

// Kinds lists every variant in declaration order
var Kinds = []Kind{
	GameStarted, GameEnded, ReplayStarted, ReplayEnded,
	ScreenEntered, ScreenExited, ScreenChanged, ConnectivityChanged,
	CountersChanged,
}

// String returns the topic name used on the wire
func (k Kind) String() string {
	switch k {
	case GameStarted:
		return "gameStarted"
	case GameEnded:
		return "gameEnded"
	case ReplayStarted:
		return "replayStarted"
	case ReplayEnded:
		return "replayEnded"
	case ScreenEntered:
		return "screenEntered"
	case ScreenExited:
		return "screenExited"
	case ScreenChanged:
		return "screenChanged"
	case ConnectivityChanged:
		return "connectivityChanged"
	case CountersChanged:
		return "streamCountersUpdated"
	default:
		return "unknown"
	}
}

// Event is one semantic occurrence. Which payload fields are meaningful
// depends on Kind.
type Event struct {
	Kind      Kind
	Timestamp time.Time

	// GameStarted, GameEnded, ReplayStarted
	Players  []sc2.Player
	MyPlayer *sc2.Player
	IsReplay bool
	// GameEnded, seconds of game time when known
	GameLength float64

	// ScreenEntered, ScreenExited, ScreenChanged
	FromScreen string
	ToScreen   string

	// ConnectivityChanged
	Connected bool

	// CountersChanged, the streaming channel counters
	Followers   int
	Subscribers int
	Viewers     int
	Live        bool
}

// Payload renders the event the way overlay clients consume it
func (e Event) Payload() map[string]interface{} {
	ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
	switch e.Kind {
	case GameStarted, ReplayStarted:
		return map[string]interface{}{
			"players":   playersOrEmpty(e.Players),
			"myPlayer":  e.MyPlayer,
			"isReplay":  e.IsReplay,
			"timestamp": ts,
		}
	case GameEnded:
		p := map[string]interface{}{
			"players":   playersOrEmpty(e.Players),
			"myPlayer":  e.MyPlayer,
			"timestamp": ts,
		}
		if e.GameLength > 0 {
			p["gameLength"] = int(e.GameLength)
		}
		return p
	case ReplayEnded:
		return map[string]interface{}{"timestamp": ts}
	case ScreenEntered:
		return map[string]interface{}{"toScreen": e.ToScreen, "timestamp": ts}
	case ScreenExited:
		return map[string]interface{}{"fromScreen": e.FromScreen, "timestamp": ts}
	case ScreenChanged:
		return map[string]interface{}{"fromScreen": e.FromScreen, "toScreen": e.ToScreen, "timestamp": ts}
	case ConnectivityChanged:
		return map[string]interface{}{"connected": e.Connected, "timestamp": ts}
	case CountersChanged:
		return map[string]interface{}{
			"followers":   e.Followers,
			"subscribers": e.Subscribers,
			"viewers":     e.Viewers,
			"isLive":      e.Live,
			"timestamp":   ts,
		}
	default:
		return map[string]interface{}{"timestamp": ts}
	}
}

func playersOrEmpty(p []sc2.Player) []sc2.Player {
	if p == nil {
		return []sc2.Player{}
	}
	return p
}
