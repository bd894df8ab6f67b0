// Package state turns raw poll snapshots into match lifecycle events.
//
// Transition is a pure function over (previous state, snapshot, clock). The
// Manager owns the single mutable State, serializes calls into Transition and
// forwards the resulting events.
package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sc2overlay/internal/events"
	"sc2overlay/internal/sc2"
)

// Phase is the inferred high-level mode of the game client
type Phase string

const (
	PhaseMenus    Phase = "Menus"
	PhaseInGame   Phase = "InGame"
	PhaseInReplay Phase = "InReplay"
)

// DefaultCooldown suppresses the in-game flicker right after a match ends
const DefaultCooldown = 500 * time.Millisecond

// Config controls player identification and the restart cooldown
type Config struct {
	PlayerName string
	ExactMatch bool
	Cooldown   time.Duration
}

// State is everything the engine remembers between cycles
type State struct {
	Phase          Phase
	GameStarted    bool
	LastGame       *sc2.GameState
	LastScreens    []string
	LastTransition time.Time
	LastGameEnd    time.Time
}

// Initial returns the state before the first poll
func Initial() State {
	return State{Phase: PhaseMenus}
}

// Note is a diagnostic produced during a transition. Notes with an Action
// are kept in the debug history.
type Note struct {
	Level   zerolog.Level
	Action  string
	Message string
	Data    map[string]interface{}
}

// Step is the outcome of one cycle
type Step struct {
	State  State
	Events []events.Event
	Notes  []Note
}

// Transition applies one snapshot to prev. An invalid snapshot returns prev
// untouched together with the validation error.
func Transition(prev State, snap *sc2.Snapshot, now time.Time, cfg Config) (Step, error) {
	if err := snap.Validate(); err != nil {
		return Step{State: prev}, err
	}
	if prev.Phase == "" {
		prev.Phase = PhaseMenus
	}

	t := &transition{
		prev:    prev,
		next:    prev,
		now:     now,
		cfg:     cfg,
		game:    snap.Game,
		screens: snap.UI.ActiveScreens,
		users:   snap.Game.Users(),
	}

	candidate := candidatePhase(t.screens, t.game)

	if prev.Phase == PhaseMenus && candidate == PhaseInGame && t.inCooldown() {
		t.note(zerolog.DebugLevel, "", "Ignoring quick transition to InGame due to cooldown period", map[string]interface{}{
			"sinceLastEnd": now.Sub(prev.LastGameEnd).String(),
		})
		// Screens stay as they were so the eventual transition reports the
		// menu it actually left.
		t.next.LastGame = t.game.Clone()
		return t.step(), nil
	}

	if candidate == prev.Phase {
		switch candidate {
		case PhaseInGame:
			t.checkResultChange()
		case PhaseMenus:
			t.checkScreenChange()
		}
	} else {
		t.changePhase(candidate)
	}

	t.next.Phase = candidate
	t.next.LastGame = t.game.Clone()
	t.next.LastScreens = append([]string{}, t.screens...)
	return t.step(), nil
}

func candidatePhase(screens []string, game *sc2.GameState) Phase {
	switch {
	case len(screens) != 0:
		return PhaseMenus
	case game.IsReplay:
		return PhaseInReplay
	case game.IsValid1v1():
		return PhaseInGame
	default:
		// AI games, team games, observers: not a match we track
		return PhaseMenus
	}
}

type transition struct {
	prev    State
	next    State
	now     time.Time
	cfg     Config
	game    *sc2.GameState
	screens []string
	users   []sc2.Player
	events  []events.Event
	notes   []Note
}

func (t *transition) step() Step {
	return Step{State: t.next, Events: t.events, Notes: t.notes}
}

func (t *transition) emit(e events.Event) {
	e.Timestamp = t.now
	t.events = append(t.events, e)
}

func (t *transition) note(level zerolog.Level, action, msg string, data map[string]interface{}) {
	t.notes = append(t.notes, Note{Level: level, Action: action, Message: msg, Data: data})
}

func (t *transition) inCooldown() bool {
	if t.cfg.Cooldown <= 0 || t.prev.LastGameEnd.IsZero() {
		return false
	}
	return t.now.Sub(t.prev.LastGameEnd) < t.cfg.Cooldown
}

// changePhase emits exit events for the old phase before entry events for
// the new one.
func (t *transition) changePhase(to Phase) {
	from := t.prev.Phase
	t.note(zerolog.InfoLevel, "State transition", fmt.Sprintf("State transition: %s -> %s", from, to), map[string]interface{}{
		"fromState": string(from),
		"toState":   string(to),
	})
	t.next.LastTransition = t.now

	switch from {
	case PhaseInGame:
		// Covers leaving through the score screen as well as straight into a replay
		if t.next.GameStarted {
			t.endGame()
		}
	case PhaseInReplay:
		if to == PhaseMenus {
			t.emit(events.Event{Kind: events.ReplayEnded})
		}
	case PhaseMenus:
		// Nothing to exit before the first observed menu
		if t.prev.LastScreens != nil {
			t.emit(events.Event{Kind: events.ScreenExited, FromScreen: sc2.ScreenName(t.prev.LastScreens)})
		}
	}

	switch to {
	case PhaseInGame:
		if from != PhaseMenus {
			return
		}
		if allUndecided(t.users) {
			t.startGame()
		} else {
			t.note(zerolog.WarnLevel, "", "Entered a match whose result is already decided, not treating it as a new game", nil)
		}
	case PhaseInReplay:
		t.emit(events.Event{Kind: events.ReplayStarted, Players: t.users, IsReplay: true})
	case PhaseMenus:
		t.emit(events.Event{Kind: events.ScreenEntered, ToScreen: sc2.ScreenName(t.screens)})
	}
}

func (t *transition) startGame() {
	if t.next.GameStarted {
		t.note(zerolog.WarnLevel, "", "Game started again before the previous game ended", nil)
	}
	t.next.GameStarted = true

	me := t.identify()
	t.note(zerolog.InfoLevel, "Game started", "Game started", map[string]interface{}{
		"players": playerNames(t.users),
	})
	t.emit(events.Event{Kind: events.GameStarted, Players: t.users, MyPlayer: me})
}

func (t *transition) endGame() {
	t.next.LastGameEnd = t.now
	if !t.next.GameStarted {
		t.note(zerolog.WarnLevel, "", "Game ended before a game started, suppressing", nil)
		return
	}
	t.next.GameStarted = false

	me := t.identify()
	t.note(zerolog.InfoLevel, "Game ended", "Game ended", map[string]interface{}{
		"players": playerNames(t.users),
		"results": playerResults(t.users),
	})
	t.emit(events.Event{
		Kind:       events.GameEnded,
		Players:    t.users,
		MyPlayer:   me,
		GameLength: t.game.DisplayTime,
	})
}

// checkResultChange ends the game when a result becomes final while the
// client still shows the game view.
func (t *transition) checkResultChange() {
	if !t.next.GameStarted || t.prev.LastGame == nil {
		return
	}
	if !resultsFlipped(t.prev.LastGame.Users(), t.users) {
		return
	}
	t.note(zerolog.InfoLevel, "Result change", "Game result changed while still in game", map[string]interface{}{
		"results": playerResults(t.users),
	})
	t.endGame()
}

func (t *transition) checkScreenChange() {
	if t.prev.LastScreens == nil || equalScreens(t.prev.LastScreens, t.screens) {
		return
	}
	t.emit(events.Event{
		Kind:       events.ScreenChanged,
		FromScreen: sc2.ScreenName(t.prev.LastScreens),
		ToScreen:   sc2.ScreenName(t.screens),
	})
}

func (t *transition) identify() *sc2.Player {
	me, n := sc2.FindPlayer(t.users, t.cfg.PlayerName, t.cfg.ExactMatch)
	switch {
	case n == 0:
		t.note(zerolog.WarnLevel, "", fmt.Sprintf("Could not identify player %q among %v, check player.name", t.cfg.PlayerName, playerNames(t.users)), nil)
	case n > 1:
		t.note(zerolog.WarnLevel, "", fmt.Sprintf("Multiple players match %q, using %q", t.cfg.PlayerName, me.Name), nil)
	}
	return me
}

func resultsFlipped(last, current []sc2.Player) bool {
	for _, lp := range last {
		for _, cp := range current {
			if cp.Name != lp.Name {
				continue
			}
			if !lp.Result.Decided() && cp.Result.Decided() {
				return true
			}
			break
		}
	}
	return false
}

func allUndecided(users []sc2.Player) bool {
	for _, p := range users {
		if p.Result.Decided() {
			return false
		}
	}
	return true
}

func equalScreens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func playerNames(players []sc2.Player) []string {
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name
	}
	return names
}

func playerResults(players []sc2.Player) map[string]string {
	res := make(map[string]string, len(players))
	for _, p := range players {
		res[p.Name] = string(p.Result)
	}
	return res
}
