package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sc2overlay/internal/events"
	"sc2overlay/internal/sc2"
)

// Manager owns the engine state. Process is the only writer.
type Manager struct {
	// processMu serializes whole cycles including event publication so
	// events from consecutive cycles cannot interleave
	processMu sync.Mutex

	mu      sync.RWMutex
	config  Config
	state   State
	current *sc2.GameState
	history *History

	publish   func(events.Event)
	now       func() time.Time
	discarded atomic.Int64
	logger    zerolog.Logger
}

// NewManager creates a manager in the Menus phase. publish receives every
// event in emission order and may be nil.
func NewManager(config Config, publish func(events.Event)) *Manager {
	m := &Manager{
		config:  config,
		state:   Initial(),
		history: NewHistory(HistorySize),
		publish: publish,
		now:     time.Now,
		logger:  log.With().Str("component", "state").Logger(),
	}
	m.history.Add(HistoryEntry{
		Timestamp: m.now(),
		Action:    "Initialization",
		Data:      map[string]interface{}{"state": string(PhaseMenus)},
	})
	return m
}

// SetClock replaces the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetConfig swaps identification and cooldown settings for the next cycle
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// Process runs one cycle and publishes its events. Malformed snapshots are
// logged and dropped without touching state.
func (m *Manager) Process(snap *sc2.Snapshot) []events.Event {
	m.processMu.Lock()
	defer m.processMu.Unlock()

	m.mu.RLock()
	prev, config, now := m.state, m.config, m.now()
	m.mu.RUnlock()

	step, err := Transition(prev, snap, now, config)
	if err != nil {
		m.discarded.Add(1)
		m.logger.Error().Err(err).Msg("Invalid snapshot received, discarding cycle")
		return nil
	}

	m.mu.Lock()
	m.state = step.State
	m.current = snap.Game.Clone()
	for _, n := range step.Notes {
		if n.Action == "" {
			continue
		}
		m.history.Add(HistoryEntry{Timestamp: now, Action: n.Action, Data: n.Data})
	}
	m.mu.Unlock()

	for _, n := range step.Notes {
		m.logger.WithLevel(n.Level).Fields(n.Data).Msg(n.Message)
	}

	if m.publish != nil {
		for _, e := range step.Events {
			m.publish(e)
		}
	}
	return step.Events
}

// Phase returns the current phase
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Phase
}

// InGame reports whether a tracked match is running
func (m *Manager) InGame() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Phase == PhaseInGame && m.state.GameStarted
}

// State returns a copy of the engine state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	s.LastGame = m.state.LastGame.Clone()
	if m.state.LastScreens != nil {
		s.LastScreens = append([]string{}, m.state.LastScreens...)
	}
	return s
}

// CurrentGame returns the last valid /game snapshot, or nil before the first
func (m *Manager) CurrentGame() *sc2.GameState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// History returns the debug history, oldest first
func (m *Manager) History() []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Entries()
}

// Discarded returns how many snapshots failed validation
func (m *Manager) Discarded() int64 {
	return m.discarded.Load()
}
