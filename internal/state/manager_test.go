package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sc2overlay/internal/events"
	"sc2overlay/internal/sc2"
)

type published struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *published) publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, e)
}

func (p *published) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return kinds(p.evs)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager() (*Manager, *published, *fakeClock) {
	pub := &published{}
	clock := &fakeClock{now: t0}
	m := NewManager(Config{PlayerName: "Maru", ExactMatch: true, Cooldown: DefaultCooldown}, pub.publish)
	m.SetClock(clock.Now)
	return m, pub, clock
}

func TestManagerPublishesInOrder(t *testing.T) {
	m, pub, clock := newTestManager()

	m.Process(menus(queueScreen))
	clock.Advance(time.Second)
	m.Process(gameView(maru(sc2.ResultUndecided), serral(sc2.ResultUndecided)))
	assert.True(t, m.InGame())
	assert.Equal(t, PhaseInGame, m.Phase())

	clock.Advance(time.Minute)
	m.Process(menus(scoreScreen, maru(sc2.ResultVictory), serral(sc2.ResultDefeat)))

	assert.Equal(t, []events.Kind{
		events.ScreenExited, events.GameStarted,
		events.GameEnded, events.ScreenEntered,
	}, pub.kinds())
	assert.False(t, m.InGame())
	assert.Equal(t, PhaseMenus, m.Phase())
}

func TestManagerDiscardsInvalidSnapshot(t *testing.T) {
	m, pub, _ := newTestManager()

	m.Process(gameView(maru(sc2.ResultUndecided), serral(sc2.ResultUndecided)))
	before := m.State()

	evs := m.Process(&sc2.Snapshot{UI: &sc2.UIState{}, Game: &sc2.GameState{}})
	assert.Nil(t, evs)
	assert.Equal(t, int64(1), m.Discarded())
	assert.Equal(t, before, m.State())
	assert.Equal(t, []events.Kind{events.GameStarted}, pub.kinds())
}

func TestManagerCurrentGame(t *testing.T) {
	m, _, _ := newTestManager()
	assert.Nil(t, m.CurrentGame())

	m.Process(gameView(maru(sc2.ResultUndecided), serral(sc2.ResultUndecided)))
	g := m.CurrentGame()
	require.NotNil(t, g)
	assert.Len(t, g.Players, 2)

	g.Players[0].Name = "changed"
	assert.Equal(t, "Maru", m.CurrentGame().Players[0].Name)
}

func TestManagerHistory(t *testing.T) {
	m, _, clock := newTestManager()

	h := m.History()
	require.Len(t, h, 1)
	assert.Equal(t, "Initialization", h[0].Action)

	m.Process(menus(queueScreen))
	clock.Advance(time.Second)
	m.Process(gameView(maru(sc2.ResultUndecided), serral(sc2.ResultUndecided)))

	actions := []string{}
	for _, e := range m.History() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"Initialization", "State transition", "Game started"}, actions)
}

func TestManagerHistoryIsBounded(t *testing.T) {
	m, _, clock := newTestManager()

	for i := 0; i < 150; i++ {
		clock.Advance(time.Second)
		if i%2 == 0 {
			m.Process(menus(homeScreen))
		} else {
			m.Process(replayView(maru(sc2.ResultVictory), serral(sc2.ResultDefeat)))
		}
	}

	h := m.History()
	assert.Len(t, h, HistorySize)
	assert.NotEqual(t, "Initialization", h[0].Action, "oldest entries were evicted")
	assert.True(t, h[len(h)-1].Timestamp.After(h[0].Timestamp))
}

func TestManagerSetConfigAppliesNextCycle(t *testing.T) {
	m, pub, _ := newTestManager()
	m.SetConfig(Config{PlayerName: "serral", ExactMatch: false})

	m.Process(gameView(maru(sc2.ResultUndecided), serral(sc2.ResultUndecided)))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.evs, 1)
	require.NotNil(t, pub.evs[0].MyPlayer)
	assert.Equal(t, "Serral", pub.evs[0].MyPlayer.Name)
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(HistoryEntry{Action: fmt.Sprintf("a%d", i)})
	}
	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a2", entries[0].Action)
	assert.Equal(t, "a4", entries[2].Action)
	assert.Equal(t, 3, h.Len())
}
