package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sc2overlay/internal/config"
	"sc2overlay/internal/data"
	"sc2overlay/internal/events"
	"sc2overlay/internal/sc2"
	"sc2overlay/internal/stats"
	"sc2overlay/internal/stream"
)

const testConfig = `
player:
  name: Maru
sc2_client:
  poll_interval: 20
  retry_interval: 20
storage:
  driver: memory
`

// scriptedFetcher reports the client as down until ready, then plays the
// Maru result script, repeating the last entry
type scriptedFetcher struct {
	ready atomic.Bool

	mu     sync.Mutex
	script []sc2.Result
	pos    int
}

func (f *scriptedFetcher) Snapshot(ctx context.Context) (*sc2.Snapshot, error) {
	if !f.ready.Load() {
		return nil, sc2.ErrClientNotRunning
	}
	f.mu.Lock()
	result := f.script[f.pos]
	if f.pos < len(f.script)-1 {
		f.pos++
	}
	f.mu.Unlock()

	opp := sc2.ResultUndecided
	if result == sc2.ResultVictory {
		opp = sc2.ResultDefeat
	}
	return &sc2.Snapshot{
		UI: &sc2.UIState{ActiveScreens: []string{}},
		Game: &sc2.GameState{
			DisplayTime: 312,
			Players: []sc2.Player{
				{ID: 1, Name: "Maru", Type: sc2.PlayerUser, Race: sc2.RaceTerran, Result: result},
				{ID: 2, Name: "Serral", Type: sc2.PlayerUser, Race: sc2.RaceZerg, Result: opp},
			},
		},
		FetchedAt: time.Now(),
	}, nil
}

func newTestStore(t *testing.T, body string) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return config.NewStore(path, cfg)
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func TestAppEndToEnd(t *testing.T) {
	fetcher := &scriptedFetcher{script: []sc2.Result{sc2.ResultUndecided, sc2.ResultVictory}}
	store := newTestStore(t, testConfig)

	ctx, cancel := context.WithCancel(context.Background())
	app, err := NewApp(ctx, store, AppOptions{Fetcher: fetcher, NoWatch: true})
	require.NoError(t, err)
	assert.False(t, app.degraded)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("app did not stop")
		}
	}()

	base := "http://" + ln.Addr().String()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	greeting := readFrame(t, conn)
	require.Equal(t, statsTopic, greeting.Type)
	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(greeting.Data, &snap))
	assert.Equal(t, 0, snap.Total.Games)
	assert.Len(t, snap.ByOpponentRace, 4)

	fetcher.ready.Store(true)

	var topics []string
	for {
		f := readFrame(t, conn)
		topics = append(topics, f.Type)
		if f.Type != statsTopic {
			continue
		}
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		if snap.Total.Games == 1 {
			break
		}
	}
	assert.Equal(t, []string{"sc2Connected", statsTopic, "gameStarted", "gameEnded", statsTopic}, topics)
	assert.Equal(t, 1, snap.Total.Wins)
	assert.Equal(t, 1, snap.ByOpponentRace[sc2.RaceZerg].Wins)
	require.NotNil(t, snap.LastGame)
	assert.Equal(t, "Serral", snap.LastGame.Opponent.Name)

	resp, err := http.Get(base + "/api/matches/recent")
	require.NoError(t, err)
	var recent []data.MatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recent))
	resp.Body.Close()
	require.Len(t, recent, 1)
	assert.Equal(t, "Maru", recent[0].PlayerName)
	assert.Equal(t, sc2.ResultVictory, recent[0].Result)
	assert.Equal(t, 312, recent[0].GameLengthSeconds)

	status := app.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, ln.Addr().(*net.TCPAddr).Port, status.Port)
	assert.Equal(t, 1, app.aggregator.Stats().Total.Games)
}

func TestAppHydratesFromMatchLog(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "stats.db")

	seed, err := data.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	_, err = seed.RecordMatch(context.Background(), data.MatchRecord{
		Timestamp:    time.Now().Add(-48 * time.Hour),
		PlayerName:   "Maru",
		OpponentName: "Serral",
		PlayerRace:   sc2.RaceTerran,
		OpponentRace: sc2.RaceZerg,
		Result:       sc2.ResultDefeat,
	})
	require.NoError(t, err)
	_, err = seed.RecordMatch(context.Background(), data.MatchRecord{
		Timestamp:    time.Now().Add(-10 * time.Minute),
		PlayerName:   "Maru",
		OpponentName: "herO",
		PlayerRace:   sc2.RaceTerran,
		OpponentRace: sc2.RaceProtoss,
		Result:       sc2.ResultVictory,
	})
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	store := newTestStore(t, `
player:
  name: Maru
storage:
  driver: sqlite
  database_path: `+dbPath+`
stats:
  time_filter:
    enabled: true
    type: last_hours
    value: 1
`)
	app, err := NewApp(context.Background(), store, AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true})
	require.NoError(t, err)
	defer app.shutdown()

	assert.Equal(t, 2, app.aggregator.Stats().Total.Games, "hydrated without the time filter")

	current := app.CurrentStats(context.Background())
	assert.Equal(t, 1, current.Total.Games)
	assert.Equal(t, 1, current.ByOpponentRace[sc2.RaceProtoss].Wins)
	assert.Equal(t, 0, current.ByOpponentRace[sc2.RaceZerg].Games)
}

func TestAppDegradesWhenStorageUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	body := `
player:
  name: Maru
storage:
  driver: sqlite
  database_path: ` + filepath.Join(blocker, "stats.db") + `
`

	app, err := NewApp(context.Background(), newTestStore(t, body), AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true})
	require.NoError(t, err)
	defer app.shutdown()
	assert.True(t, app.degraded)

	_, err = app.matches.RecordMatch(context.Background(), data.MatchRecord{
		Timestamp:    time.Now(),
		PlayerName:   "Maru",
		OpponentName: "Serral",
		Result:       sc2.ResultVictory,
	})
	require.NoError(t, err, "memory fallback still records")

	_, err = NewApp(context.Background(), newTestStore(t, body+"  required: true\n"), AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true})
	assert.Error(t, err)
}

func TestConfigChangedAppliesPlayer(t *testing.T) {
	store := newTestStore(t, testConfig)
	app, err := NewApp(context.Background(), store, AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true})
	require.NoError(t, err)
	defer app.shutdown()

	cfg := store.Get()
	cfg.Player.Name = "Serral"
	require.NoError(t, store.Save(cfg))
	app.ConfigChanged(store.Get())

	snap := &sc2.Snapshot{
		UI: &sc2.UIState{ActiveScreens: []string{}},
		Game: &sc2.GameState{Players: []sc2.Player{
			{ID: 1, Name: "Maru", Type: sc2.PlayerUser, Race: sc2.RaceTerran, Result: sc2.ResultUndecided},
			{ID: 2, Name: "Serral", Type: sc2.PlayerUser, Race: sc2.RaceZerg, Result: sc2.ResultUndecided},
		}},
	}
	evs := app.manager.Process(snap)
	require.NotEmpty(t, evs)
	require.NotNil(t, evs[0].MyPlayer)
	assert.Equal(t, "Serral", evs[0].MyPlayer.Name)
}

func gameEndedEvent(at time.Time) events.Event {
	me := sc2.Player{ID: 1, Name: "Maru", Type: sc2.PlayerUser, Race: sc2.RaceTerran, Result: sc2.ResultVictory}
	return events.Event{
		Kind:      events.GameEnded,
		Timestamp: at,
		Players: []sc2.Player{
			me,
			{ID: 2, Name: "Serral", Type: sc2.PlayerUser, Race: sc2.RaceZerg, Result: sc2.ResultDefeat},
		},
		MyPlayer:   &me,
		GameLength: 540,
	}
}

func TestRedeliveredGameEndedCountsOnce(t *testing.T) {
	app, err := NewApp(context.Background(), newTestStore(t, testConfig), AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true})
	require.NoError(t, err)
	defer app.shutdown()

	e := gameEndedEvent(time.Date(2024, 5, 4, 20, 0, 0, 0, time.UTC))
	app.onGameEnded(e)
	app.onGameEnded(e)

	logged, err := app.matches.GetMatchStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, logged.Total.Games)
	assert.Equal(t, logged.Total, app.aggregator.Stats().Total)
}

type failingLog struct {
	data.MatchLog
}

func (failingLog) RecordMatch(context.Context, data.MatchRecord) (int64, error) {
	return 0, errors.New("disk full")
}

func TestFailedMatchWriteIsNotCounted(t *testing.T) {
	app, err := NewApp(context.Background(), newTestStore(t, testConfig), AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true})
	require.NoError(t, err)
	defer app.shutdown()
	app.matches = failingLog{MatchLog: app.matches}

	app.onGameEnded(gameEndedEvent(time.Now()))
	assert.Zero(t, app.aggregator.Stats().Total.Games)
}

// growingChannel gains a follower on every read
type growingChannel struct {
	followers atomic.Int64
}

func (g *growingChannel) Counters(context.Context) (stream.Counters, error) {
	return stream.Counters{Followers: int(g.followers.Add(1)), Viewers: 35, IsLive: true}, nil
}

func TestStreamCountersReachOverlays(t *testing.T) {
	store := newTestStore(t, testConfig+"stream:\n  update_interval: 20\n")
	ctx, cancel := context.WithCancel(context.Background())
	app, err := NewApp(ctx, store, AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true, Counters: &growingChannel{}})
	require.NoError(t, err)
	require.NotNil(t, app.stream)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, statsTopic, readFrame(t, conn).Type)
	for {
		f := readFrame(t, conn)
		if f.Type != "streamCountersUpdated" {
			continue
		}
		var counters stream.Counters
		require.NoError(t, json.Unmarshal(f.Data, &counters))
		assert.Positive(t, counters.Followers)
		assert.Equal(t, 35, counters.Viewers)
		assert.True(t, counters.IsLive)
		break
	}
}

func TestStreamCountersDisabledByDefault(t *testing.T) {
	app, err := NewApp(context.Background(), newTestStore(t, testConfig), AppOptions{Fetcher: &scriptedFetcher{}, NoWatch: true})
	require.NoError(t, err)
	defer app.shutdown()
	assert.Nil(t, app.stream)
}
