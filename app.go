package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"sc2overlay/internal/broadcast"
	"sc2overlay/internal/config"
	"sc2overlay/internal/data"
	"sc2overlay/internal/events"
	"sc2overlay/internal/sc2"
	"sc2overlay/internal/server"
	"sc2overlay/internal/state"
	"sc2overlay/internal/stats"
	"sc2overlay/internal/stream"
)

// storeTimeout bounds a single match log call made from the event loop
const storeTimeout = 5 * time.Second

// AppOptions holds settings that do not live in the config file
type AppOptions struct {
	StaticDir string
	// Fetcher replaces the HTTP client, used by tests
	Fetcher sc2.Fetcher
	// NoWatch disables config file watching
	NoWatch bool
	// Counters replaces the stream counters endpoint, used by tests
	Counters stream.CountersProvider
}

// App wires the poller, state engine, event bus, statistics, match log and
// broadcast hub together
type App struct {
	config     *config.Store
	client     *sc2.Client
	poller     *sc2.Poller
	manager    *state.Manager
	bus        *events.Bus
	aggregator *stats.Aggregator
	matches    data.MatchLog
	hub        *broadcast.Hub
	server     *server.Server
	watcher    *config.Watcher
	stream     *stream.Tracker

	degraded  bool
	startedAt time.Time
	port      atomic.Int32
	now       func() time.Time
	logger    zerolog.Logger
}

// NewApp creates the application. A match log that fails to open degrades
// to memory-only statistics unless storage.required is set.
func NewApp(ctx context.Context, store *config.Store, opts AppOptions) (*App, error) {
	cfg := store.Get()

	a := &App{
		config:     store,
		bus:        events.NewBus(events.DefaultBuffer),
		aggregator: stats.NewAggregator(cfg.Player.Name, cfg.Player.ExactMatch),
		hub:        broadcast.NewHub(),
		startedAt:  time.Now(),
		now:        time.Now,
		logger:     log.With().Str("component", "app").Logger(),
	}
	a.port.Store(int32(cfg.Server.Port))
	a.manager = state.NewManager(stateConfig(cfg), a.publish)

	fetcher := opts.Fetcher
	if fetcher == nil {
		a.client = sc2.NewClient(cfg.SC2Client.APIURL, cfg.SC2Client.Timeout())
		fetcher = a.client
	}
	a.poller = sc2.NewPoller(fetcher, sc2.PollerConfig{
		Interval:      cfg.SC2Client.PollEvery(),
		RetryInterval: cfg.SC2Client.RetryEvery(),
		Timeout:       cfg.SC2Client.Timeout(),
	}, a.onSnapshot, a.onConnectivity)

	if err := a.openStorage(ctx, cfg); err != nil {
		return nil, err
	}
	a.hydrateStats(ctx)

	a.stream = newStreamTracker(cfg, opts.Counters, a.onCounters)

	a.registerEmitters()
	a.hub.OnConnect(a.greet)
	a.server = server.New(a, store, opts.StaticDir)

	if !opts.NoWatch {
		w, err := config.NewWatcher(store.Path(), a.reloadConfig)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Config watching disabled")
		} else {
			a.watcher = w
		}
	}

	a.logger.Info().
		Str("player", cfg.Player.Name).
		Str("api", cfg.SC2Client.APIURL).
		Str("storage", cfg.Storage.Driver).
		Bool("degraded", a.degraded).
		Bool("stream", a.stream != nil).
		Msg("Overlay backend initialized")
	return a, nil
}

func stateConfig(cfg *config.Config) state.Config {
	return state.Config{
		PlayerName: cfg.Player.Name,
		ExactMatch: cfg.Player.ExactMatch,
		Cooldown:   cfg.SC2Client.CooldownWindow(),
	}
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) error {
	matches, err := data.Open(ctx, storageOptions(cfg, false))
	if err == nil {
		a.matches = matches
		return nil
	}
	if cfg.Storage.Required {
		return fmt.Errorf("open match log: %w", err)
	}
	a.logger.Error().Err(err).
		Str("driver", cfg.Storage.Driver).
		Msg("Match log unavailable, statistics are kept in memory only")
	a.matches = data.WithCache(data.NewMemoryStore())
	a.degraded = true
	return nil
}

// hydrateStats seeds the aggregator with the unfiltered totals of the log
func (a *App) hydrateStats(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	snap, err := a.matches.GetMatchStats(ctx, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to load statistics from match log")
		return
	}
	if err := a.aggregator.SetStats(snap); err != nil {
		a.logger.Warn().Err(err).Msg("Match log returned inconsistent statistics")
		return
	}
	a.logger.Info().
		Int("games", snap.Total.Games).
		Int("wins", snap.Total.Wins).
		Int("losses", snap.Total.Losses).
		Msg("Statistics loaded from match log")
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(int(a.port.Load())))
	if err != nil {
		a.shutdown()
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		a.port.Store(int32(addr.Port))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.bus.Run(gctx) })
	g.Go(func() error { return a.poller.Run(gctx) })
	g.Go(func() error { return a.server.Serve(gctx, ln) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.stream != nil {
		g.Go(func() error { return a.stream.Run(gctx) })
	}

	a.logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", a.port.Load())).
		Msg("Overlay server ready")

	err := g.Wait()
	a.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// publish feeds engine events into the bus
func (a *App) publish(e events.Event) {
	if !a.bus.Publish(e) {
		a.logger.Debug().Str("event", e.Kind.String()).Msg("Event bus stopped, dropping event")
	}
}

func (a *App) onSnapshot(snap *sc2.Snapshot) {
	a.manager.Process(snap)
}

// CurrentGame implements server.Backend
func (a *App) CurrentGame() *sc2.GameState {
	return a.manager.CurrentGame()
}

// Status implements server.Backend
func (a *App) Status() server.Status {
	return server.Status{
		Connected: a.poller.IsConnected(),
		InGame:    a.manager.InGame(),
		Phase:     string(a.manager.Phase()),
		Port:      int(a.port.Load()),
		Uptime:    time.Since(a.startedAt).Seconds(),
	}
}

// StateHistory implements server.Backend
func (a *App) StateHistory() []state.HistoryEntry {
	return a.manager.History()
}

// ServeWS implements server.Backend
func (a *App) ServeWS(w http.ResponseWriter, r *http.Request) {
	a.hub.ServeWS(w, r)
}
