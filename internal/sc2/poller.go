package sc2

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fetcher produces one snapshot per call. *Client implements it.
type Fetcher interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// PollerConfig holds the poll timings
type PollerConfig struct {
	// Interval between cycles while connected
	Interval time.Duration
	// RetryInterval between cycles while the client is unreachable
	RetryInterval time.Duration
	// Timeout bounds a single cycle
	Timeout time.Duration
}

// DefaultPollerConfig returns the timings used when nothing is configured
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:      1 * time.Second,
		RetryInterval: 5 * time.Second,
		Timeout:       2 * time.Second,
	}
}

// Poller drives the fetch loop and tracks connectivity edges
type Poller struct {
	fetcher        Fetcher
	config         PollerConfig
	onSnapshot     func(*Snapshot)
	onConnectivity func(connected bool)
	logger         zerolog.Logger

	pollMu    sync.Mutex
	connected atomic.Bool
	cycles    atomic.Int64
	failures  atomic.Int64
}

// NewPoller creates a poller. onSnapshot receives every complete snapshot,
// onConnectivity is called once per connected/disconnected edge.
func NewPoller(fetcher Fetcher, config PollerConfig, onSnapshot func(*Snapshot), onConnectivity func(bool)) *Poller {
	def := DefaultPollerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Poller{
		fetcher:        fetcher,
		config:         config,
		onSnapshot:     onSnapshot,
		onConnectivity: onConnectivity,
		logger:         log.With().Str("component", "poller").Logger(),
	}
}

// Run polls until ctx is cancelled. The next cycle is scheduled only after
// the previous one returned, so cycles never overlap.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Dur("interval", p.config.Interval).
		Dur("retry", p.config.RetryInterval).
		Msg("Polling started")

	// Try immediately on startup
	p.Poll(ctx)

	timer := time.NewTimer(p.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Int64("cycles", p.cycles.Load()).Msg("Polling stopped")
			return nil
		case <-timer.C:
			p.Poll(ctx)
			timer.Reset(p.nextDelay())
		}
	}
}

// Poll runs a single cycle
func (p *Poller) Poll(ctx context.Context) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	p.cycles.Add(1)

	cctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	snap, err := p.fetcher.Snapshot(cctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrMalformedSnapshot) {
			// The client answered, just not with something usable
			p.setConnected(true)
			p.logger.Error().Err(err).Msg("Discarding malformed snapshot")
			return
		}
		p.failures.Add(1)
		if p.connected.Load() {
			p.logger.Warn().Err(err).Msg("Lost connection to game client")
		} else {
			p.logger.Debug().Err(err).Dur("retry", p.config.RetryInterval).Msg("Game client unavailable")
		}
		p.setConnected(false)
		return
	}

	p.setConnected(true)
	if p.onSnapshot != nil {
		p.onSnapshot(snap)
	}
}

// IsConnected reports the connectivity seen by the last cycle
func (p *Poller) IsConnected() bool {
	return p.connected.Load()
}

// Cycles returns how many cycles ran
func (p *Poller) Cycles() int64 {
	return p.cycles.Load()
}

func (p *Poller) setConnected(v bool) {
	if p.connected.Swap(v) == v {
		return
	}
	if v {
		p.logger.Info().Msg("Connected to game client")
	} else {
		p.logger.Info().Msg("Disconnected from game client. Waiting...")
	}
	if p.onConnectivity != nil {
		p.onConnectivity(v)
	}
}

func (p *Poller) nextDelay() time.Duration {
	if p.connected.Load() {
		return p.config.Interval
	}
	return p.config.RetryInterval
}
