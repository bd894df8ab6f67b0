// Package stream keeps the streaming channel counters (followers,
// subscribers, viewers) shown next to the match statistics.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Counters is one reading of the channel
type Counters struct {
	Followers   int  `json:"followers"`
	Subscribers int  `json:"subscribers"`
	Viewers     int  `json:"viewers"`
	IsLive      bool `json:"isLive"`
}

// CountersProvider reads the current counters from the platform
type CountersProvider interface {
	Counters(ctx context.Context) (Counters, error)
}

// TrackerConfig holds the refresh timings
type TrackerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultTrackerConfig refreshes once a minute
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Interval: time.Minute,
		Timeout:  5 * time.Second,
	}
}

// Tracker polls a provider and reports readings that differ from the last
// one. A failed read keeps the previous counters.
type Tracker struct {
	provider CountersProvider
	config   TrackerConfig
	onChange func(Counters)
	logger   zerolog.Logger

	pollMu   sync.Mutex
	mu       sync.RWMutex
	current  Counters
	updated  time.Time
	polls    atomic.Int64
	failures atomic.Int64
}

// NewTracker creates a tracker. onChange runs after every poll whose
// reading differs from the cached counters.
func NewTracker(provider CountersProvider, config TrackerConfig, onChange func(Counters)) *Tracker {
	def := DefaultTrackerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Tracker{
		provider: provider,
		config:   config,
		onChange: onChange,
		logger:   log.With().Str("component", "stream").Logger(),
	}
}

// Run refreshes until ctx is cancelled. Polls never overlap.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info().Dur("interval", t.config.Interval).Msg("Stream counters tracking started")

	t.Poll(ctx)

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Int64("polls", t.polls.Load()).Msg("Stream counters tracking stopped")
			return nil
		case <-ticker.C:
			t.Poll(ctx)
		}
	}
}

// Poll reads the provider once and reports whether the counters changed
func (t *Tracker) Poll(ctx context.Context) bool {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	t.polls.Add(1)

	cctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	next, err := t.provider.Counters(cctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		t.failures.Add(1)
		t.logger.Warn().Err(err).Msg("Failed to refresh stream counters, keeping previous values")
		return false
	}

	t.mu.Lock()
	prev := t.current
	t.current = next
	t.updated = time.Now()
	t.mu.Unlock()

	if prev == next {
		return false
	}
	t.logger.Debug().
		Int("followers", next.Followers).
		Int("subscribers", next.Subscribers).
		Int("viewers", next.Viewers).
		Bool("live", next.IsLive).
		Msg("Stream counters changed")
	if t.onChange != nil {
		t.onChange(next)
	}
	return true
}

// Current returns the cached counters and when they were last refreshed.
// The time is zero until the first successful poll.
func (t *Tracker) Current() (Counters, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.updated
}

// Failures returns how many polls failed
func (t *Tracker) Failures() int64 {
	return t.failures.Load()
}
