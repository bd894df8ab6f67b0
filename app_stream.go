package main

import (
	"time"

	"sc2overlay/internal/config"
	"sc2overlay/internal/events"
	"sc2overlay/internal/stream"
)

// newStreamTracker returns nil unless stream counters are enabled or a
// provider is injected
func newStreamTracker(cfg *config.Config, provider stream.CountersProvider, onChange func(stream.Counters)) *stream.Tracker {
	if provider == nil {
		if !cfg.Stream.Enabled {
			return nil
		}
		provider = stream.NewHTTPProvider(cfg.Stream.CountersURL, stream.DefaultTrackerConfig().Timeout)
	}
	return stream.NewTracker(provider, stream.TrackerConfig{Interval: cfg.Stream.UpdateEvery()}, onChange)
}

// onCounters feeds counter changes into the bus
func (a *App) onCounters(c stream.Counters) {
	a.publish(counterEvent(c, a.now()))
}

func counterEvent(c stream.Counters, at time.Time) events.Event {
	return events.Event{
		Kind:        events.CountersChanged,
		Timestamp:   at,
		Followers:   c.Followers,
		Subscribers: c.Subscribers,
		Viewers:     c.Viewers,
		Live:        c.IsLive,
	}
}
