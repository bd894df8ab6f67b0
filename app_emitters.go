package main

import (
	"context"

	"sc2overlay/internal/broadcast"
	"sc2overlay/internal/events"
)

// statsTopic is the frame type carrying a statistics snapshot
const statsTopic = "statsUpdated"

// registerEmitters subscribes the overlay relay and the statistics
// recorder. The relay is registered first so clients see gameEnded before
// the statsUpdated it causes.
func (a *App) registerEmitters() {
	a.bus.Subscribe("broadcast", a.relay)
	a.bus.Subscribe("stats", a.onGameEnded, events.GameEnded)
}

// relay forwards every bus event to the connected overlays
func (a *App) relay(e events.Event) {
	topic := e.Kind.String()
	if e.Kind == events.ConnectivityChanged {
		topic = connectivityTopic(e.Connected)
	}
	if err := a.hub.Broadcast(topic, e.Payload()); err != nil {
		a.logger.Debug().Err(err).Str("topic", topic).Msg("Broadcast skipped")
		return
	}
	a.logger.Debug().Str("topic", topic).Int("clients", a.hub.ClientCount()).Msg("Event broadcast")

	if e.Kind == events.ConnectivityChanged && e.Connected {
		a.broadcastStats(context.Background())
	}
}

// greet pushes the current statistics, and the stream counters once known,
// to a newly connected overlay
func (a *App) greet(c *broadcast.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := a.hub.Send(c, statsTopic, a.CurrentStats(ctx)); err != nil {
		a.logger.Debug().Err(err).Str("client", c.ID).Msg("Failed to greet client")
		return
	}
	if a.stream != nil {
		counters, updated := a.stream.Current()
		if updated.IsZero() {
			return
		}
		e := counterEvent(counters, updated)
		if err := a.hub.Send(c, e.Kind.String(), e.Payload()); err != nil {
			a.logger.Debug().Err(err).Str("client", c.ID).Msg("Failed to send stream counters")
		}
	}
}

// broadcastStats sends the current statistics to every overlay
func (a *App) broadcastStats(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	snap := a.CurrentStats(ctx)
	if err := a.hub.Broadcast(statsTopic, snap); err != nil {
		a.logger.Debug().Err(err).Msg("Stats broadcast skipped")
		return
	}
	a.logger.Debug().
		Int("games", snap.Total.Games).
		Int("clients", a.hub.ClientCount()).
		Msg("Stats broadcast")
}
