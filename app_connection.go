package main

import (
	"sc2overlay/internal/events"
)

// onConnectivity is called by the poller once per connected/disconnected edge
func (a *App) onConnectivity(connected bool) {
	if connected {
		a.logger.Info().Msg("SC2 client connected")
	} else {
		a.logger.Warn().Msg("SC2 client disconnected. Waiting...")
	}
	a.publish(events.Event{
		Kind:      events.ConnectivityChanged,
		Timestamp: a.now(),
		Connected: connected,
	})
}

// connectivityTopic maps the connectivity edge to its overlay frame type
func connectivityTopic(connected bool) string {
	if connected {
		return "sc2Connected"
	}
	return "sc2Disconnected"
}
