package main

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"sc2overlay/internal/config"
	"sc2overlay/internal/data"
	"sc2overlay/internal/events"
	"sc2overlay/internal/stats"
)

// onGameEnded appends the match to the match log, counts it once the log
// accepted it and publishes fresh statistics. A redelivered event is
// rejected by the log as a duplicate and leaves the totals alone.
func (a *App) onGameEnded(e events.Event) {
	m, err := a.aggregator.Resolve(e)
	if err != nil {
		// player identification failures were already logged loudly
		if !errors.Is(err, stats.ErrPlayerNotIdentified) {
			a.logger.Info().Err(err).Msg("Match not counted")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	raw, err := json.Marshal(e.Payload())
	if err != nil {
		a.logger.Debug().Err(err).Msg("Failed to encode raw match data")
	}
	rec := data.FromMatch(m, e.GameLength, string(raw))
	id, err := a.matches.RecordMatch(ctx, rec)
	switch {
	case err == nil:
		a.aggregator.Record(m)
		a.logger.Info().
			Int64("id", id).
			Str("opponent", rec.OpponentName).
			Str("result", string(rec.Result)).
			Msg("Match saved")
	case errors.Is(err, data.ErrDuplicateMatch):
		a.logger.Warn().Err(err).Msg("Match already in the log")
	default:
		a.logger.Error().Err(err).Msg("Failed to save match")
	}

	a.broadcastStats(ctx)
}

// CurrentStats implements server.Backend. The configured time filter is
// applied to the match log; the in-memory totals are the fallback.
func (a *App) CurrentStats(ctx context.Context) stats.Snapshot {
	filter := a.config.Get().TimeFilter(a.now())
	snap, err := a.matches.GetMatchStats(ctx, filter)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Match log query failed, using in-memory statistics")
		return a.aggregator.Stats()
	}
	return snap
}

// StatsBetween implements server.Backend
func (a *App) StatsBetween(ctx context.Context, filter *data.TimeFilter) (stats.Snapshot, error) {
	return a.matches.GetMatchStats(ctx, filter)
}

// RecentMatches implements server.Backend
func (a *App) RecentMatches(ctx context.Context, limit int) ([]data.MatchRecord, error) {
	return a.matches.GetRecentMatches(ctx, limit)
}

// ConfigChanged implements server.Backend. Player and cooldown settings
// apply to the next poll cycle; connection and storage settings need a
// restart.
func (a *App) ConfigChanged(cfg *config.Config) {
	a.manager.SetConfig(stateConfig(cfg))
	a.aggregator.SetPlayer(cfg.Player.Name, cfg.Player.ExactMatch)

	if a.client != nil && a.client.BaseURL() != cfg.SC2Client.APIURL {
		a.logger.Warn().Str("api_url", cfg.SC2Client.APIURL).Msg("sc2_client.api_url changes apply after restart")
	}
	if int(a.port.Load()) != cfg.Server.Port {
		a.logger.Warn().Int("port", cfg.Server.Port).Msg("server.port changes apply after restart")
	}

	a.logger.Info().Str("player", cfg.Player.Name).Msg("Configuration applied")
	a.broadcastStats(context.Background())
}

// reloadConfig is the config watcher callback
func (a *App) reloadConfig() {
	cfg, err := a.config.Reload()
	if err != nil {
		a.logger.Error().Err(err).Msg("Ignoring invalid config change")
		return
	}
	a.ConfigChanged(cfg)
}
