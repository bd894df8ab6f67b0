package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of events an editor produces on save
const DefaultDebounce = 250 * time.Millisecond

// Watcher calls onChange after the config file is written, created or
// renamed into place. It watches the parent directory because editors
// often replace the file instead of writing it.
type Watcher struct {
	targetPath string
	parentPath string
	onChange   func()
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Watcher{
		targetPath: filepath.Clean(abs),
		parentPath: filepath.Dir(abs),
		onChange:   onChange,
		debounce:   DefaultDebounce,
		watcher:    fsw,
		logger:     log.With().Str("component", "config").Logger(),
	}, nil
}

// SetDebounce overrides the debounce window
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.parentPath); err != nil {
		return err
	}
	w.logger.Debug().Str("path", w.targetPath).Msg("Watching config file")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.targetPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.logger.Info().Str("path", w.targetPath).Msg("Config file changed")
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
