package main

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogging configures the global logger: coloured console output on a
// terminal, JSON lines otherwise.
func setupLogging(debug bool, out *os.File) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
