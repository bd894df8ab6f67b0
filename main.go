// Package main runs the SC2 overlay backend: it polls the game client,
// infers match state, keeps statistics and serves them to browser overlays.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
