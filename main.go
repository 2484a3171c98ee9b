// Command cadenza is a terminal music player with gapless and crossfade
// transitions, a 10-band equalizer, loudness normalization, and spectral
// analysis.
package main

import (
	"os"

	"cadenza.audio/internal/cli"
)

func main() {
	os.Exit(cli.NewCLI().Run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}
