// Command cadenza-scan is a standalone entry point for batch loudness
// analysis, equivalent to `cadenza scan`. It exists so library scans can
// be scripted on machines where the player itself is never run.
package main

import (
	"os"

	"cadenza.audio/internal/cli"
)

func main() {
	args := append([]string{os.Args[0], "scan"}, os.Args[1:]...)
	c := cli.NewCLI()
	exitCode := c.Run(args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}
