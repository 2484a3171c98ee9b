// Package fs picks the filesystem backing for the player. Real runs read
// audio and configuration from the OS disk; tests swap in an in-memory
// filesystem so fixture libraries never touch the machine.
package fs

import (
	"github.com/spf13/afero"
)

// Disk returns the OS-backed filesystem used outside of tests.
func Disk() afero.Fs {
	return afero.NewOsFs()
}

// Scratch returns a fresh in-memory filesystem. Every call is an isolated
// tree, so parallel tests cannot see each other's fixtures.
func Scratch() afero.Fs {
	return afero.NewMemMapFs()
}
