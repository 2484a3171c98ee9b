package sink

import (
	"log/slog"
	"os"
	"strings"
)

// IsWSL reports whether the process is running under Windows Subsystem for
// Linux, where miniaudio's ALSA translation layer is known to crackle.
func IsWSL() bool {
	return wslFromSignals(os.Getenv("WSL_DISTRO_NAME"), procVersion())
}

// wslFromSignals decides from the two observable WSL markers: the
// WSL_DISTRO_NAME variable the subsystem exports into every session, and
// the kernel banner, which names Microsoft on both WSL1 and WSL2.
func wslFromSignals(distro, banner string) bool {
	if distro != "" {
		slog.Debug("wsl detected", "signal", "WSL_DISTRO_NAME", "distro", distro)
		return true
	}

	lower := strings.ToLower(banner)
	if strings.Contains(lower, "microsoft") || strings.Contains(lower, "wsl") {
		slog.Debug("wsl detected", "signal", "kernel_banner")
		return true
	}

	return false
}

// procVersion returns the kernel banner from /proc/version, or "" where
// procfs does not exist (macOS, some containers).
func procVersion() string {
	banner, err := os.ReadFile("/proc/version")
	if err != nil {
		slog.Debug("kernel banner unavailable", "error", err)
		return ""
	}
	return string(banner)
}
