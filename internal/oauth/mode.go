package oauth

import (
	"os"
	"runtime"
	"strings"
)

// Mode selects how the user completes an interactive authorization.
type Mode string

const (
	// ModeLocal opens the browser and waits for a loopback callback.
	ModeLocal Mode = "local"
	// ModeRemote prints the URL and waits for the user to paste the
	// redirect URL or code, for SSH sessions and headless hosts.
	ModeRemote Mode = "remote"
)

// ModeEnvVar forces a mode regardless of detection.
const ModeEnvVar = "AUTHPROFILES_OAUTH_MODE"

// DetectMode picks a mode from the process environment.
func DetectMode() Mode {
	return detectMode(os.Getenv, runtime.GOOS)
}

func detectMode(getenv func(string) string, goos string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(getenv(ModeEnvVar)))) {
	case ModeLocal:
		return ModeLocal
	case ModeRemote:
		return ModeRemote
	}

	for _, v := range []string{"SSH_CLIENT", "SSH_TTY", "SSH_CONNECTION"} {
		if getenv(v) != "" {
			return ModeRemote
		}
	}
	if goos == "linux" && getenv("DISPLAY") == "" && getenv("WAYLAND_DISPLAY") == "" {
		return ModeRemote
	}
	return ModeLocal
}
