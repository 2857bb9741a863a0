// Package paths provides XDG-compliant path resolution for slidesync.
//
// Resolution order:
// 1. SLIDESYNC_HOME (portable root) → $SLIDESYNC_HOME/{config,state}
// 2. XDG env vars → $XDG_*_HOME/slidesync
// 3. Platform defaults → ~/.config/slidesync, ~/.local/state/slidesync
package paths

import (
	"os"
	"path/filepath"

	"github.com/grovetools/slidesync/config"
)

const appName = "slidesync"

// EnvConfig names a config file, overriding discovery.
const EnvConfig = "SLIDESYNC_CONFIG"

func home(sub, xdgVar string, fallback ...string) string {
	if root := os.Getenv("SLIDESYNC_HOME"); root != "" {
		return filepath.Join(root, sub)
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(append([]string{homeDir}, append(fallback, appName)...)...)
	}
	return ""
}

// ConfigDir returns the slidesync configuration directory.
func ConfigDir() string {
	return home("config", "XDG_CONFIG_HOME", ".config")
}

// StateDir returns the slidesync state directory.
// Used for log files of supervised processes.
func StateDir() string {
	return home("state", "XDG_STATE_HOME", ".local", "state")
}

// LogFile returns the log file of a supervised process.
func LogFile(process string) string {
	return filepath.Join(StateDir(), process+".log")
}

// ResolveConfig picks the config file: an explicit path, then
// $SLIDESYNC_CONFIG, then config.json in the working directory if present,
// then the user config directory.
func ResolveConfig(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	if _, err := os.Stat(config.DefaultFileName); err == nil {
		return config.DefaultFileName
	}
	if dir := ConfigDir(); dir != "" {
		return filepath.Join(dir, config.DefaultFileName)
	}
	return config.DefaultFileName
}

// EnsureDirs creates the config and state directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
