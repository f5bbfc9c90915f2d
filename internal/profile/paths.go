package profile

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory, mostly for tests and throwaway profiles.
const HomeEnv = "CHATTERM_HOME"

// BaseDir returns ~/.chatterm, or $CHATTERM_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatterm")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the profile's sqlite database.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "chatterm.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatterm.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
