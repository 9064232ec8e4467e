package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

const (
	// HomeEnv overrides the data directory.
	HomeEnv = "FOCUSMON_HOME"

	configFileName = "config.yaml"
	logFileName    = "focusmon.log"
)

// Paths holds the on-disk locations used by the monitor.
type Paths struct {
	DataDir    string // Event database, key and log live here
	ConfigPath string
	LogPath    string
}

// DetectPaths resolves paths for the invoking user. Under sudo the real
// user's home is used so the monitor never writes into root's home.
func DetectPaths() Paths {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return PathsIn(dir)
	}
	return PathsIn(filepath.Join(RealUserHome(), ".focusmon"))
}

// PathsIn returns the layout rooted at dataDir.
func PathsIn(dataDir string) Paths {
	return Paths{
		DataDir:    dataDir,
		ConfigPath: filepath.Join(dataDir, configFileName),
		LogPath:    filepath.Join(dataDir, logFileName),
	}
}

// Ensure creates the data directory with owner-only permissions.
func (p Paths) Ensure() error {
	return os.MkdirAll(p.DataDir, 0700)
}

// RealUserHome returns the invoking user's home directory, even under sudo.
func RealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
