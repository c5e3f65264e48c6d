// Package storage resolves the directories phrasedec reads its configuration from.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// AppName names the per-user and per-project directories.
const AppName = "phrasedec"

// Dirs holds the per-user directories.
type Dirs struct {
	Config string // configuration files
	State  string // runtime output such as dumped word graphs
}

// ProjectDirs returns project-local directories.
type ProjectDirs struct {
	Root   string // .phrasedec/
	Config string // .phrasedec/config.yaml (committed)
	Local  string // .phrasedec/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = &Dirs{
			Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
			State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
		}
	})
	return globalDirs
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+AppName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o755
	}
	return os.MkdirAll(path, perm)
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// StateDir returns the state subdirectory path.
func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// WordGraphDir returns where word graphs are written when no directory is given.
func (d *Dirs) WordGraphDir() string {
	return d.StateDir("wordgraphs")
}
