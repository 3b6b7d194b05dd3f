package platform

import (
	"errors"
	"os"
	"path/filepath"
)

// ConfigFile is the name of the configuration file looked up by FindRoot.
const ConfigFile = "quipu.yaml"

// ErrRootNotFound is returned by FindRoot when no indicator exists above the
// start directory.
var ErrRootNotFound = errors.New("root not found")

// FindRoot walks upwards from startDir looking for a project root.
// Indicators are: a quipu.yaml file or a .quipu directory.
// It returns the absolute path of the first directory that has one.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, ConfigFile) || hasFile(dir, ".quipu") {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", ErrRootNotFound
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
