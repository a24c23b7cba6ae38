package paths

import (
	"os"
	"path/filepath"
)

// baseDir resolves the data directory. DATA_DIR wins when set; otherwise
// everything lives under ./data next to the binary.
func baseDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	return "data"
}

// EnsureDataDirs creates the data directory tree if missing.
func EnsureDataDirs() error {
	return os.MkdirAll(baseDir(), 0755)
}

// GetDBPath returns the sqlite history database path.
func GetDBPath() string {
	return filepath.Join(baseDir(), "history.db")
}

// GetStatePath returns the JSON state snapshot path.
func GetStatePath() string {
	return filepath.Join(baseDir(), "state.json")
}
