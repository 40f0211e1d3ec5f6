package config

import (
	"os"
	"path/filepath"
)

// defaultDataDir mirrors the ~/.animehub layout used for the local database.
func defaultDataDir(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".animehub", sub)
}

func defaultDBPath() string {
	return filepath.Join(defaultDataDir(""), "data.db")
}
