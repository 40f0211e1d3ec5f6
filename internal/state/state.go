// Package state persists IngestionState between pipeline runs.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"animehub/pkg/models"
)

// FileName is the well-known state file inside the state directory.
const FileName = "metadata.json"

// File stores IngestionState as JSON. A single writer per run is assumed.
type File struct {
	Path string
	now  func() time.Time
}

// NewFile returns a store rooted at dir/metadata.json.
func NewFile(dir string) *File {
	return &File{Path: filepath.Join(dir, FileName), now: time.Now}
}

// Load returns the saved state. A missing or unreadable file yields the
// zero state so the run starts at page 1.
func (f *File) Load() (models.IngestionState, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.IngestionState{}, nil
	}
	if err != nil {
		return models.IngestionState{}, fmt.Errorf("read state: %w", err)
	}
	var st models.IngestionState
	if err := json.Unmarshal(b, &st); err != nil {
		return models.IngestionState{}, fmt.Errorf("decode state %s: %w", f.Path, err)
	}
	return st, nil
}

// Save writes st atomically (temp file + rename).
func (f *File) Save(st models.IngestionState) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = f.now().UTC()
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Reset removes the state file; the next run starts from page 1.
func (f *File) Reset() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}
