// Package settings mirrors the operator settings record to a local JSON
// file. The mirror lives outside the record store so preferences survive a
// degraded memory-only session and a store wipe alike.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"stocktake/pkg/domain"
)

// DefaultPath is the mirror location when none is configured.
const DefaultPath = "settings.json"

// File persists one settings record at a fixed path, last write wins.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a settings mirror at path, or DefaultPath when blank.
func NewFile(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

// Path returns the mirror's file location.
func (f *File) Path() string { return f.path }

// Load reads the mirrored settings. The second return is false when no
// mirror file exists yet.
func (f *File) Load() (domain.Settings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Settings{}, false, nil
	}
	if err != nil {
		return domain.Settings{}, false, fmt.Errorf("read settings mirror: %w", err)
	}
	var s domain.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Settings{}, false, fmt.Errorf("decode settings mirror: %w", err)
	}
	return s, true, nil
}

// Save writes the settings record atomically, replacing any previous mirror.
func (f *File) Save(s domain.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings mirror: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("stage settings mirror: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings mirror: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings mirror: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace settings mirror: %w", err)
	}
	return nil
}
