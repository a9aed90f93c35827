package taskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"brand-camera-server/modules/common/model"
)

// FilePersister keeps the task list in one JSON file.
type FilePersister struct {
	Path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

// DefaultPath - ~/.brand-camera/tasks.json
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tasks.json"
	}
	return filepath.Join(home, ".brand-camera", "tasks.json")
}

func (p *FilePersister) Load() ([]model.GenerationTask, error) {
	raw, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.Path, err)
	}
	var tasks []model.GenerationTask
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.Path, err)
	}
	return tasks, nil
}

// Save writes through a temp file so a crash never leaves half a file.
func (p *FilePersister) Save(tasks []model.GenerationTask) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(p.Path), err)
	}
	raw, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, p.Path)
}
