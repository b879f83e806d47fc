package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/civic-crawler/models"
)

// Checkpoint is a partial save of a running crawl.
type Checkpoint struct {
	Session       models.CrawlSession `json:"session"`
	Frontier      map[string]int      `json:"frontier,omitempty"`
	FailedTargets []string            `json:"failed_targets,omitempty"`
	SavedAt       time.Time           `json:"saved_at"`
}

// Checkpointer persists checkpoints.
type Checkpointer interface {
	Save(cp Checkpoint) error
}

// FileCheckpointer writes one JSON file per session into Dir, replacing it
// atomically on every save.
type FileCheckpointer struct {
	Dir string
}

// Path is the checkpoint file of sessionID.
func (fc FileCheckpointer) Path(sessionID string) string {
	return filepath.Join(fc.Dir, "session-"+sessionID+".json")
}

// Save writes cp to a temporary file and renames it into place.
func (fc FileCheckpointer) Save(cp Checkpoint) error {
	if err := os.MkdirAll(fc.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return writeAtomic(fc.Path(cp.Session.ID), data)
}

// LoadCheckpoint reads a checkpoint written by FileCheckpointer.
func LoadCheckpoint(path string) (Checkpoint, error) {
	var cp Checkpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return cp, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return cp, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
