package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/catalogsync/importer/internal/domain"
)

var unsafeJobChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeName maps a job id to a file-name component
func safeName(jobID string) string {
	name := unsafeJobChars.ReplaceAllString(jobID, "_")
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return name
}

// FileStore keeps one JSON checkpoint file per job in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(jobID string) string {
	return filepath.Join(s.dir, safeName(jobID)+".checkpoint.json")
}

// Load returns nil, nil when no checkpoint file exists
func (s *FileStore) Load(ctx context.Context, jobID string) (*domain.Checkpoint, error) {
	data, err := os.ReadFile(s.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCheckpointCorrupt, err)
	}
	return decode(data, jobID)
}

// Save writes a temp file, fsyncs it, renames it over the old checkpoint and
// fsyncs the directory. A crash at any point leaves either the old or the new file.
func (s *FileStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return writeFileAtomic(s.path(cp.JobID), data)
}

// Clear removes the checkpoint file; a missing file is not an error
func (s *FileStore) Clear(ctx context.Context, jobID string) error {
	err := os.Remove(s.path(jobID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}

func decode(data []byte, jobID string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCheckpointCorrupt, err)
	}
	if cp.JobID != jobID {
		return nil, fmt.Errorf("%w: checkpoint belongs to job %q", domain.ErrCheckpointCorrupt, cp.JobID)
	}
	if cp.LastCommittedIndex < -1 || cp.TotalRecords < 0 {
		return nil, fmt.Errorf("%w: invalid indices", domain.ErrCheckpointCorrupt)
	}
	return &cp, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing checkpoint: %w", err)
	}

	// directory fsync makes the rename itself durable; not every platform supports it
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
