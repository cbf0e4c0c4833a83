package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fileName(jobID string) string {
	name := unsafeFileChars.ReplaceAllString(jobID, "_")
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return name
}

// writeFileAtomic replaces path with data via a synced temp file and a rename
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp summary: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("writing summary: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("syncing summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("closing summary: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replacing summary: %w", err)
	}
	return nil
}
