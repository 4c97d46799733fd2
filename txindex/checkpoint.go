package txindex

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readCheckpoint returns the persisted tip height, ok=false if there is none.
func readCheckpoint(file string) (int64, bool, error) {
	if file == "" {
		return 0, false, nil
	}
	raw, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, false, ErrCorruptCheckpoint(file, err)
	}
	return height, true, nil
}

// writeCheckpoint stores height as decimal text, replacing the file atomically.
func writeCheckpoint(file string, height int64) error {
	if file == "" {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(strconv.FormatInt(height, 10)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), file)
}
