package zarr

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// Journal records a directory swap in progress. It is written before the
// original array is moved away and cleared once the old directory has been
// deleted, so an interrupted swap can be finished or rolled back by Recover.
type Journal struct {
	// ArrayPath is the absolute path of the array being replaced.
	ArrayPath string `json:"array_path"`

	// StagingPath holds the complete single-chunk replacement.
	StagingPath string `json:"staging_path"`

	// TempPath is where the original array is parked during the swap.
	TempPath string `json:"temp_path"`

	// ChunkDigest is the hex BLAKE3 digest of the staged chunk file. Recover
	// only moves the staging directory into place when it still matches.
	ChunkDigest string `json:"chunk_digest"`

	Timestamp time.Time `json:"timestamp"`
}

// ChunkDigest returns the hex BLAKE3 digest recorded for a staged chunk.
func ChunkDigest(chunk []byte) string {
	sum := blake3.Sum256(chunk)
	return hex.EncodeToString(sum[:])
}

// WriteJournal atomically writes a journal file: temporary file in the same
// directory, fsync, rename, then fsync of the parent directory.
func WriteJournal(path string, journal Journal) error {
	data, err := json.MarshalIndent(journal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling swap journal: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"
	if err := writeFileSync(temporaryPath, data, 0o600); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary swap journal: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming swap journal into place: %w", err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// ReadJournal reads and parses a journal file. When the file does not
// exist the returned error wraps os.ErrNotExist.
func ReadJournal(path string) (Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Journal{}, err
	}

	var journal Journal
	if err := json.Unmarshal(data, &journal); err != nil {
		return Journal{}, fmt.Errorf("parsing swap journal %s: %w", path, err)
	}
	if journal.ArrayPath == "" || journal.StagingPath == "" || journal.TempPath == "" {
		return Journal{}, fmt.Errorf("parsing swap journal %s: missing paths", path)
	}
	return journal, nil
}

// ClearJournal removes a journal file. Returns nil when it does not exist.
func ClearJournal(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing swap journal: %w", err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// writeFileSync writes, syncs and closes a new file, in that order.
func writeFileSync(path string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// syncDir makes renames and removals inside dir durable. Best effort: some
// platforms cannot fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
