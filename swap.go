package zarr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Default swap locations, relative to the working directory.
const (
	DefaultStagingDir  = "./new_array_dir.zarr"
	DefaultTempDir     = "./tmp_array.zarr"
	DefaultJournalPath = "./.zarr-dechunk.journal"
)

// Swapper replaces an array directory with a staged single-chunk copy.
//
// Two swaps sharing a Swapper's paths, or targeting the same array, must
// not run at the same time; nothing here locks against it.
type Swapper struct {
	// StagingDir is where the replacement array is built.
	StagingDir string

	// TempDir is where the original array is parked until it is deleted.
	TempDir string

	// JournalPath is the swap journal. Empty disables journaling.
	JournalPath string
}

// DefaultSwapper returns a Swapper using the default locations.
func DefaultSwapper() *Swapper {
	return &Swapper{
		StagingDir:  DefaultStagingDir,
		TempDir:     DefaultTempDir,
		JournalPath: DefaultJournalPath,
	}
}

// Commit writes chunk and meta to the staging directory as chunk "0" and
// .zarray, renames arrayPath to the temp directory, renames the staging
// directory to arrayPath and deletes the temp directory.
//
// A failure while staging leaves arrayPath untouched. A failure after the
// original has been moved returns an error wrapping ErrSwapIncomplete and
// leaves the journal in place for Recover.
func (s *Swapper) Commit(arrayPath string, chunk []byte, meta Metadata) error {
	paths, err := s.absPaths(arrayPath)
	if err != nil {
		return err
	}

	if err := s.checkClean(paths); err != nil {
		return err
	}

	if err := stage(paths.StagingPath, chunk, meta); err != nil {
		os.RemoveAll(paths.StagingPath)
		return fmt.Errorf("failed to stage single-chunk array: %w", err)
	}
	log.Debugf("Staged single-chunk array in %s", paths.StagingPath)

	if s.JournalPath != "" {
		paths.ChunkDigest = ChunkDigest(chunk)
		paths.Timestamp = time.Now().UTC()
		if err := WriteJournal(s.JournalPath, paths); err != nil {
			os.RemoveAll(paths.StagingPath)
			return fmt.Errorf("failed to write swap journal: %w", err)
		}
	}

	if err := os.Rename(paths.ArrayPath, paths.TempPath); err != nil {
		os.RemoveAll(paths.StagingPath)
		s.clearJournal()
		return fmt.Errorf("failed to rename original array folder %s to %s: %w", paths.ArrayPath, paths.TempPath, err)
	}
	syncDir(filepath.Dir(paths.ArrayPath))
	log.Debugf("Moved original array %s to %s", paths.ArrayPath, paths.TempPath)

	if err := os.Rename(paths.StagingPath, paths.ArrayPath); err != nil {
		return fmt.Errorf("%w: failed to rename new array folder %s to original path %s (original array is at %s): %w",
			ErrSwapIncomplete, paths.StagingPath, paths.ArrayPath, paths.TempPath, err)
	}
	syncDir(filepath.Dir(paths.ArrayPath))
	log.Debugf("Moved new array %s to %s", paths.StagingPath, paths.ArrayPath)

	if err := os.RemoveAll(paths.TempPath); err != nil {
		return fmt.Errorf("%w: failed to delete tmp array folder %s: %w", ErrSwapIncomplete, paths.TempPath, err)
	}
	log.Debugf("Deleted original array at %s", paths.TempPath)

	return s.clearJournal()
}

func (s *Swapper) absPaths(arrayPath string) (Journal, error) {
	var j Journal
	var err error
	if j.ArrayPath, err = filepath.Abs(arrayPath); err != nil {
		return j, fmt.Errorf("failed to resolve array path: %w", err)
	}
	if j.StagingPath, err = filepath.Abs(s.StagingDir); err != nil {
		return j, fmt.Errorf("failed to resolve staging path: %w", err)
	}
	if j.TempPath, err = filepath.Abs(s.TempDir); err != nil {
		return j, fmt.Errorf("failed to resolve temp path: %w", err)
	}
	if j.ArrayPath == j.StagingPath || j.ArrayPath == j.TempPath || j.StagingPath == j.TempPath {
		return j, fmt.Errorf("array, staging and temp paths must differ: %s, %s, %s", j.ArrayPath, j.StagingPath, j.TempPath)
	}
	return j, nil
}

// checkClean refuses to start while an earlier swap may be unfinished.
func (s *Swapper) checkClean(paths Journal) error {
	if s.JournalPath != "" {
		if _, err := os.Stat(s.JournalPath); err == nil {
			return fmt.Errorf("%w: journal %s exists, run recover first", ErrSwapIncomplete, s.JournalPath)
		}
	}
	if _, err := os.Lstat(paths.TempPath); err == nil {
		return fmt.Errorf("temp array folder %s already exists", paths.TempPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check temp array folder: %w", err)
	}
	return nil
}

func (s *Swapper) clearJournal() error {
	if s.JournalPath == "" {
		return nil
	}
	return ClearJournal(s.JournalPath)
}

// stage builds a fresh staging directory holding chunk "0" and the descriptor.
func stage(dir string, chunk []byte, meta Metadata) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := meta.Marshal()
	if err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(dir, ChunkKey(0)), chunk, 0o644); err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(dir, MetadataKey), data, 0o644); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// RecoveryAction is what Recover did.
type RecoveryAction string

const (
	// RecoveryNone means there was no journal.
	RecoveryNone RecoveryAction = "none"
	// RecoveryCompleted means the single-chunk array is in place.
	RecoveryCompleted RecoveryAction = "completed"
	// RecoveryRolledBack means the original array is back in place.
	RecoveryRolledBack RecoveryAction = "rolled-back"
)

// Recover finishes or rolls back the swap recorded in the journal at
// journalPath, then clears the journal.
func Recover(journalPath string) (RecoveryAction, error) {
	j, err := ReadJournal(journalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RecoveryNone, nil
		}
		return RecoveryNone, err
	}

	action, err := recoverSwap(j)
	if err != nil {
		return RecoveryNone, err
	}
	if err := ClearJournal(journalPath); err != nil {
		return action, err
	}
	return action, nil
}

func recoverSwap(j Journal) (RecoveryAction, error) {
	arrayExists := exists(j.ArrayPath)
	tempExists := exists(j.TempPath)

	switch {
	case arrayExists && tempExists:
		// Both renames happened; only the delete is missing.
		if err := os.RemoveAll(j.TempPath); err != nil {
			return RecoveryNone, fmt.Errorf("failed to delete tmp array folder %s: %w", j.TempPath, err)
		}
		log.Infof("Recovered %s: deleted original array at %s", j.ArrayPath, j.TempPath)
		return RecoveryCompleted, nil

	case arrayExists:
		if exists(j.StagingPath) {
			// The original was never moved.
			if err := os.RemoveAll(j.StagingPath); err != nil {
				return RecoveryNone, fmt.Errorf("failed to delete staging folder %s: %w", j.StagingPath, err)
			}
			log.Infof("Recovered %s: original array untouched, discarded %s", j.ArrayPath, j.StagingPath)
			return RecoveryRolledBack, nil
		}
		return RecoveryCompleted, nil

	case tempExists:
		if stagedIntact(j) {
			if err := os.Rename(j.StagingPath, j.ArrayPath); err != nil {
				return RecoveryNone, fmt.Errorf("failed to rename new array folder %s to %s: %w", j.StagingPath, j.ArrayPath, err)
			}
			syncDir(filepath.Dir(j.ArrayPath))
			if err := os.RemoveAll(j.TempPath); err != nil {
				return RecoveryNone, fmt.Errorf("failed to delete tmp array folder %s: %w", j.TempPath, err)
			}
			log.Infof("Recovered %s: moved staged single-chunk array into place", j.ArrayPath)
			return RecoveryCompleted, nil
		}
		if err := os.Rename(j.TempPath, j.ArrayPath); err != nil {
			return RecoveryNone, fmt.Errorf("failed to restore original array %s to %s: %w", j.TempPath, j.ArrayPath, err)
		}
		syncDir(filepath.Dir(j.ArrayPath))
		if err := os.RemoveAll(j.StagingPath); err != nil {
			return RecoveryNone, fmt.Errorf("failed to delete staging folder %s: %w", j.StagingPath, err)
		}
		log.Infof("Recovered %s: restored original array", j.ArrayPath)
		return RecoveryRolledBack, nil

	default:
		return RecoveryNone, fmt.Errorf("%w: neither %s nor %s exists", ErrSwapIncomplete, j.ArrayPath, j.TempPath)
	}
}

// stagedIntact reports whether the staging directory holds a descriptor
// and the chunk recorded in the journal.
func stagedIntact(j Journal) bool {
	if !exists(filepath.Join(j.StagingPath, MetadataKey)) {
		return false
	}
	chunk, err := os.ReadFile(filepath.Join(j.StagingPath, ChunkKey(0)))
	if err != nil {
		return false
	}
	return j.ChunkDigest != "" && ChunkDigest(chunk) == j.ChunkDigest
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
