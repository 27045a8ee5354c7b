// Package chunker implements the resumable chunked-upload protocol: a file is
// split into fixed-size parts, each durably recorded in an on-disk checkpoint
// after upload, so a crash loses at most the one part that was in flight.
// Any transport adapter whose backend supports multipart semantics drives its
// large uploads through this package.
package chunker

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrCorruptCheckpoint is returned when a checkpoint file cannot be parsed.
// The corrupt file is deleted and the upload is treated as uninitiated.
var ErrCorruptCheckpoint = errors.New("chunker: corrupt checkpoint file")

// checkpointSubdir is the subdirectory within the data dir for checkpoints.
const checkpointSubdir = "upload-checkpoints"

// Checkpoint files are owner-only because remote keys may be sensitive.
const (
	checkpointFilePerms = 0o600
	checkpointDirPerms  = 0o700
)

// Part records one durably stored part: its 1-based index and the backend's
// opaque integrity tag.
type Part struct {
	Index int    `json:"partIndex"`
	ETag  string `json:"partTag"`
}

// Checkpoint is the on-disk JSON record for one in-flight chunked upload. It
// is the single source of truth for which parts are already stored remotely.
type Checkpoint struct {
	UploadID string `json:"uploadId"`
	Parts    []Part `json:"parts"`
}

// Has reports whether the checkpoint already records the given part index.
func (c *Checkpoint) Has(index int) bool {
	for _, p := range c.Parts {
		if p.Index == index {
			return true
		}
	}

	return false
}

// Store persists checkpoints as JSON files keyed by sha256(remoteKey), one
// file per in-flight upload. Thread-safe: each method operates on a single
// file with atomic tmp+rename writes.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dataDir/upload-checkpoints.
func NewStore(dataDir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    filepath.Join(dataDir, checkpointSubdir),
		logger: logger,
	}
}

// Load reads the checkpoint for a remote key. Returns nil, nil when no
// checkpoint exists. A corrupt file is deleted and reported via
// ErrCorruptCheckpoint so callers treat the upload as uninitiated.
func (s *Store) Load(remoteKey string) (*Checkpoint, error) {
	path := s.filePath(remoteKey)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("chunker: reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("corrupt checkpoint file, deleting",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt checkpoint",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, err)
	}

	return &cp, nil
}

// Save persists the checkpoint durably before the caller sends the next part.
// Write-to-temp plus rename keeps the record atomic; a crash mid-save leaves
// the previous record intact.
func (s *Store) Save(remoteKey string, cp *Checkpoint) error {
	if err := os.MkdirAll(s.dir, checkpointDirPerms); err != nil {
		return fmt.Errorf("chunker: creating checkpoint dir: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("chunker: marshaling checkpoint: %w", err)
	}

	path := s.filePath(remoteKey)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, checkpointFilePerms); err != nil {
		return fmt.Errorf("chunker: writing checkpoint temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("chunker: renaming checkpoint temp file: %w", err)
	}

	return nil
}

// Delete removes the checkpoint for a remote key. Only called after the
// backend confirms multipart assembly. No error if the file doesn't exist.
func (s *Store) Delete(remoteKey string) error {
	if err := os.Remove(s.filePath(remoteKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunker: deleting checkpoint: %w", err)
	}

	return nil
}

// List returns the remote-key hashes of all checkpoints currently on disk.
// Used by `mirror-go check` to report orphaned uploads. Empty on error.
func (s *Store) List() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var keys []string

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}

		keys = append(keys, e.Name())
	}

	return keys
}

// checkpointKey produces a filesystem-safe filename for a remote key. The
// length prefix prevents collisions from delimiter ambiguity in keys.
func checkpointKey(remoteKey string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s", len(remoteKey), remoteKey))
	return fmt.Sprintf("%x.json", h)
}

// filePath returns the absolute path of the checkpoint file for a remote key.
func (s *Store) filePath(remoteKey string) string {
	return filepath.Join(s.dir, checkpointKey(remoteKey))
}
