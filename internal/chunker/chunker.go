package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/mirror-go/internal/remote"
)

// DefaultPartSize is the byte range uploaded per part. The last part may be
// shorter.
const DefaultPartSize = 5 * 1024 * 1024

// DefaultThreshold is the file size above which adapters switch from a
// whole-file upload to the chunked protocol.
const DefaultThreshold = 5 * 1024 * 1024

// Uploader drives a multipart upload against a backend, persisting a
// checkpoint after every part so the transfer survives process restarts.
//
// The protocol makes one guarantee: the checkpoint on disk never claims a
// part the backend has not confirmed. The write ordering (persist after part
// N, before part N+1 starts) means a crash loses at most the part that was
// in flight.
type Uploader struct {
	backend  remote.MultipartBackend
	store    *Store
	partSize int64
	logger   *slog.Logger
}

// NewUploader creates an Uploader. partSize <= 0 selects DefaultPartSize.
func NewUploader(backend remote.MultipartBackend, store *Store, partSize int64, logger *slog.Logger) *Uploader {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}

	return &Uploader{
		backend:  backend,
		store:    store,
		partSize: partSize,
		logger:   logger,
	}
}

// Upload transfers the file at localPath to remoteKey in parts, resuming from
// an existing checkpoint when one is present. Parts already recorded are
// skipped entirely; only missing indices are sent. On success the checkpoint
// is deleted after the backend confirms assembly.
//
// Failure deliberately leaves both the remote multipart session and the local
// checkpoint in place so the next attempt resumes instead of re-uploading.
// A checkpoint whose uploadId the backend no longer recognizes surfaces as
// the backend's error; no fresh session is started in that case.
func (u *Uploader) Upload(ctx context.Context, localPath, remoteKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("chunker: opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("chunker: stat %s: %w", localPath, err)
	}

	size := info.Size()
	totalParts := int((size + u.partSize - 1) / u.partSize)

	cp, err := u.loadOrBegin(ctx, remoteKey)
	if err != nil {
		return err
	}

	u.logger.Info("chunked upload",
		slog.String("local", localPath),
		slog.String("key", remoteKey),
		slog.String("size", humanize.IBytes(uint64(size))),
		slog.Int("parts", totalParts),
		slog.Int("already_stored", len(cp.Parts)),
	)

	for index := 1; index <= totalParts; index++ {
		if cp.Has(index) {
			u.logger.Debug("skipping part already in checkpoint",
				slog.String("key", remoteKey),
				slog.Int("part", index),
			)

			continue
		}

		if err := u.uploadPart(ctx, f, cp, remoteKey, index, size); err != nil {
			return err
		}
	}

	return u.complete(ctx, remoteKey, cp)
}

// loadOrBegin returns the existing checkpoint for a key, or begins a new
// multipart session and persists an empty checkpoint before any part is
// sent. Corrupt checkpoints are treated as uninitiated.
func (u *Uploader) loadOrBegin(ctx context.Context, remoteKey string) (*Checkpoint, error) {
	cp, err := u.store.Load(remoteKey)
	if err != nil && !errors.Is(err, ErrCorruptCheckpoint) {
		return nil, err
	}

	if cp != nil {
		u.logger.Info("resuming chunked upload from checkpoint",
			slog.String("key", remoteKey),
			slog.String("upload_id", cp.UploadID),
			slog.Int("parts_stored", len(cp.Parts)),
		)

		return cp, nil
	}

	uploadID, err := u.backend.BeginMultipart(ctx, remoteKey)
	if err != nil {
		return nil, fmt.Errorf("chunker: beginning multipart for %s: %w", remoteKey, err)
	}

	cp = &Checkpoint{UploadID: uploadID}

	// Persist before the first part so a crash between part 1 and its
	// checkpoint write still finds the session on restart.
	if err := u.store.Save(remoteKey, cp); err != nil {
		return nil, err
	}

	return cp, nil
}

// uploadPart streams one byte range to the backend and persists the updated
// checkpoint before returning. The SectionReader bounds the range so the
// backend can never over-read.
func (u *Uploader) uploadPart(
	ctx context.Context, f *os.File, cp *Checkpoint, remoteKey string, index int, size int64,
) error {
	offset := int64(index-1) * u.partSize

	length := u.partSize
	if remaining := size - offset; remaining < length {
		length = remaining
	}

	section := io.NewSectionReader(f, offset, length)

	etag, err := u.backend.UploadPart(ctx, remoteKey, cp.UploadID, index, section, length)
	if err != nil {
		return fmt.Errorf("chunker: uploading part %d of %s: %w", index, remoteKey, err)
	}

	cp.Parts = append(cp.Parts, Part{Index: index, ETag: etag})

	// The resumability guarantee: durable checkpoint before the next part.
	if err := u.store.Save(remoteKey, cp); err != nil {
		return err
	}

	u.logger.Debug("part stored",
		slog.String("key", remoteKey),
		slog.Int("part", index),
		slog.String("bytes", humanize.IBytes(uint64(length))),
	)

	return nil
}

// complete submits the parts sorted by index and deletes the checkpoint once
// the backend confirms assembly.
func (u *Uploader) complete(ctx context.Context, remoteKey string, cp *Checkpoint) error {
	parts := make([]remote.CompletedPart, len(cp.Parts))
	for i, p := range cp.Parts {
		parts[i] = remote.CompletedPart{Index: p.Index, ETag: p.ETag}
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Index < parts[j].Index })

	if err := u.backend.CompleteMultipart(ctx, remoteKey, cp.UploadID, parts); err != nil {
		return fmt.Errorf("chunker: completing multipart for %s: %w", remoteKey, err)
	}

	if err := u.store.Delete(remoteKey); err != nil {
		// The object is assembled; a leftover checkpoint only wastes a few
		// bytes until the next upload of this key overwrites it.
		u.logger.Warn("failed to delete checkpoint after completion",
			slog.String("key", remoteKey),
			slog.String("error", err.Error()),
		)
	}

	u.logger.Info("chunked upload complete",
		slog.String("key", remoteKey),
		slog.Int("parts", len(parts)),
	)

	return nil
}
