// Package snapshot persists the device's single progress record.
//
// The snapshot store never fails from the caller's point of view: reads fall
// back to the default record and write errors are logged and dropped.
package snapshot

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/storage"
)

// Key is the storage key of the snapshot object.
const Key = "snapshot/progress.json"

// maxSnapshotSize bounds a snapshot write. Records are a few kilobytes.
const maxSnapshotSize = 1 << 20

// Store reads and writes the local progress snapshot.
type Store struct {
	storage storage.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a snapshot store over the given blob storage.
func New(s storage.Storage, logger *slog.Logger) *Store {
	return &Store{
		storage: s,
		logger:  logger,
		now:     time.Now,
	}
}

// Read returns the stored record, or the default record when the snapshot is
// missing or unreadable. Malformed fields fall back to their defaults one by one.
func (s *Store) Read(ctx context.Context) domain.Record {
	rc, _, err := s.storage.Get(ctx, Key)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("failed to read snapshot", "error", err)
		}
		return domain.NewRecord(s.now())
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxSnapshotSize))
	if err != nil {
		s.logger.Warn("failed to read snapshot body", "error", err)
		return domain.NewRecord(s.now())
	}
	return domain.DecodeRecord(data, s.now())
}

// Write stores the record. Failures are logged and otherwise ignored.
func (s *Store) Write(ctx context.Context, r domain.Record) {
	data, err := domain.EncodeRecord(r)
	if err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		return
	}
	opts := storage.PutOptions{ContentType: storage.DefaultContentType, MaxSize: maxSnapshotSize}
	if err := s.storage.Put(ctx, Key, bytes.NewReader(data), opts); err != nil {
		s.logger.Error("failed to write snapshot", "error", err)
	}
}

// Clear erases the snapshot and returns a fresh default record.
func (s *Store) Clear(ctx context.Context) domain.Record {
	if err := s.storage.Delete(ctx, Key); err != nil {
		s.logger.Error("failed to clear snapshot", "error", err)
	}
	return domain.NewRecord(s.now())
}
