package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/tandem/internal/domain"
	"github.com/DukeRupert/tandem/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: dir}, logger)
	require.NoError(t, err)
	s := New(local, logger)
	s.now = func() time.Time { return fixedNow }
	return s, dir
}

func TestRead_EmptyStorageYieldsDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, domain.NewRecord(fixedNow), s.Read(context.Background()))
}

func TestWriteRead_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	r := domain.NewRecord(fixedNow)
	r, err := r.CompleteMission(3, fixedNow)
	require.NoError(t, err)
	r.Name = "Ana"

	s.Write(ctx, r)
	assert.Equal(t, r, s.Read(ctx))
}

func TestRead_CorruptSnapshotDegrades(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	path := filepath.Join(dir, filepath.FromSlash(Key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Ana","streak":"seven","mode":"solo"`), 0o600))
	assert.Equal(t, domain.NewRecord(fixedNow), s.Read(ctx), "truncated JSON falls back to defaults")

	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Ana","streak":"seven","mode":"solo"}`), 0o600))
	got := s.Read(ctx)
	assert.Equal(t, "Ana", got.Name)
	assert.Zero(t, got.Streak)
	assert.Equal(t, domain.ModeSolo, got.Mode)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	r := domain.NewRecord(fixedNow)
	r.Name = "Ana"
	s.Write(ctx, r)

	assert.Equal(t, domain.NewRecord(fixedNow), s.Clear(ctx))
	assert.Equal(t, domain.DefaultName, s.Read(ctx).Name)
}

// failingStorage fails every operation.
type failingStorage struct{}

func (failingStorage) Put(context.Context, string, io.Reader, storage.PutOptions) error {
	return errors.New("disk full")
}

func (failingStorage) Get(context.Context, string) (io.ReadCloser, storage.ObjectInfo, error) {
	return io.NopCloser(strings.NewReader("")), storage.ObjectInfo{}, errors.New("io error")
}

func (failingStorage) Delete(context.Context, string) error { return errors.New("io error") }

func TestStore_SwallowsStorageFailures(t *testing.T) {
	ctx := context.Background()
	s := New(failingStorage{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return fixedNow }

	assert.NotPanics(t, func() { s.Write(ctx, domain.NewRecord(fixedNow)) })
	assert.Equal(t, domain.NewRecord(fixedNow), s.Read(ctx))
	assert.Equal(t, domain.NewRecord(fixedNow), s.Clear(ctx))
}
