package retention

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyuhyong/surveillance-camera/internal/clip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIndex struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeIndex) DeleteClip(ctx context.Context, stamp string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, stamp)
	return true, nil
}

func newLayout(t *testing.T) clip.Layout {
	t.Helper()
	dir := t.TempDir()
	l := clip.Layout{
		ClipsDir:  filepath.Join(dir, "recorded_clips"),
		StreamDir: filepath.Join(dir, "stream_clips"),
		ImagesDir: filepath.Join(dir, "recorded_images"),
	}
	require.NoError(t, l.Ensure())
	return l
}

func touchClip(t *testing.T, l clip.Layout, at time.Time) clip.Clip {
	t.Helper()
	c := l.Clip(clip.Stamp(at))
	for _, p := range []string{c.RawPath, c.StreamPath, c.ImagePath} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	return c
}

func TestSweepDeletesExpiredAndSiblings(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.Local)
	l := newLayout(t)
	old := touchClip(t, l, now.Add(-8*24*time.Hour))
	recent := touchClip(t, l, now.Add(-6*24*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(l.ClipsDir, "notes.txt"), []byte("?"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(l.ClipsDir, "motion_garbage.mp4"), []byte("?"), 0644))

	index := &fakeIndex{}
	s := New(l, Config{Days: 7}, index, testLogger(), WithNow(func() time.Time { return now }))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 4, Deleted: 1, Skipped: 2}, res)

	assert.NoFileExists(t, old.RawPath)
	assert.NoFileExists(t, old.StreamPath)
	assert.NoFileExists(t, old.ImagePath)
	assert.FileExists(t, recent.RawPath)
	assert.FileExists(t, recent.StreamPath)
	assert.FileExists(t, recent.ImagePath)
	assert.Equal(t, []string{old.Stamp}, index.deleted)
}

func TestExpiredUsesWholeDays(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.Local)
	s := New(clip.Layout{}, Config{Days: 7}, nil, testLogger(), WithNow(func() time.Time { return now }))

	assert.False(t, s.Expired(now.Add(-7*24*time.Hour)))
	assert.False(t, s.Expired(now.Add(-8*24*time.Hour+time.Minute)), "7 days 23 hours is still 7 whole days")
	assert.True(t, s.Expired(now.Add(-8*24*time.Hour)))
	assert.False(t, s.Expired(now.Add(time.Hour)))
}

func TestSweepMissingSiblingsIsFine(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.Local)
	l := newLayout(t)
	raw := l.Clip(clip.Stamp(now.Add(-30 * 24 * time.Hour))).RawPath
	require.NoError(t, os.WriteFile(raw, []byte("x"), 0644))

	s := New(l, Config{Days: 7}, nil, testLogger(), WithNow(func() time.Time { return now }))
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.NoFileExists(t, raw)
}

func TestSweepMissingDirectory(t *testing.T) {
	s := New(clip.Layout{ClipsDir: filepath.Join(t.TempDir(), "absent")}, Config{}, nil, testLogger())
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestStartSweepsImmediately(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.Local)
	l := newLayout(t)
	old := touchClip(t, l, now.Add(-10*24*time.Hour))

	s := New(l, Config{Days: 7, Schedule: "@every 1h"}, nil, testLogger(), WithNow(func() time.Time { return now }))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "start is idempotent")
	defer s.Stop()

	assert.NoFileExists(t, old.RawPath)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(newLayout(t), Config{Schedule: "whenever"}, nil, testLogger())
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}
