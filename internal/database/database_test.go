package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "survcam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestConfigUpsert(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, ok, err := db.GetConfig(ctx, "armed")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveConfigs(ctx, map[string]string{"armed": "true", "motion_sensitivity": "4"}))
	require.NoError(t, db.SaveConfig(ctx, "armed", "false"))

	v, ok, err := db.GetConfig(ctx, "armed")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)

	got, err := db.GetConfigs(ctx, "armed", "motion_sensitivity", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"armed": "false", "motion_sensitivity": "4"}, got)

	empty, err := db.GetConfigs(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClipLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	older := &ClipRecord{
		Stamp:      "2026-01-01_10-00-00",
		RecordedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		RawPath:    "recorded_clips/motion_2026-01-01_10-00-00.mp4",
		StreamPath: "stream_clips/motion_2026-01-01_10-00-00.mp4",
		ImagePath:  "recorded_images/image_2026-01-01_10-00-00.jpg",
	}
	newer := &ClipRecord{
		Stamp:      "2026-01-02_10-00-00",
		RecordedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		RawPath:    "recorded_clips/motion_2026-01-02_10-00-00.mp4",
		StreamPath: "stream_clips/motion_2026-01-02_10-00-00.mp4",
		ImagePath:  "recorded_images/image_2026-01-02_10-00-00.jpg",
	}
	require.NoError(t, db.SaveClip(ctx, older))
	require.NoError(t, db.SaveClip(ctx, newer))
	require.NoError(t, db.SaveClip(ctx, newer), "saving twice upserts")

	got, err := db.GetClip(ctx, older.Stamp)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.StreamPath, got.StreamPath)
	assert.True(t, older.RecordedAt.Equal(got.RecordedAt))

	list, err := db.ListClips(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.Stamp, list[0].Stamp)

	list, err = db.ListClips(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := db.DeleteClip(ctx, older.Stamp)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.DeleteClip(ctx, older.Stamp)
	require.NoError(t, err)
	assert.False(t, deleted)

	missing, err := db.GetClip(ctx, older.Stamp)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
