package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyuhyong/surveillance-camera/internal/clip"
	"github.com/kyuhyong/surveillance-camera/internal/database"
	"github.com/kyuhyong/surveillance-camera/internal/recorder"
	"github.com/kyuhyong/surveillance-camera/internal/state"
	"github.com/kyuhyong/surveillance-camera/internal/stream"
	"github.com/kyuhyong/surveillance-camera/internal/ws"
)

func writeTestConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := "storage:\n" +
		"  clips_dir: " + filepath.Join(dir, "recorded_clips") + "\n" +
		"  stream_dir: " + filepath.Join(dir, "stream_clips") + "\n" +
		"  images_dir: " + filepath.Join(dir, "recorded_images") + "\n" +
		"  database: " + filepath.Join(dir, "survcam.db") + "\n" +
		"log:\n  format: text\n  level: error\n" + extra
	path := filepath.Join(dir, "survcam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestStateSetAndShow(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "state", "show")
	require.NoError(t, err)
	var st state.ControlState
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, state.Default(), st)

	_, err = execute(t, "--config", cfgPath, "state", "set", "--armed=true")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfgPath, "state", "set", "--sensitivity", "6")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfgPath, "state", "show")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, state.ControlState{Armed: true, Sensitivity: 6}, st)
}

func TestStateSetFileBackend(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "system_state.json")
	cfgPath, _ := writeTestConfig(t, "state:\n  backend: file\n  path: "+statePath+"\n")

	_, err := execute(t, "--config", cfgPath, "state", "set", "--armed=true", "--sensitivity", "2")
	require.NoError(t, err)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"isArmed": true, "motion_sensitivity": 2}`, string(data))
}

func TestStateSetRequiresAFlag(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "")
	_, err := execute(t, "--config", cfgPath, "state", "set")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfgPath, "state", "set", "--sensitivity=-1")
	assert.Error(t, err)
}

func TestSweepAndClipsList(t *testing.T) {
	cfgPath, dir := writeTestConfig(t, "")
	layout := clip.Layout{
		ClipsDir:  filepath.Join(dir, "recorded_clips"),
		StreamDir: filepath.Join(dir, "stream_clips"),
		ImagesDir: filepath.Join(dir, "recorded_images"),
	}
	require.NoError(t, layout.Ensure())

	old := layout.Clip(clip.Stamp(time.Now().Add(-30 * 24 * time.Hour)))
	fresh := layout.Clip(clip.Stamp(time.Now().Add(-time.Hour)))
	for _, c := range []clip.Clip{old, fresh} {
		require.NoError(t, os.WriteFile(c.RawPath, []byte("x"), 0644))
	}

	db, err := database.New(filepath.Join(dir, "survcam.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	for _, c := range []clip.Clip{old, fresh} {
		require.NoError(t, db.SaveClip(context.Background(), &database.ClipRecord{
			Stamp: c.Stamp, RecordedAt: time.Now(), RawPath: c.RawPath, StreamPath: c.StreamPath, ImagePath: c.ImagePath,
		}))
	}
	require.NoError(t, db.Close())

	out, err := execute(t, "--config", cfgPath, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "scanned 2, deleted 1, skipped 0\n", out)
	assert.NoFileExists(t, old.RawPath)
	assert.FileExists(t, fresh.RawPath)

	out, err = execute(t, "--config", cfgPath, "clips", "list")
	require.NoError(t, err)
	assert.Contains(t, out, fresh.Stamp)
	assert.NotContains(t, out, old.Stamp)
	assert.True(t, strings.HasPrefix(out, "STAMP"))
}

func TestInvalidConfigFails(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "camera:\n  backend: gopro\n")
	_, err := execute(t, "--config", cfgPath, "state", "show")
	assert.Error(t, err)
}

func TestRunFailsWithoutCamera(t *testing.T) {
	cfgPath, dir := writeTestConfig(t, "camera:\n  backend: picamera\n  command: "+filepath.Join(t.TempDir(), "no-such-tool")+"\n")
	_, err := execute(t, "--config", cfgPath, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera unavailable")
	assert.DirExists(t, filepath.Join(dir, "recorded_clips"))
}

type fixedState recorder.State

func (f fixedState) State() recorder.State { return recorder.State(f) }

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newMux(ws.NewHub(nil), stream.NewMJPEGStream(nil), fixedState(recorder.Recording)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "recording", body.Recorder)
	assert.Zero(t, body.Clients)
	assert.Zero(t, body.Viewers)

	snap, err := http.Get(srv.URL + "/snapshot.jpg")
	require.NoError(t, err)
	snap.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, snap.StatusCode)
}
