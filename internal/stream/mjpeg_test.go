package stream

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotBeforeFirstFrame(t *testing.T) {
	s := NewMJPEGStream(testLogger())
	rec := httptest.NewRecorder()
	NewSnapshotHandler(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshotServesLatestFrame(t *testing.T) {
	s := NewMJPEGStream(testLogger())
	s.PublishJPEG(time.Now(), 4, 4, []byte("first"))
	s.PublishJPEG(time.Now(), 4, 4, []byte("second"))

	rec := httptest.NewRecorder()
	NewSnapshotHandler(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "second", rec.Body.String())
}

func TestWantsRefreshesStaleSnapshot(t *testing.T) {
	s := NewMJPEGStream(testLogger())
	now := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.True(t, s.Wants(), "no snapshot yet")
	s.PublishJPEG(now, 4, 4, []byte("x"))
	assert.False(t, s.Wants())

	now = now.Add(SnapshotInterval)
	assert.True(t, s.Wants())
}

func TestStreamDeliversMultipartFrames(t *testing.T) {
	s := NewMJPEGStream(testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Wants())
	s.PublishJPEG(time.Now(), 4, 4, []byte("jpegdata"))

	mr := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	body, err := io.ReadAll(io.LimitReader(part, 8))
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(body))

	cancel()
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseDisconnectsClients(t *testing.T) {
	s := NewMJPEGStream(testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Close()
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err, "stream ends cleanly")
	assert.Zero(t, s.ClientCount())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
