package handoff

import (
	"context"
	"encoding/json"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyuhyong/surveillance-camera/internal/camera"
	"github.com/kyuhyong/surveillance-camera/internal/clip"
)

func frame(seq int) *camera.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = uint8(seq)
	return &camera.Frame{Image: img, CapturedAt: time.Unix(int64(seq), 0)}
}

func TestFrameQueueDropsNewest(t *testing.T) {
	q := NewFrameQueue(3)
	for i := 1; i <= 5; i++ {
		q.Offer(frame(i))
	}
	assert.Equal(t, Stats{Sent: 3, Dropped: 2}, q.Stats())
	assert.Equal(t, 3, q.Len())

	var got []uint8
	for {
		f, ok := q.TryNext()
		if !ok {
			break
		}
		got = append(got, f.Image.Pix[0])
	}
	assert.Equal(t, []uint8{1, 2, 3}, got, "the queued frames survive, the late ones are dropped")
}

func TestFrameQueueDefaultDepth(t *testing.T) {
	q := NewFrameQueue(0)
	for i := 0; i < DefaultFrameDepth; i++ {
		require.True(t, q.Offer(frame(i)))
	}
	assert.False(t, q.Offer(frame(99)))
}

func TestFrameQueueNext(t *testing.T) {
	q := NewFrameQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.Offer(frame(7))
	f, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(7), f.Image.Pix[0])

	q.Offer(frame(8))
	f = <-q.Frames()
	assert.Equal(t, uint8(8), f.Image.Pix[0])
}

func TestNotificationQueueDropsOldest(t *testing.T) {
	q := NewNotificationQueue(2)
	assert.True(t, q.Publish(Notification{Timestamp: "a"}))
	assert.True(t, q.Publish(Notification{Timestamp: "b"}))
	assert.False(t, q.Publish(Notification{Timestamp: "c"}))

	first, ok := q.TryNext()
	require.True(t, ok)
	second, ok := q.TryNext()
	require.True(t, ok)
	_, ok = q.TryNext()
	assert.False(t, ok)

	assert.Equal(t, "b", first.Timestamp)
	assert.Equal(t, "c", second.Timestamp)
	assert.Equal(t, Stats{Sent: 3, Dropped: 1}, q.Stats())
}

func TestNotificationQueueConcurrentPublishNeverBlocks(t *testing.T) {
	q := NewNotificationQueue(DefaultNotificationDepth)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Publish(Notification{Timestamp: "x"})
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked")
	}

	st := q.Stats()
	assert.Equal(t, uint64(800), st.Sent)
	assert.Equal(t, uint64(800-DefaultNotificationDepth), st.Dropped)
	assert.Equal(t, DefaultNotificationDepth, q.Len())
}

func TestNotificationQueueNext(t *testing.T) {
	q := NewNotificationQueue(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Publish(Notification{Timestamp: "late"})
	}()
	n, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", n.Timestamp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewNotificationPayload(t *testing.T) {
	layout := clip.Layout{ClipsDir: "recorded_clips", StreamDir: "stream_clips", ImagesDir: "recorded_images"}
	n := NewNotification(layout.Clip("2025-03-11_23-46-30"))

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"timestamp": "2025-03-11 23:46:30",
		"image_filename": "image_2025-03-11_23-46-30.jpg",
		"video_filename": "motion_2025-03-11_23-46-30.mp4"
	}`, string(data))
}
