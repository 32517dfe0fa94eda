// Package handoff provides the bounded queues between the capture loop and
// whatever consumes its output. Producers never block.
//
// The two queues drop differently. A full frame queue discards the frame
// being offered, since a live preview only needs whatever is queued already.
// A full notification queue discards its oldest event so the newest clip is
// always announced.
package handoff

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kyuhyong/surveillance-camera/internal/camera"
	"github.com/kyuhyong/surveillance-camera/internal/clip"
)

// Default queue depths.
const (
	DefaultFrameDepth        = 10
	DefaultNotificationDepth = 5
)

// Stats counts queue outcomes since creation.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

type counters struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}

// FrameQueue carries annotated frames to a preview consumer.
type FrameQueue struct {
	ch chan *camera.Frame
	counters
}

// NewFrameQueue creates a frame queue holding up to depth frames.
func NewFrameQueue(depth int) *FrameQueue {
	if depth <= 0 {
		depth = DefaultFrameDepth
	}
	return &FrameQueue{ch: make(chan *camera.Frame, depth)}
}

// Offer enqueues f without blocking. It reports false if f was dropped.
// The caller must not touch f afterwards.
func (q *FrameQueue) Offer(f *camera.Frame) bool {
	select {
	case q.ch <- f:
		q.sent.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Frames exposes the receive side for range loops and selects.
func (q *FrameQueue) Frames() <-chan *camera.Frame {
	return q.ch
}

// Next blocks until a frame is available or ctx is done.
func (q *FrameQueue) Next(ctx context.Context) (*camera.Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryNext returns a queued frame, if any.
func (q *FrameQueue) TryNext() (*camera.Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return nil, false
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Stats returns a snapshot of the counters.
func (q *FrameQueue) Stats() Stats { return q.counters.stats() }

// Notification announces a completed clip. The JSON shape is what the
// web layer's event stream expects.
type Notification struct {
	Timestamp     string `json:"timestamp"`
	ImageFilename string `json:"image_filename"`
	VideoFilename string `json:"video_filename"`
}

// NewNotification builds the event for c.
func NewNotification(c clip.Clip) Notification {
	return Notification{
		Timestamp:     clip.Display(c.Stamp),
		ImageFilename: c.ImageFilename(),
		VideoFilename: c.VideoFilename(),
	}
}

// NotificationQueue carries clip events to the relay.
type NotificationQueue struct {
	mu sync.Mutex
	ch chan Notification
	counters
}

// NewNotificationQueue creates a queue holding up to depth events.
func NewNotificationQueue(depth int) *NotificationQueue {
	if depth <= 0 {
		depth = DefaultNotificationDepth
	}
	return &NotificationQueue{ch: make(chan Notification, depth)}
}

// Publish enqueues n, evicting the oldest event when the queue is full.
// It reports false if an event had to be evicted.
func (q *NotificationQueue) Publish(n Notification) bool {
	// Producers serialize so the evict-then-send pair cannot be interleaved.
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	for {
		select {
		case q.ch <- n:
			q.sent.Add(1)
			return !evicted
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			evicted = true
		default:
		}
	}
}

// Notifications exposes the receive side.
func (q *NotificationQueue) Notifications() <-chan Notification {
	return q.ch
}

// Next blocks until an event is available or ctx is done.
func (q *NotificationQueue) Next(ctx context.Context) (Notification, error) {
	select {
	case n := <-q.ch:
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

// TryNext returns a queued event, if any.
func (q *NotificationQueue) TryNext() (Notification, bool) {
	select {
	case n := <-q.ch:
		return n, true
	default:
		return Notification{}, false
	}
}

// Len returns the number of queued events.
func (q *NotificationQueue) Len() int { return len(q.ch) }

// Stats returns a snapshot of the counters.
func (q *NotificationQueue) Stats() Stats { return q.counters.stats() }
