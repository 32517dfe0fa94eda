package transcode

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyuhyong/surveillance-camera/internal/clip"
	"github.com/kyuhyong/surveillance-camera/internal/database"
	"github.com/kyuhyong/surveillance-camera/internal/handoff"
)

// DefaultQueue is the number of finished clips that may wait for the worker.
const DefaultQueue = 16

var (
	// ErrQueueFull is returned by Submit when the backlog is full.
	ErrQueueFull = errors.New("transcode queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("transcode worker closed")
)

// Publisher receives one notification per successfully transcoded clip.
type Publisher interface {
	Publish(n handoff.Notification) bool
}

// Index records transcoded clips.
type Index interface {
	SaveClip(ctx context.Context, c *database.ClipRecord) error
}

// Stats counts finished jobs.
type Stats struct {
	Completed uint64
	Failed    uint64
}

// Worker transcodes clips one at a time in submission order.
type Worker struct {
	tc     Transcoder
	pub    Publisher
	index  Index
	logger *slog.Logger

	jobs   chan clip.Clip
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewWorker creates a new transcode worker. index may be nil.
func NewWorker(tc Transcoder, pub Publisher, index Index, queue int, logger *slog.Logger) *Worker {
	if queue <= 0 {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		tc:     tc,
		pub:    pub,
		index:  index,
		logger: logger.With("component", "transcode"),
		jobs:   make(chan clip.Clip, queue),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Submit queues c without blocking.
func (w *Worker) Submit(c clip.Clip) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.jobs <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for c := range w.jobs {
		if w.ctx.Err() != nil {
			w.logger.Warn("transcode abandoned at shutdown, raw clip kept", "stamp", c.Stamp, "raw", c.RawPath)
			continue
		}
		w.process(c)
	}
}

func (w *Worker) process(c clip.Clip) {
	start := time.Now()
	if err := w.tc.Transcode(w.ctx, c.RawPath, c.StreamPath); err != nil {
		w.failed.Add(1)
		w.logger.Error("transcode failed, raw clip kept", "stamp", c.Stamp, "raw", c.RawPath, "error", err)
		return
	}
	w.completed.Add(1)
	w.logger.Info("clip transcoded", "stamp", c.Stamp, "stream", c.StreamPath, "took", time.Since(start).Round(time.Millisecond))

	if w.index != nil {
		if err := w.index.SaveClip(w.ctx, recordFor(c)); err != nil {
			w.logger.Warn("failed to index clip", "stamp", c.Stamp, "error", err)
		}
	}

	if w.pub != nil && !w.pub.Publish(handoff.NewNotification(c)) {
		w.logger.Warn("notification queue full, oldest event dropped", "stamp", c.Stamp)
	}
}

func recordFor(c clip.Clip) *database.ClipRecord {
	recordedAt := time.Now()
	if _, t, err := clip.ParseVideoName(c.RawPath); err == nil {
		recordedAt = t
	}
	return &database.ClipRecord{
		Stamp:      c.Stamp,
		RecordedAt: recordedAt,
		RawPath:    c.RawPath,
		StreamPath: c.StreamPath,
		ImagePath:  c.ImagePath,
	}
}

// Close stops accepting work and waits for the backlog to drain. If ctx
// ends first the running ffmpeg is killed and the remaining jobs are
// abandoned; their raw clips stay on disk.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobs)
	started := w.started
	w.mu.Unlock()

	if !started {
		w.cancel()
		return nil
	}

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

// Stats returns a snapshot of the job counters.
func (w *Worker) Stats() Stats {
	return Stats{Completed: w.completed.Load(), Failed: w.failed.Load()}
}
