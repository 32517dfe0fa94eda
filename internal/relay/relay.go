// Package relay republishes clip notifications from the hand-off queue to
// any number of listeners.
package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kyuhyong/surveillance-camera/internal/handoff"
)

// DefaultTimeout bounds a single listener delivery.
const DefaultTimeout = 5 * time.Second

// Listener receives clip notifications.
type Listener interface {
	Name() string
	Notify(ctx context.Context, n handoff.Notification) error
}

// Stats counts deliveries across all listeners.
type Stats struct {
	Delivered uint64
	Failed    uint64
}

// Relay drains a notification queue into its listeners.
type Relay struct {
	queue     *handoff.NotificationQueue
	listeners []Listener
	timeout   time.Duration
	logger    *slog.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// New creates a new relay
func New(queue *handoff.NotificationQueue, logger *slog.Logger, listeners ...Listener) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		queue:     queue,
		listeners: listeners,
		timeout:   DefaultTimeout,
		logger:    logger.With("component", "relay"),
	}
}

// Run delivers notifications until ctx is done, then flushes what is left
// in the queue.
func (r *Relay) Run(ctx context.Context) {
	for {
		n, err := r.queue.Next(ctx)
		if err != nil {
			break
		}
		r.deliver(ctx, n)
	}

	for {
		n, ok := r.queue.TryNext()
		if !ok {
			return
		}
		r.deliver(context.Background(), n)
	}
}

func (r *Relay) deliver(ctx context.Context, n handoff.Notification) {
	for _, l := range r.listeners {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		err := l.Notify(lctx, n)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.logger.Warn("notification delivery failed", "listener", l.Name(), "video", n.VideoFilename, "error", err)
			continue
		}
		r.delivered.Add(1)
	}
}

// Stats returns a snapshot of the delivery counters.
func (r *Relay) Stats() Stats {
	return Stats{Delivered: r.delivered.Load(), Failed: r.failed.Load()}
}

// LogListener writes every notification to the log.
type LogListener struct {
	logger *slog.Logger
}

// NewLogListener creates a listener logging at info level.
func NewLogListener(logger *slog.Logger) *LogListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogListener{logger: logger.With("component", "relay")}
}

// Name implements Listener.
func (l *LogListener) Name() string { return "log" }

// Notify implements Listener.
func (l *LogListener) Notify(ctx context.Context, n handoff.Notification) error {
	l.logger.Info("new clip",
		"timestamp", n.Timestamp,
		"video", n.VideoFilename,
		"image", n.ImageFilename)
	return nil
}
