package recorder

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyuhyong/surveillance-camera/internal/camera"
	"github.com/kyuhyong/surveillance-camera/internal/clip"
)

// DefaultDuration is how long a clip records after motion starts it.
const DefaultDuration = 5 * time.Second

// State is the controller state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Reason says why a recording ended.
type Reason string

const (
	ReasonDeadline Reason = "deadline"
	ReasonDisarmed Reason = "disarmed"
	ReasonShutdown Reason = "shutdown"
)

// ClipSink receives every finished raw clip, typically the transcode worker.
// Submit must not block.
type ClipSink interface {
	Submit(c clip.Clip) error
}

// Timer is the part of *time.Timer the controller uses.
type Timer interface {
	Stop() bool
}

// Config tunes the controller.
type Config struct {
	Duration time.Duration
}

// Session describes the active recording.
type Session struct {
	ID        string
	Stamp     string
	StartedAt time.Time
	Clip      clip.Clip
	Frames    int
}

type session struct {
	Session
	writer VideoWriter
	timer  Timer
	reason Reason
}

// Controller is the Idle/Recording state machine. Observe is called from the
// capture loop; the deadline timer and shutdown path enter through the same
// mutex, so exactly one of them detaches a session. The detaching goroutine
// closes the writer after releasing the mutex.
type Controller struct {
	layout     clip.Layout
	cfg        Config
	openWriter WriterFactory
	sink       ClipSink
	logger     *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
	thumbnail Thumbnailer

	mu        sync.Mutex
	active    *session
	lastStamp string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithAfterFunc replaces time.AfterFunc for the deadline timer.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(c *Controller) { c.afterFunc = fn }
}

// WithThumbnailer replaces SaveThumbnail.
func WithThumbnailer(t Thumbnailer) Option {
	return func(c *Controller) { c.thumbnail = t }
}

// New creates a new Controller in the Idle state.
func New(layout clip.Layout, cfg Config, openWriter WriterFactory, sink ClipSink, logger *slog.Logger, opts ...Option) *Controller {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		layout:     layout,
		cfg:        cfg,
		openWriter: openWriter,
		sink:       sink,
		logger:     logger.With("component", "recorder"),
		now:        time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		thumbnail: SaveThumbnail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe feeds one captured frame with the current arm flag and motion
// decision. It starts a session on armed motion, appends the frame while
// recording and ends the session as soon as the system is disarmed.
func (c *Controller) Observe(f *camera.Frame, armed, motion bool) {
	c.mu.Lock()

	started := false
	if armed && motion && c.active == nil {
		started = c.startLocked(f)
	}

	if c.active != nil && !started {
		if err := c.active.writer.WriteFrame(f); err != nil {
			c.logger.Warn("failed to write frame", "session", c.active.ID, "error", err)
		} else {
			c.active.Frames++
		}
	}

	var finished *session
	if !armed && c.active != nil {
		finished = c.detachLocked(ReasonDisarmed)
	}
	c.mu.Unlock()

	c.finish(finished)
}

// startLocked opens the writer and records the triggering frame. The session
// is committed only after that first frame is accepted.
func (c *Controller) startLocked(f *camera.Frame) bool {
	now := c.now()
	stamp := clip.Stamp(now)
	if stamp == c.lastStamp {
		// A second session in the same second would overwrite the previous clip.
		c.logger.Warn("recording refused, clip stamp already used", "stamp", stamp)
		return false
	}

	cl := c.layout.Clip(stamp)
	w, err := c.openWriter(cl.RawPath)
	if err != nil {
		c.logger.Error("failed to start recording", "path", cl.RawPath, "error", err)
		return false
	}
	if err := w.WriteFrame(f); err != nil {
		c.logger.Error("failed to start recording, encoder rejected first frame", "path", cl.RawPath, "error", err)
		if err := w.Close(); err != nil {
			c.logger.Debug("encoder close after failed start", "error", err)
		}
		os.Remove(cl.RawPath)
		return false
	}

	if err := c.thumbnail(cl.ImagePath, f.Image); err != nil {
		c.logger.Error("failed to save thumbnail", "path", cl.ImagePath, "error", err)
	}

	s := &session{
		Session: Session{
			ID:        uuid.New().String(),
			Stamp:     stamp,
			StartedAt: now,
			Clip:      cl,
			Frames:    1,
		},
		writer: w,
	}
	id := s.ID
	s.timer = c.afterFunc(c.cfg.Duration, func() { c.expire(id) })

	c.active = s
	c.lastStamp = stamp
	c.logger.Info("recording started", "session", id, "stamp", stamp, "path", cl.RawPath)
	return true
}

// expire is the deadline callback. It only ends the session that armed it.
func (c *Controller) expire(id string) {
	c.mu.Lock()
	var finished *session
	if c.active != nil && c.active.ID == id {
		finished = c.detachLocked(ReasonDeadline)
	}
	c.mu.Unlock()

	c.finish(finished)
}

func (c *Controller) detachLocked(reason Reason) *session {
	s := c.active
	c.active = nil
	s.timer.Stop()
	s.reason = reason
	return s
}

// finish flushes a detached session and hands its clip to the sink.
func (c *Controller) finish(s *session) {
	if s == nil {
		return
	}
	if err := s.writer.Close(); err != nil {
		c.logger.Error("failed to close video writer", "session", s.ID, "error", err)
	}
	c.logger.Info("recording stopped",
		"session", s.ID,
		"reason", string(s.reason),
		"frames", s.Frames,
		"elapsed", c.now().Sub(s.StartedAt).Round(time.Millisecond))

	if s.Frames == 0 {
		c.logger.Warn("empty clip not queued for transcoding", "session", s.ID, "path", s.Clip.RawPath)
		return
	}
	if c.sink == nil {
		return
	}
	if err := c.sink.Submit(s.Clip); err != nil {
		c.logger.Error("failed to queue clip for transcoding, raw clip kept",
			"session", s.ID, "path", s.Clip.RawPath, "error", err)
	}
}

// Stop ends the active session, if any. It reports whether one was active.
func (c *Controller) Stop(reason Reason) bool {
	c.mu.Lock()
	var finished *session
	if c.active != nil {
		finished = c.detachLocked(reason)
	}
	c.mu.Unlock()

	c.finish(finished)
	return finished != nil
}

// Shutdown flushes and closes any active recording.
func (c *Controller) Shutdown() {
	c.Stop(ReasonShutdown)
}

// State returns Idle or Recording.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return Recording
	}
	return Idle
}

// Current returns the active session.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Session{}, false
	}
	return c.active.Session, true
}
