// Package pipeline runs the single capture, detect and record loop.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kyuhyong/surveillance-camera/internal/camera"
	"github.com/kyuhyong/surveillance-camera/internal/handoff"
	"github.com/kyuhyong/surveillance-camera/internal/motion"
	"github.com/kyuhyong/surveillance-camera/internal/recorder"
	"github.com/kyuhyong/surveillance-camera/internal/state"
)

// Defaults for the loop.
const (
	DefaultInterval  = 500 * time.Millisecond
	DefaultTargetFPS = 20
)

// StateLoader reads the operator control state.
type StateLoader interface {
	Load(ctx context.Context) (state.ControlState, error)
}

// Recorder is the part of *recorder.Controller the loop drives.
type Recorder interface {
	Observe(f *camera.Frame, armed, motion bool)
	State() recorder.State
	Shutdown()
}

// Config tunes the loop.
type Config struct {
	// Interval is the detection cadence, independent of the frame rate.
	Interval  time.Duration
	TargetFPS int
	Overlay   bool
}

// Stats counts loop iterations.
type Stats struct {
	Frames      uint64
	Skipped     uint64
	Evaluations uint64
	Detections  uint64
}

// Pipeline owns the camera, detector and recorder for the life of the process.
type Pipeline struct {
	src    camera.Source
	det    *motion.Detector
	rec    Recorder
	states StateLoader
	frames *handoff.FrameQueue
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	lastEval time.Time
	control  state.ControlState
	last     motion.Decision
	stats    Stats
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a new pipeline. frames may be nil when nothing consumes the preview.
func New(src camera.Source, det *motion.Detector, rec Recorder, states StateLoader, frames *handoff.FrameQueue, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = DefaultTargetFPS
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		src:     src,
		det:     det,
		rec:     rec,
		states:  states,
		frames:  frames,
		cfg:     cfg,
		logger:  logger.With("component", "pipeline"),
		now:     time.Now,
		control: state.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run loops until ctx is done. On exit the active recording is flushed and
// the camera released.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		if err := p.src.Stop(); err != nil {
			p.logger.Error("failed to stop camera", "error", err)
		}
	}()
	defer p.rec.Shutdown()

	period := time.Second / time.Duration(p.cfg.TargetFPS)
	p.logger.Info("capture loop started", "camera", p.src.Name(), "target_fps", p.cfg.TargetFPS, "interval", p.cfg.Interval)

	for {
		if ctx.Err() != nil {
			p.logger.Info("capture loop stopped",
				"frames", p.stats.Frames,
				"skipped", p.stats.Skipped,
				"detections", p.stats.Detections)
			return nil
		}

		start := time.Now()
		if err := p.Step(ctx); err != nil && ctx.Err() == nil {
			p.logger.Debug("frame skipped", "error", err)
		}

		if wait := period - time.Since(start); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
}

// Step processes a single frame. A capture failure skips the iteration and
// is returned for the caller's information.
func (p *Pipeline) Step(ctx context.Context) error {
	f, err := p.src.Frame(ctx)
	if err != nil {
		p.stats.Skipped++
		return err
	}
	if f == nil {
		p.stats.Skipped++
		return camera.ErrNoFrame
	}
	p.stats.Frames++

	now := p.now()
	detected := false
	if p.lastEval.IsZero() || now.Sub(p.lastEval) >= p.cfg.Interval {
		p.lastEval = now
		p.refreshControl(ctx)

		p.last = p.det.Evaluate(f.Image, p.control.Sensitivity)
		p.stats.Evaluations++
		detected = p.last.Detected
		if detected {
			p.stats.Detections++
			p.logger.Debug("motion detected", "contours", p.last.Contours, "brightness", p.last.Brightness)
		}
	}

	if p.cfg.Overlay {
		DrawTimestamp(f.Image, now)
	}

	p.rec.Observe(f, p.control.Armed, detected)

	if p.cfg.Overlay {
		DrawStatus(f.Image, Status{
			Recording:  p.rec.State() == recorder.Recording,
			Armed:      p.control.Armed,
			Contours:   p.last.Contours,
			Readiness:  p.last.Readiness,
			Brightness: p.last.Brightness,
		})
	}

	if p.frames != nil {
		p.frames.Offer(f.Clone())
	}
	return nil
}

func (p *Pipeline) refreshControl(ctx context.Context) {
	st, err := p.states.Load(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("failed to read control state, keeping last value", "error", err)
		}
		return
	}
	if st != p.control {
		p.logger.Info("control state changed", "armed", st.Armed, "sensitivity", st.Sensitivity)
	}
	p.control = st
}

// Stats returns the loop counters. Call it from the loop goroutine or after Run returned.
func (p *Pipeline) Stats() Stats {
	return p.stats
}
