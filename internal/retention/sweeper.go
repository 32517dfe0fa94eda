package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/kyuhyong/surveillance-camera/internal/clip"
)

// Defaults for the sweep.
const (
	DefaultDays     = 7
	DefaultSchedule = "@every 24h"
)

// Index forgets clips that were deleted from disk.
type Index interface {
	DeleteClip(ctx context.Context, stamp string) (bool, error)
}

// Config tunes the sweeper.
type Config struct {
	Days     int
	Schedule string
}

// Result summarizes one sweep.
type Result struct {
	Scanned int
	Deleted int
	Skipped int
}

// Sweeper deletes clips older than the retention window.
type Sweeper struct {
	layout clip.Layout
	cfg    Config
	index  Index
	logger *slog.Logger
	now    func() time.Time

	sweepMu sync.Mutex

	mu   sync.Mutex
	cron *rcron.Cron
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithNow replaces time.Now.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a new Sweeper. index may be nil.
func New(layout clip.Layout, cfg Config, index Index, logger *slog.Logger, opts ...Option) *Sweeper {
	if cfg.Days <= 0 {
		cfg.Days = DefaultDays
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		layout: layout,
		cfg:    cfg,
		index:  index,
		logger: logger.With("component", "retention"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expired reports whether a clip recorded at t is past the window. Age is
// counted in whole days, so a clip exactly Days old is kept.
func (s *Sweeper) Expired(t time.Time) bool {
	age := int(s.now().Sub(t) / (24 * time.Hour))
	return age > s.cfg.Days
}

// Sweep scans the raw clip directory once.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var res Result
	entries, err := os.ReadDir(s.layout.ClipsDir)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to read clips directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if entry.IsDir() {
			continue
		}
		res.Scanned++

		name := entry.Name()
		stamp, recordedAt, err := clip.ParseVideoName(name)
		if err != nil {
			s.logger.Warn("skipping unrecognized file", "file", name, "error", err)
			res.Skipped++
			continue
		}
		if !s.Expired(recordedAt) {
			continue
		}

		path := filepath.Join(s.layout.ClipsDir, name)
		if err := os.Remove(path); err != nil {
			s.logger.Error("failed to delete clip", "file", path, "error", err)
			res.Skipped++
			continue
		}
		res.Deleted++
		s.logger.Info("deleted expired clip", "file", path, "recorded_at", recordedAt)
		s.removeSiblings(ctx, stamp)
	}
	return res, nil
}

// removeSiblings deletes the streamable copy, the thumbnail and the index
// row sharing stamp. Missing pieces are not errors.
func (s *Sweeper) removeSiblings(ctx context.Context, stamp string) {
	c := s.layout.Clip(stamp)
	for _, path := range []string{c.StreamPath, c.ImagePath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to delete clip sibling", "file", path, "error", err)
		}
	}
	if s.index != nil {
		if _, err := s.index.DeleteClip(ctx, stamp); err != nil {
			s.logger.Warn("failed to remove clip from index", "stamp", stamp, "error", err)
		}
	}
}

// Start runs one sweep immediately and then schedules the rest.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := rcron.New(rcron.WithSeconds())
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		s.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.cfg.Schedule, err)
	}

	s.run(ctx)
	c.Start()
	s.cron = c
	s.logger.Info("retention sweeper started", "days", s.cfg.Days, "schedule", s.cfg.Schedule)
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	s.logger.Info("retention sweep complete", "scanned", res.Scanned, "deleted", res.Deleted, "skipped", res.Skipped)
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("retention sweeper stopped")
}
