package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"time"
)

// Backend names accepted in configuration.
const (
	BackendUSB      = "usb"
	BackendPiCamera = "picamera"
)

var (
	// ErrNotStarted is returned by Frame before Start succeeded.
	ErrNotStarted = errors.New("camera not started")
	// ErrNoFrame signals a transient capture failure; the caller should skip the iteration.
	ErrNoFrame = errors.New("no frame available")
)

// Frame is one captured raster. The loop that receives it owns it exclusively.
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// NewFrame copies img into a freshly allocated RGBA frame. Drivers are free to
// reuse their buffers once this returns.
func NewFrame(img image.Image, at time.Time) *Frame {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &Frame{Image: dst, CapturedAt: at}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Image.Pix))
	copy(pix, f.Image.Pix)
	return &Frame{
		Image: &image.RGBA{
			Pix:    pix,
			Stride: f.Image.Stride,
			Rect:   f.Image.Rect,
		},
		CapturedAt: f.CapturedAt,
	}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// Source is a capture backend. Start is idempotent, Frame never panics on a
// missing frame and Stop is safe to call whether or not Start ran.
type Source interface {
	Start(ctx context.Context) error
	Frame(ctx context.Context) (*Frame, error)
	Stop() error
	Name() string
}

// Config selects and tunes a backend.
type Config struct {
	Backend     string
	Device      string
	Command     string
	Width       int
	Height      int
	FPS         int
	PixelFormat string
	Warmup      time.Duration
}

// New returns the backend named by cfg.Backend. The choice is static; no
// capability probing beyond the availability check done in Start.
func New(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "camera", "backend", cfg.Backend)

	switch cfg.Backend {
	case BackendUSB:
		return NewUSB(cfg, logger), nil
	case BackendPiCamera:
		return NewPiCamera(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q (valid: %s|%s)", cfg.Backend, BackendUSB, BackendPiCamera)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
