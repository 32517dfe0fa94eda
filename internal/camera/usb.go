package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the V4L2 camera driver
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
)

// DefaultUSBWarmup matches the settle time generic webcams need before
// auto exposure produces usable frames.
const DefaultUSBWarmup = 2 * time.Second

// USB captures from a generic V4L2 webcam through pion/mediadevices.
type USB struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	track  *mediadevices.VideoTrack
	reader video.Reader
}

// NewUSB creates a USB webcam source. Nothing is opened until Start.
func NewUSB(cfg Config, logger *slog.Logger) *USB {
	if cfg.Warmup == 0 {
		cfg.Warmup = DefaultUSBWarmup
	}
	return &USB{cfg: cfg, logger: logger}
}

// Name implements Source.
func (u *USB) Name() string { return BackendUSB }

// Start opens the webcam and waits for the warm-up period.
func (u *USB) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.track != nil {
		return nil
	}

	if !hasVideoInput() {
		return fmt.Errorf("no video input device found")
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if u.cfg.Width > 0 {
				c.Width = prop.Int(u.cfg.Width)
			}
			if u.cfg.Height > 0 {
				c.Height = prop.Int(u.cfg.Height)
			}
			if u.cfg.FPS > 0 {
				c.FrameRate = prop.Float(float32(u.cfg.FPS))
			}
			if u.cfg.Device != "" {
				c.DeviceID = prop.String(u.cfg.Device)
			}
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return fmt.Errorf("failed to open usb camera: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("failed to open usb camera: no video track")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return fmt.Errorf("failed to open usb camera: unexpected track type %T", tracks[0])
	}

	u.logger.Info("starting usb camera", "device", u.cfg.Device, "width", u.cfg.Width, "height", u.cfg.Height, "warmup", u.cfg.Warmup)

	if err := sleepCtx(ctx, u.cfg.Warmup); err != nil {
		track.Close()
		return err
	}

	u.track = track
	u.reader = track.NewReader(false)
	return nil
}

// Frame reads the next frame from the track.
func (u *USB) Frame(ctx context.Context) (*Frame, error) {
	u.mu.Lock()
	reader := u.reader
	u.mu.Unlock()

	if reader == nil {
		return nil, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, release, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	defer release()
	if img == nil {
		return nil, ErrNoFrame
	}
	return NewFrame(img, time.Now()), nil
}

// Stop closes the track and releases the device.
func (u *USB) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.track == nil {
		return nil
	}
	err := u.track.Close()
	u.track = nil
	u.reader = nil
	u.logger.Info("usb camera stopped")
	return err
}

func hasVideoInput() bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			return true
		}
	}
	return false
}
