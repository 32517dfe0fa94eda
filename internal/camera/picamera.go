package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Pixel formats understood by the Pi camera backend.
const (
	PixelFormatMJPEG  = "mjpeg"
	PixelFormatYUV420 = "yuv420"
)

const (
	// DefaultPiCameraCommand is the libcamera capture tool shipped with Raspberry Pi OS.
	DefaultPiCameraCommand = "rpicam-vid"

	firstFrameTimeout = 10 * time.Second
	frameTimeout      = 2 * time.Second
)

// PiCamera captures from a Raspberry Pi camera module by running the
// libcamera video tool and reading frames from its stdout.
type PiCamera struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  chan []byte
	done    chan struct{}
	started bool
}

// NewPiCamera creates a Pi camera source with explicit resolution, frame
// rate and pixel format.
func NewPiCamera(cfg Config, logger *slog.Logger) *PiCamera {
	if cfg.Command == "" {
		cfg.Command = DefaultPiCameraCommand
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = PixelFormatMJPEG
	}
	return &PiCamera{cfg: cfg, logger: logger}
}

// Name implements Source.
func (p *PiCamera) Name() string { return BackendPiCamera }

// Args returns the capture command line.
func (p *PiCamera) Args() []string {
	codec := "mjpeg"
	if p.cfg.PixelFormat == PixelFormatYUV420 {
		codec = "yuv420"
	}
	return []string{
		"--nopreview",
		"--timeout", "0",
		"--width", strconv.Itoa(p.cfg.Width),
		"--height", strconv.Itoa(p.cfg.Height),
		"--framerate", strconv.Itoa(p.cfg.FPS),
		"--codec", codec,
		"--flush",
		"--output", "-",
	}
}

// Start launches the capture process and waits for the first frame, which
// doubles as the availability check.
func (p *PiCamera) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	path, err := exec.LookPath(p.cfg.Command)
	if err != nil {
		return fmt.Errorf("pi camera tool %q not available: %w", p.cfg.Command, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, path, p.Args()...)
	// Stop decides when the tool dies, not the terminal's SIGINT.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", p.cfg.Command, err)
	}

	p.logger.Info("starting pi camera",
		"command", p.cfg.Command,
		"width", p.cfg.Width,
		"height", p.cfg.Height,
		"fps", p.cfg.FPS,
		"pixel_format", p.cfg.PixelFormat)

	frames := make(chan []byte, 1)
	done := make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Debug("capture tool output", "line", scanner.Text())
		}
	}()

	go func() {
		defer close(done)
		var err error
		if p.cfg.PixelFormat == PixelFormatYUV420 {
			err = readRawFrames(stdout, p.cfg.Width*p.cfg.Height*3/2, frames)
		} else {
			err = readJPEGFrames(stdout, frames)
		}
		if err != nil && runCtx.Err() == nil {
			p.logger.Error("capture stream ended", "error", err)
		}
		cmd.Wait()
	}()

	select {
	case data := <-frames:
		// Put it back so the first Frame call does not lose it.
		offerLatest(frames, data)
	case <-done:
		cancel()
		return fmt.Errorf("%s exited before producing a frame", p.cfg.Command)
	case <-time.After(firstFrameTimeout):
		cancel()
		<-done
		return fmt.Errorf("timeout waiting for first frame from %s", p.cfg.Command)
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	p.cmd = cmd
	p.cancel = cancel
	p.frames = frames
	p.done = done
	p.started = true
	return nil
}

// Frame waits briefly for the next frame and decodes it.
func (p *PiCamera) Frame(ctx context.Context) (*Frame, error) {
	p.mu.Lock()
	frames, done := p.frames, p.done
	p.mu.Unlock()

	if frames == nil {
		return nil, ErrNotStarted
	}

	var data []byte
	select {
	case data = <-frames:
	case <-done:
		return nil, fmt.Errorf("%w: capture process exited", ErrNoFrame)
	case <-time.After(frameTimeout):
		return nil, fmt.Errorf("%w: timeout", ErrNoFrame)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	img, err := p.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return NewFrame(img, time.Now()), nil
}

func (p *PiCamera) decode(data []byte) (image.Image, error) {
	if p.cfg.PixelFormat == PixelFormatYUV420 {
		return decodeYUV420(data, p.cfg.Width, p.cfg.Height)
	}
	return jpeg.Decode(bytes.NewReader(data))
}

// Stop kills the capture process and waits for the reader to finish.
func (p *PiCamera) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.cancel()
	<-p.done
	p.started = false
	p.frames = nil
	p.done = nil
	p.cmd = nil
	p.logger.Info("pi camera stopped")
	return nil
}

// offerLatest replaces whatever is buffered with data so readers always see
// the most recent frame.
func offerLatest(ch chan []byte, data []byte) {
	for {
		select {
		case ch <- data:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// readJPEGFrames splits an MJPEG byte stream on SOI/EOI markers.
func readJPEGFrames(r io.Reader, out chan []byte) error {
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				offerLatest(out, frame)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// extractJPEGFrame extracts a complete JPEG frame from the buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	start := bytes.Index(buf, []byte{0xFF, 0xD8})
	if start == -1 {
		// Keep a trailing 0xFF, it may be the first half of a marker.
		if len(buf) > 0 && buf[len(buf)-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := bytes.Index(buf[start+2:], []byte{0xFF, 0xD9})
	if end == -1 {
		if start > 0 {
			*buffer = append(buf[:0], buf[start:]...)
		}
		return nil
	}
	end += start + 4

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	*buffer = append(buf[:0], buf[end:]...)
	return frame
}

// readRawFrames reads fixed size raw frames.
func readRawFrames(r io.Reader, size int, out chan []byte) error {
	if size <= 0 {
		return fmt.Errorf("invalid raw frame size %d", size)
	}
	for {
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		offerLatest(out, frame)
	}
}

// decodeYUV420 wraps a planar I420 buffer. rpicam-vid pads rows when the
// width is not a multiple of 64, so configured widths must be.
func decodeYUV420(data []byte, width, height int) (image.Image, error) {
	ySize := width * height
	cw, ch := (width+1)/2, (height+1)/2
	cSize := cw * ch
	if len(data) < ySize+2*cSize {
		return nil, fmt.Errorf("short yuv420 frame: %d bytes, want %d", len(data), ySize+2*cSize)
	}
	return &image.YCbCr{
		Y:              data[:ySize],
		Cb:             data[ySize : ySize+cSize],
		Cr:             data[ySize+cSize : ySize+2*cSize],
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}
