package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/kyuhyong/surveillance-camera/internal/camera"
)

// ErrWriterOpen is returned when a video writer cannot be created.
var ErrWriterOpen = errors.New("failed to open video writer")

// VideoWriter appends frames to one raw clip.
type VideoWriter interface {
	WriteFrame(f *camera.Frame) error
	Close() error
}

// WriterFactory opens a writer for path.
type WriterFactory func(path string) (VideoWriter, error)

// DefaultStartupGrace is how long an encoder must stay alive after launch
// before the writer counts as open.
const DefaultStartupGrace = 150 * time.Millisecond

// WriterConfig fixes the size and rate of every raw clip.
type WriterConfig struct {
	FFmpeg       string
	Width        int
	Height       int
	FPS          int
	StartupGrace time.Duration
}

// DefaultWriterConfig matches the stock camera profile.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{FFmpeg: "ffmpeg", Width: 640, Height: 480, FPS: 20, StartupGrace: DefaultStartupGrace}
}

// FFmpegWriter pipes raw RGBA frames into an ffmpeg encoder.
type FFmpegWriter struct {
	cfg    WriterConfig
	path   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	exited chan struct{}
	err    error // valid once exited is closed
	scaled *image.RGBA
	closed bool
	logger *slog.Logger
}

// NewFFmpegWriterFactory returns a WriterFactory producing FFmpegWriters.
func NewFFmpegWriterFactory(cfg WriterConfig, logger *slog.Logger) WriterFactory {
	return func(path string) (VideoWriter, error) {
		return OpenFFmpegWriter(cfg, path, logger)
	}
}

// WriterArgs returns the encoder command line for path.
func WriterArgs(cfg WriterConfig, path string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FPS),
		"-i", "-",
		"-an",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		path,
	}
}

// OpenFFmpegWriter starts the encoder. The process is not bound to a context
// and runs in its own process group: it must outlive cancellation and a
// terminal Ctrl+C so Close can flush the clip on shutdown.
//
// An encoder that exits within the startup grace (missing codec, bad output
// path) is reported as ErrWriterOpen.
func OpenFFmpegWriter(cfg WriterConfig, path string, logger *slog.Logger) (*FFmpegWriter, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("%w: invalid geometry %dx%d@%d", ErrWriterOpen, cfg.Width, cfg.Height, cfg.FPS)
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = DefaultStartupGrace
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := checkWritable(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriterOpen, err)
	}

	cmd := exec.Command(cfg.FFmpeg, WriterArgs(cfg, path)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrWriterOpen, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %s: %v", ErrWriterOpen, cfg.FFmpeg, err)
	}

	w := &FFmpegWriter{
		cfg:    cfg,
		path:   path,
		cmd:    cmd,
		stdin:  stdin,
		stderr: &stderr,
		exited: make(chan struct{}),
		scaled: image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		logger: logger,
	}
	go func() {
		w.err = cmd.Wait()
		close(w.exited)
	}()

	select {
	case <-w.exited:
		os.Remove(path)
		return nil, fmt.Errorf("%w: %s exited during startup: %v (stderr: %s)",
			ErrWriterOpen, cfg.FFmpeg, w.err, strings.TrimSpace(stderr.String()))
	case <-time.After(cfg.StartupGrace):
	}
	return w, nil
}

// checkWritable creates path, proving the directory accepts the clip.
// The encoder overwrites it.
func checkWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// WriteFrame encodes one frame, scaling it to the clip size when needed.
func (w *FFmpegWriter) WriteFrame(f *camera.Frame) error {
	if w.closed {
		return fmt.Errorf("writer for %s is closed", w.path)
	}
	select {
	case <-w.exited:
		return fmt.Errorf("encoder for %s exited: %v", w.path, w.err)
	default:
	}

	src := f.Image
	if f.Width() != w.cfg.Width || f.Height() != w.cfg.Height || src.Stride != 4*w.cfg.Width {
		xdraw.ApproxBiLinear.Scale(w.scaled, w.scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		src = w.scaled
	}

	if _, err := w.stdin.Write(src.Pix[:4*w.cfg.Width*w.cfg.Height]); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close flushes the encoder and waits for it to exit. Calling it twice is a no-op.
func (w *FFmpegWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	closeErr := w.stdin.Close()
	<-w.exited
	if w.err != nil {
		return fmt.Errorf("ffmpeg failed: %w (stderr: %s)", w.err, strings.TrimSpace(w.stderr.String()))
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close encoder input: %w", closeErr)
	}
	return nil
}
