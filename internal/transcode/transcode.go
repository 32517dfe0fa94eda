package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Profiles mirror the camera backends: the Pi is slow so it encodes with
// the fastest preset and pins the output rate.
const (
	ProfileGeneric  = "generic"
	ProfilePiCamera = "picamera"
)

// Config tunes the ffmpeg invocation.
type Config struct {
	FFmpeg  string
	Profile string
	// Preset overrides the profile's x264 preset when set.
	Preset string
	CRF    int
	FPS    int
}

// DefaultConfig returns the generic profile.
func DefaultConfig() Config {
	return Config{FFmpeg: "ffmpeg", Profile: ProfileGeneric, CRF: 23, FPS: 20}
}

// Transcoder turns a raw clip into a streamable one.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// FFmpeg runs one ffmpeg process per clip.
type FFmpeg struct {
	cfg Config
}

// New creates a new ffmpeg transcoder
func New(cfg Config) *FFmpeg {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileGeneric
	}
	if cfg.CRF <= 0 {
		cfg.CRF = 23
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 20
	}
	return &FFmpeg{cfg: cfg}
}

// Args returns the ffmpeg arguments for one clip.
func (f *FFmpeg) Args(src, dst string) []string {
	preset := "fast"
	if f.cfg.Profile == ProfilePiCamera {
		preset = "ultrafast"
	}
	if f.cfg.Preset != "" {
		preset = f.cfg.Preset
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", src,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(f.cfg.CRF),
		"-preset", preset,
		"-movflags", "+faststart",
	}
	if f.cfg.Profile == ProfilePiCamera {
		args = append(args, "-r", strconv.Itoa(f.cfg.FPS), "-vsync", "1")
	}
	return append(args, dst)
}

// Transcode converts src into dst. A failed run removes the partial output.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("raw clip not readable: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.cfg.FFmpeg, f.Args(src, dst)...)
	// Own process group: shutdown cancels ctx, a terminal Ctrl+C does not.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
