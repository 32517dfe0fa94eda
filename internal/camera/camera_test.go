package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestNewSelectsBackend(t *testing.T) {
	src, err := New(Config{Backend: BackendPiCamera, Width: 640, Height: 480, FPS: 20}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, BackendPiCamera, src.Name())

	src, err = New(Config{Backend: BackendUSB}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, BackendUSB, src.Name())

	_, err = New(Config{Backend: "gopro"}, testLogger())
	require.Error(t, err)
}

func TestFrameCloneDoesNotAlias(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	f := NewFrame(img, time.Now())
	c := f.Clone()
	c.Image.Pix[0] = 200
	assert.Equal(t, uint8(0), f.Image.Pix[0])
	assert.Equal(t, 4, c.Width())
	assert.Equal(t, 4, c.Height())
}

func TestNewFrameCopiesSource(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	src.Set(10, 10, color.RGBA{R: 9, G: 8, B: 7, A: 255})
	f := NewFrame(src, time.Now())
	assert.Equal(t, image.Rect(0, 0, 4, 2), f.Image.Rect)
	assert.Equal(t, color.RGBA{R: 9, G: 8, B: 7, A: 255}, f.Image.RGBAAt(0, 0))
	src.Set(10, 10, color.RGBA{})
	assert.Equal(t, uint8(9), f.Image.Pix[0])
}

func TestExtractJPEGFrame(t *testing.T) {
	a := []byte{0xFF, 0xD8, 1, 2, 3, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 4, 5, 0xFF, 0xD9}

	buf := append([]byte{0x00, 0x11}, a...)
	buf = append(buf, b[:3]...)

	frame := extractJPEGFrame(&buf)
	assert.Equal(t, a, frame)
	assert.Nil(t, extractJPEGFrame(&buf), "second frame is incomplete")

	buf = append(buf, b[3:]...)
	assert.Equal(t, b, extractJPEGFrame(&buf))
	assert.Empty(t, buf)
}

func TestExtractJPEGFrameDropsGarbage(t *testing.T) {
	buf := []byte{1, 2, 3, 0xFF}
	assert.Nil(t, extractJPEGFrame(&buf))
	assert.Equal(t, []byte{0xFF}, buf)
}

func TestReadJPEGFramesKeepsLatest(t *testing.T) {
	first := encodeJPEG(t, 8, 8, color.White)
	second := encodeJPEG(t, 8, 8, color.Black)
	stream := append(append([]byte{}, first...), second...)

	out := make(chan []byte, 1)
	require.NoError(t, readJPEGFrames(bytes.NewReader(stream), out))

	got := <-out
	assert.Equal(t, second, got)
}

func TestDecodeYUV420(t *testing.T) {
	w, h := 4, 2
	data := make([]byte, w*h*3/2)
	for i := 0; i < w*h; i++ {
		data[i] = 128
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	img, err := decodeYUV420(data, w, h)
	require.NoError(t, err)
	f := NewFrame(img, time.Now())
	px := f.Image.RGBAAt(1, 1)
	assert.InDelta(t, 128, int(px.R), 2)
	assert.InDelta(t, 128, int(px.G), 2)

	_, err = decodeYUV420(data[:5], w, h)
	require.Error(t, err)
}

func TestPiCameraArgs(t *testing.T) {
	p := NewPiCamera(Config{Width: 640, Height: 480, FPS: 20, PixelFormat: PixelFormatYUV420}, testLogger())
	args := p.Args()
	assert.Contains(t, args, "yuv420")
	assert.Contains(t, args, "640")
	assert.Contains(t, args, "480")
	assert.Contains(t, args, "20")
}

func TestPiCameraMissingTool(t *testing.T) {
	p := NewPiCamera(Config{Command: filepath.Join(t.TempDir(), "missing-tool"), Width: 64, Height: 64, FPS: 5}, testLogger())
	err := p.Start(context.Background())
	require.Error(t, err)

	_, err = p.Frame(context.Background())
	assert.True(t, errors.Is(err, ErrNotStarted))
	assert.NoError(t, p.Stop(), "stop without start is a no-op")
}

func TestPiCameraStreamsFromTool(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.jpg")
	require.NoError(t, os.WriteFile(framePath, encodeJPEG(t, 32, 24, color.Gray{Y: 90}), 0644))

	script := filepath.Join(dir, "fake-rpicam")
	pgroupPath := filepath.Join(dir, "pgroup")
	body := "#!/bin/sh\nread -r _ _ _ _ pgrp _ < /proc/$$/stat\necho \"$$ $pgrp\" > " + pgroupPath +
		"\nwhile true; do cat " + framePath + "; sleep 0.05; done\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	p := NewPiCamera(Config{Command: script, Width: 32, Height: 24, FPS: 10}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Start(ctx), "start is idempotent")

	f, err := p.Frame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, f.Width())
	assert.Equal(t, 24, f.Height())

	// The tool leads its own process group so only Stop ends it.
	data, err := os.ReadFile(pgroupPath)
	require.NoError(t, err)
	ids := strings.Fields(string(data))
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}
