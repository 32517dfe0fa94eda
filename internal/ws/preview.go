package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/kyuhyong/surveillance-camera/internal/handoff"
)

// DefaultPreviewQuality is the JPEG quality of preview frames.
const DefaultPreviewQuality = 70

// FrameSink receives encoded preview frames.
type FrameSink interface {
	// Wants reports whether the sink would use a frame right now.
	Wants() bool
	PublishJPEG(at time.Time, width, height int, data []byte)
}

// Preview drains the frame queue and pushes JPEG frames to its sinks. A frame
// is encoded once and only when some sink wants it.
type Preview struct {
	frames  *handoff.FrameQueue
	sinks   []FrameSink
	quality int
	logger  *slog.Logger
}

// NewPreview creates a new preview pump
func NewPreview(frames *handoff.FrameQueue, quality int, logger *slog.Logger, sinks ...FrameSink) *Preview {
	if quality <= 0 || quality > 100 {
		quality = DefaultPreviewQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Preview{frames: frames, sinks: sinks, quality: quality, logger: logger.With("component", "preview")}
}

// Run pumps frames until ctx is done.
func (p *Preview) Run(ctx context.Context) {
	var buf bytes.Buffer
	wanting := make([]FrameSink, 0, len(p.sinks))
	for {
		f, err := p.frames.Next(ctx)
		if err != nil {
			return
		}

		wanting = wanting[:0]
		for _, s := range p.sinks {
			if s.Wants() {
				wanting = append(wanting, s)
			}
		}
		if len(wanting) == 0 {
			continue
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: p.quality}); err != nil {
			p.logger.Warn("failed to encode preview frame", "error", err)
			continue
		}
		// Sinks may keep the slice.
		data := bytes.Clone(buf.Bytes())
		for _, s := range wanting {
			s.PublishJPEG(f.CapturedAt, f.Width(), f.Height(), data)
		}
	}
}

// Wants implements FrameSink.
func (h *Hub) Wants() bool { return h.HasClients() }

// PublishJPEG implements FrameSink by broadcasting a base64 frame message.
func (h *Hub) PublishJPEG(at time.Time, width, height int, data []byte) {
	h.BroadcastFrame(NewFrameMessage(at, width, height, base64.StdEncoding.EncodeToString(data)))
}
