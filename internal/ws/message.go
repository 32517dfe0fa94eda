package ws

import (
	"time"

	"github.com/kyuhyong/surveillance-camera/internal/handoff"
)

// FrameMessage represents a video frame broadcast
type FrameMessage struct {
	Type        string    `json:"type"` // "frame"
	Timestamp   time.Time `json:"timestamp"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`
	Frame       string    `json:"frame"` // Base64 encoded JPEG frame
}

// NewFrameMessage creates a new frame message for live streaming
func NewFrameMessage(at time.Time, frameWidth, frameHeight int, frameBase64 string) *FrameMessage {
	return &FrameMessage{
		Type:        "frame",
		Timestamp:   at,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Frame:       frameBase64,
	}
}

// ClipMessage announces a finished, streamable clip
type ClipMessage struct {
	Type string `json:"type"` // "new_clip"
	handoff.Notification
}

// NewClipMessage wraps a notification for the socket
func NewClipMessage(n handoff.Notification) *ClipMessage {
	return &ClipMessage{Type: "new_clip", Notification: n}
}
