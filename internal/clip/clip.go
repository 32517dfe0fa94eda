package clip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StampLayout is the timestamp embedded in every clip artifact filename.
const StampLayout = "2006-01-02_15-04-05"

// DisplayLayout is the human readable form of a stamp used in notifications.
const DisplayLayout = "2006-01-02 15:04:05"

const (
	VideoPrefix = "motion_"
	ImagePrefix = "image_"
	VideoExt    = ".mp4"
	ImageExt    = ".jpg"
)

// ErrInvalidName is returned when a filename does not carry a clip stamp.
var ErrInvalidName = errors.New("invalid clip filename")

// Stamp formats t as a clip stamp.
func Stamp(t time.Time) string {
	return t.Format(StampLayout)
}

// VideoName returns the raw/streamable video filename for a stamp.
func VideoName(stamp string) string {
	return VideoPrefix + stamp + VideoExt
}

// ImageName returns the thumbnail filename for a stamp.
func ImageName(stamp string) string {
	return ImagePrefix + stamp + ImageExt
}

// ParseVideoName extracts the stamp and its local time from a video filename.
// Any extension is accepted; the prefix and the stamp layout are not optional.
func ParseVideoName(name string) (string, time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, VideoPrefix) {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, base)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, VideoPrefix), filepath.Ext(base))
	t, err := time.ParseInLocation(StampLayout, stamp, time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidName, base, err)
	}
	return stamp, t, nil
}

// Display converts a stamp to DisplayLayout ("2025-03-11 23:46:30").
// A malformed stamp is returned unchanged.
func Display(stamp string) string {
	t, err := time.ParseInLocation(StampLayout, stamp, time.Local)
	if err != nil {
		return stamp
	}
	return t.Format(DisplayLayout)
}

// Layout holds the three parallel artifact directories.
type Layout struct {
	ClipsDir  string
	StreamDir string
	ImagesDir string
}

// Ensure creates the artifact directories if they are missing.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.ClipsDir, l.StreamDir, l.ImagesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clip returns the artifact set for a stamp.
func (l Layout) Clip(stamp string) Clip {
	return Clip{
		Stamp:      stamp,
		RawPath:    filepath.Join(l.ClipsDir, VideoName(stamp)),
		StreamPath: filepath.Join(l.StreamDir, VideoName(stamp)),
		ImagePath:  filepath.Join(l.ImagesDir, ImageName(stamp)),
	}
}

// Clip is the raw + streamable + thumbnail artifact set of one recording
// session. Stamp is the only join key between the three files.
type Clip struct {
	Stamp      string
	RawPath    string
	StreamPath string
	ImagePath  string
}

// VideoFilename is the basename shared by the raw and streamable videos.
func (c Clip) VideoFilename() string {
	return filepath.Base(c.RawPath)
}

// ImageFilename is the thumbnail basename.
func (c Clip) ImageFilename() string {
	return filepath.Base(c.ImagePath)
}
