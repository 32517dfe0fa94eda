package recorder

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
)

// ThumbnailQuality is the JPEG quality of clip thumbnails.
const ThumbnailQuality = 85

// Thumbnailer writes the still image for a clip.
type Thumbnailer func(path string, img image.Image) error

// SaveThumbnail encodes img as JPEG at path.
func SaveThumbnail(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close thumbnail: %w", err)
	}
	return nil
}
