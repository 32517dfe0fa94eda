package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayTimeLayout is the clock drawn on every frame.
const OverlayTimeLayout = "02/01/06, 15:04:05"

var overlayColor = image.NewUniform(color.RGBA{G: 255, A: 255})

// Baselines of the three overlay lines.
const (
	lineTime   = 30
	lineStatus = 60
	lineLight  = 90
	lineLeft   = 10
)

func drawText(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  overlayColor,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// DrawTimestamp stamps the wall clock onto img. Recorded clips carry it.
func DrawTimestamp(img *image.RGBA, t time.Time) {
	drawText(img, lineLeft, lineTime, t.Format(OverlayTimeLayout))
}

// Status is what the status overlay reports.
type Status struct {
	Recording  bool
	Armed      bool
	Contours   int
	Readiness  int
	Brightness int
}

// Text renders the status line.
func (s Status) Text() string {
	mode := "DISARMED"
	switch {
	case s.Recording:
		mode = "REC "
	case s.Armed:
		mode = "ARMED"
	}
	return fmt.Sprintf("%sMotion:%d @%d", mode, s.Contours, s.Readiness)
}

// DrawStatus draws the status and brightness lines. It is applied after the
// frame was handed to the recorder, so only the preview shows it.
func DrawStatus(img *image.RGBA, s Status) {
	drawText(img, lineLeft, lineStatus, s.Text())
	drawText(img, lineLeft, lineLight, fmt.Sprintf("Brightness:%d", s.Brightness))
}
