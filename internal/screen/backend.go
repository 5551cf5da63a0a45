package screen

import (
	"image"

	"github.com/kbinani/screenshot"
)

// screenshotBackend grabs pixels straight from the display server, so the
// captured window does not need focus.
type screenshotBackend struct{}

func (screenshotBackend) captureRect(r image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(r)
}

func (screenshotBackend) displays() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}
