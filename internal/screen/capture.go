// Package screen provides platform-agnostic screen capture
package screen

import (
	"context"
	"image"
	"log/slog"
	"strconv"
	"time"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

// DefaultCaptureTimeout bounds a single capture call.
const DefaultCaptureTimeout = 5 * time.Second

// Capturer captures screen rectangles as frames.
type Capturer interface {
	Capture(ctx context.Context, r frame.Region) (*frame.Frame, error)
}

// Target selects what to capture: an explicit screen rectangle, or a whole display.
type Target struct {
	Display int
	Rect    *frame.Region
}

// backend implements platform-specific raw capture
type backend interface {
	captureRect(r image.Rectangle) (*image.RGBA, error)
	displays() []image.Rectangle
}

// Source captures frames through a backend, bounding every call with a timeout.
type Source struct {
	backend
	timeout time.Duration
}

// New creates a screen source backed by the native display API.
func New(timeout time.Duration) *Source {
	return newSource(screenshotBackend{}, timeout)
}

func newSource(b backend, timeout time.Duration) *Source {
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	return &Source{backend: b, timeout: timeout}
}

type grabResult struct {
	img *image.RGBA
	err error
}

// Capture grabs r. A hung backend call is abandoned after the timeout; its
// goroutine finishes in the background.
func (s *Source) Capture(ctx context.Context, r frame.Region) (*frame.Frame, error) {
	if !r.Valid() {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "capture region %s", r)
	}

	ch := make(chan grabResult, 1)
	go func() {
		img, err := s.captureRect(r.Rect())
		ch <- grabResult{img: img, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.Capture, "capture cancelled")
	case <-timer.C:
		return nil, apperrors.Newf(apperrors.Capture, "capture timed out after %s", s.timeout).
			WithMetadata("region", r.String())
	case res := <-ch:
		if res.err != nil {
			return nil, apperrors.Wrap(res.err, apperrors.Capture, "capture failed").
				WithMetadata("region", r.String())
		}
		if res.img == nil || res.img.Rect.Empty() {
			return nil, apperrors.New(apperrors.Capture, "capture returned empty image")
		}
		return frame.FromRGBA(res.img), nil
	}
}

// Displays returns the bounds of the active displays.
func (s *Source) Displays() []frame.Region {
	rects := s.displays()
	out := make([]frame.Region, 0, len(rects))
	for _, r := range rects {
		out = append(out, frame.RegionFromRect(r))
	}
	return out
}

// Resolve turns a target into an absolute screen rectangle. Explicit
// rectangles have negative coordinates clamped to zero.
func (s *Source) Resolve(t Target) (frame.Region, error) {
	if t.Rect != nil {
		r := *t.Rect
		if r.Left < 0 {
			r.Width += r.Left
			r.Left = 0
		}
		if r.Top < 0 {
			r.Height += r.Top
			r.Top = 0
		}
		if !r.Valid() {
			return frame.Region{}, apperrors.Newf(apperrors.NoTarget, "target %s has no visible area", *t.Rect)
		}
		return r, nil
	}

	displays := s.Displays()
	if len(displays) == 0 {
		return frame.Region{}, apperrors.New(apperrors.NoTarget, "no active displays")
	}
	if t.Display < 0 || t.Display >= len(displays) {
		return frame.Region{}, apperrors.Newf(apperrors.NoTarget, "display %d not found", t.Display).
			WithMetadata("displays", strconv.Itoa(len(displays)))
	}
	slog.Debug("resolved capture target", "display", t.Display, "bounds", displays[t.Display].String())
	return displays[t.Display], nil
}
