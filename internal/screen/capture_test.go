package screen

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

type fakeBackend struct {
	img     *image.RGBA
	err     error
	delay   time.Duration
	screens []image.Rectangle
	lastReq image.Rectangle
}

func (f *fakeBackend) captureRect(r image.Rectangle) (*image.RGBA, error) {
	f.lastReq = r
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.img, f.err
}

func (f *fakeBackend) displays() []image.Rectangle { return f.screens }

func TestCaptureReturnsFrame(t *testing.T) {
	b := &fakeBackend{img: image.NewRGBA(image.Rect(0, 0, 40, 30))}
	s := newSource(b, time.Second)

	f, err := s.Capture(context.Background(), frame.Region{Left: 5, Top: 6, Width: 40, Height: 30})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if f.Width() != 40 || f.Height() != 30 {
		t.Errorf("size = %dx%d, want 40x30", f.Width(), f.Height())
	}
	if b.lastReq != image.Rect(5, 6, 45, 36) {
		t.Errorf("backend rect = %v", b.lastReq)
	}
}

func TestCaptureWrapsBackendError(t *testing.T) {
	cause := errors.New("display gone")
	s := newSource(&fakeBackend{err: cause}, time.Second)

	_, err := s.Capture(context.Background(), frame.Region{Width: 1, Height: 1})
	if !apperrors.IsCode(err, apperrors.Capture) {
		t.Errorf("err = %v, want Capture code", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be preserved")
	}
}

func TestCaptureTimeout(t *testing.T) {
	b := &fakeBackend{img: image.NewRGBA(image.Rect(0, 0, 1, 1)), delay: 200 * time.Millisecond}
	s := newSource(b, 10*time.Millisecond)

	start := time.Now()
	_, err := s.Capture(context.Background(), frame.Region{Width: 1, Height: 1})
	if !apperrors.IsCode(err, apperrors.Capture) {
		t.Errorf("err = %v, want Capture code", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("capture should be abandoned at the timeout")
	}
}

func TestCaptureEmptyImage(t *testing.T) {
	s := newSource(&fakeBackend{}, time.Second)
	if _, err := s.Capture(context.Background(), frame.Region{Width: 1, Height: 1}); err == nil {
		t.Error("nil image should be a capture error")
	}
}

func TestCaptureInvalidRegion(t *testing.T) {
	s := newSource(&fakeBackend{}, time.Second)
	_, err := s.Capture(context.Background(), frame.Region{Width: 0, Height: 5})
	if !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestResolve(t *testing.T) {
	s := newSource(&fakeBackend{screens: []image.Rectangle{
		image.Rect(0, 0, 1920, 1080),
		image.Rect(1920, 0, 3200, 1024),
	}}, time.Second)

	r, err := s.Resolve(Target{Display: 1})
	if err != nil {
		t.Fatalf("Resolve display: %v", err)
	}
	if r != (frame.Region{Left: 1920, Top: 0, Width: 1280, Height: 1024}) {
		t.Errorf("display 1 = %+v", r)
	}

	r, err = s.Resolve(Target{Rect: &frame.Region{Left: -8, Top: -4, Width: 100, Height: 50}})
	if err != nil {
		t.Fatalf("Resolve rect: %v", err)
	}
	if r != (frame.Region{Left: 0, Top: 0, Width: 92, Height: 46}) {
		t.Errorf("clamped rect = %+v", r)
	}

	if _, err := s.Resolve(Target{Display: 5}); !apperrors.IsCode(err, apperrors.NoTarget) {
		t.Errorf("missing display err = %v, want NoTarget", err)
	}
	if _, err := s.Resolve(Target{Rect: &frame.Region{Left: -50, Width: 10, Height: 10}}); !apperrors.IsCode(err, apperrors.NoTarget) {
		t.Errorf("offscreen rect err = %v, want NoTarget", err)
	}
}

func TestResolveNoDisplays(t *testing.T) {
	s := newSource(&fakeBackend{}, time.Second)
	if _, err := s.Resolve(Target{}); !apperrors.IsCode(err, apperrors.NoTarget) {
		t.Errorf("err = %v, want NoTarget", err)
	}
}

// Integration test - only runs when a display is attached
func TestCaptureIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := New(2 * time.Second)
	displays := s.Displays()
	if len(displays) == 0 {
		t.Skip("no active displays")
	}

	f, err := s.Capture(context.Background(), frame.Region{Left: displays[0].Left, Top: displays[0].Top, Width: 64, Height: 64})
	if err != nil {
		t.Logf("capture failed (may be permission issue): %v", err)
		return
	}
	if f.Width() != 64 {
		t.Errorf("width = %d, want 64", f.Width())
	}
}
