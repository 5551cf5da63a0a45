// Package alert turns a detection into a composed image, a sound and a
// remote notification.
package alert

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfnt/resize"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/monitor"
	"github.com/GriffinCanCode/screenwatch/internal/resilience"
	"github.com/GriffinCanCode/screenwatch/internal/syncx"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// Notifier delivers remote notifications.
type Notifier interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, caption string, img *frame.Frame) error
}

// Sound plays the alert tone.
type Sound interface {
	Play(ctx context.Context) error
}

// Settings gate the alert channels.
type Settings struct {
	Sound    bool
	Telegram bool
	Cooldown time.Duration
}

// Alert is one dispatched episode.
type Alert struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	At             time.Time
	Image          *frame.Frame
	Tiles          int
	ChangedPercent float64
	Notified       bool
	NotifyError    string
}

// Dispatcher sends alerts. Notifier and settings may be swapped at runtime.
type Dispatcher struct {
	notifier *syncx.Shared[Notifier]
	settings *syncx.Shared[Settings]
	sound    Sound
	retry    resilience.RetryConfig

	mu       sync.Mutex
	lastSent time.Time
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. notifier and sound may be nil.
func NewDispatcher(notifier Notifier, sound Sound, settings Settings) *Dispatcher {
	return &Dispatcher{
		notifier: syncx.NewShared(notifier),
		settings: syncx.NewShared(settings),
		sound:    sound,
		retry:    resilience.NotifyRetryConfig(),
		now:      time.Now,
	}
}

// SetNotifier replaces the notifier; nil disables remote notifications.
func (d *Dispatcher) SetNotifier(n Notifier) { d.notifier.Store(n) }

// Notifier returns the current notifier or nil.
func (d *Dispatcher) Notifier() Notifier { return d.notifier.Load() }

// SetSettings replaces the alert settings.
func (d *Dispatcher) SetSettings(s Settings) { d.settings.Store(s) }

// Settings returns the alert settings.
func (d *Dispatcher) Settings() Settings { return d.settings.Load() }

// Dispatch composes the alert image, plays the sound and sends the remote
// notification. The returned Alert is valid even when err is a Notifier error.
func (d *Dispatcher) Dispatch(ctx context.Context, det monitor.Detection) (Alert, error) {
	id := uuid.New()
	ctx, span := trace.StartSpan(trace.WithAlert(ctx, id), "alert_dispatch")
	defer span.End()
	log := trace.Logger(ctx)

	a := Alert{
		ID:             id,
		SessionID:      det.SessionID,
		At:             det.At,
		Image:          Compose(det),
		Tiles:          len(det.Tiles),
		ChangedPercent: det.ChangedPercent,
	}
	settings := d.settings.Load()

	if settings.Sound && d.sound != nil {
		if err := d.sound.Play(ctx); err != nil {
			log.Warn("alert sound failed", "error", err)
		}
	}

	n := d.notifier.Load()
	if !settings.Telegram || n == nil {
		return a, nil
	}
	if !d.cooledDown(settings.Cooldown) {
		log.Info("notification suppressed by cooldown", "cooldown", settings.Cooldown)
		return a, nil
	}

	if err := d.send(ctx, n, a); err != nil {
		a.NotifyError = err.Error()
		span.SetAttr("error", a.NotifyError)
		log.Error("alert notification failed", "error", err)
		return a, apperrors.Wrap(err, apperrors.Notifier, "send alert notification")
	}

	d.mu.Lock()
	d.lastSent = d.now()
	d.mu.Unlock()
	a.Notified = true
	log.Info("alert notification sent")
	return a, nil
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, a Alert) error {
	at := a.At
	if at.IsZero() {
		at = d.now()
	}
	if err := resilience.Retry(ctx, d.retry, func() error {
		return n.SendText(ctx, Message(at.Format(TimeLayout)))
	}); err != nil {
		return err
	}
	photo := Downscale(a.Image, MaxPhotoDimension)
	return resilience.Retry(ctx, d.retry, func() error {
		return n.SendPhoto(ctx, PhotoCaption, photo)
	})
}

func (d *Dispatcher) cooledDown(cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSent.IsZero() || d.now().Sub(d.lastSent) >= cooldown
}

// Compose returns the image shown to the user. With a monitored sub-region the
// region is ringed in RegionOutlineColor on the full frame and the region
// overlay is pasted over it, so tile annotations always stay on top;
// otherwise the overlay is returned as is.
func Compose(det monitor.Detection) *frame.Frame {
	if det.Region == nil || det.Full == nil {
		return det.Overlay
	}
	r := *det.Region
	img := det.Full.Clone()
	ring := r.Rect().Inset(-RegionOutlineWidth)
	frame.Outline(img, ring, RegionOutlineWidth, RegionOutlineColor)
	frame.Paste(img, det.Overlay, image.Pt(r.Left, r.Top))
	return frame.FromRGBA(img)
}

// Downscale shrinks f so its longest side is at most maxDim, keeping aspect.
func Downscale(f *frame.Frame, maxDim int) *frame.Frame {
	if f.Width() <= maxDim && f.Height() <= maxDim {
		return f
	}
	thumb := resize.Thumbnail(uint(maxDim), uint(maxDim), f.Image(), resize.Lanczos3)
	return frame.New(thumb)
}
