package orchestrator

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/screenwatch/internal/config"
	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/alert"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/command"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/monitor"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/resume"
	"github.com/GriffinCanCode/screenwatch/internal/screen"
	"github.com/GriffinCanCode/screenwatch/internal/telegram"
)

func solid(w, h int, v uint8) *frame.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return frame.FromRGBA(img)
}

// fakeScreen returns a dark frame until changed is set, then a bright one.
type fakeScreen struct {
	changed atomic.Bool
}

func (s *fakeScreen) Capture(ctx context.Context, r frame.Region) (*frame.Frame, error) {
	if s.changed.Load() {
		return solid(40, 40, 200), nil
	}
	return solid(40, 40, 10), nil
}

func (s *fakeScreen) Resolve(t screen.Target) (frame.Region, error) {
	if t.Rect != nil {
		return *t.Rect, nil
	}
	if t.Display != 0 {
		return frame.Region{}, apperrors.New(apperrors.NoTarget, "display not found")
	}
	return frame.Region{Width: 40, Height: 40}, nil
}

func (s *fakeScreen) Displays() []frame.Region {
	return []frame.Region{{Width: 40, Height: 40}}
}

type fakePresenter struct {
	mu        sync.Mutex
	presented []uuid.UUID
	dismissed []resume.Outcome
}

func (p *fakePresenter) Present(a alert.Alert, seconds int) {
	p.mu.Lock()
	p.presented = append(p.presented, a.ID)
	p.mu.Unlock()
}

func (p *fakePresenter) Countdown(uuid.UUID, int) {}

func (p *fakePresenter) Dismiss(_ uuid.UUID, o resume.Outcome) {
	p.mu.Lock()
	p.dismissed = append(p.dismissed, o)
	p.mu.Unlock()
}

func (p *fakePresenter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.presented)
}

type fakePrompter struct{ answer bool }

func (p fakePrompter) Confirm(context.Context, uuid.UUID, string) (bool, error) {
	return p.answer, nil
}

// fakeRemote records sent texts and never returns updates.
type fakeRemote struct {
	mu    sync.Mutex
	texts []string
}

func (r *fakeRemote) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) SendPhoto(context.Context, string, *frame.Frame) error { return nil }

func (r *fakeRemote) GetUpdates(ctx context.Context, _ int64, _ time.Duration) ([]telegram.Update, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r *fakeRemote) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	m         *Manager
	screen    *fakeScreen
	presenter *fakePresenter
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHarness(t *testing.T, settings config.Settings, countdown int, answer bool) *harness {
	t.Helper()
	h := &harness{screen: &fakeScreen{}, presenter: &fakePresenter{}, done: make(chan struct{})}
	h.m = New(Config{
		Monitor:       monitor.Config{Interval: 5 * time.Millisecond, TileSize: 10, Threshold: 10},
		Resume:        resume.Config{Countdown: countdown, Tick: 5 * time.Millisecond},
		DrainInterval: 5 * time.Millisecond,
	}, Deps{
		Screen:    h.screen,
		Presenter: h.presenter,
		Prompter:  fakePrompter{answer: answer},
	}, settings)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.m.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) target(t *testing.T) {
	t.Helper()
	if _, err := h.m.SetTarget(context.Background(), screen.Target{}); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
}

func TestRequestStartNeedsTarget(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	ctx := context.Background()

	if err := h.m.RequestStart(ctx); !apperrors.IsCode(err, apperrors.NoTarget) {
		t.Fatalf("err = %v, want NoTarget", err)
	}
	h.target(t)
	if err := h.m.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if h.m.State() != monitor.Running {
		t.Errorf("state = %v, want running", h.m.State())
	}
	if err := h.m.RequestStart(ctx); !apperrors.IsCode(err, apperrors.AlreadyRunning) {
		t.Errorf("second start err = %v, want AlreadyRunning", err)
	}
}

func TestRequestStop(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	ctx := context.Background()
	h.target(t)

	if err := h.m.RequestStop(ctx); !apperrors.IsCode(err, apperrors.NotRunning) {
		t.Errorf("idle stop err = %v, want NotRunning", err)
	}
	if err := h.m.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if err := h.m.RequestStop(ctx); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if h.m.State() != monitor.Idle {
		t.Errorf("state = %v, want idle", h.m.State())
	}
}

func TestSetTargetUnknownDisplay(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	if _, err := h.m.SetTarget(context.Background(), screen.Target{Display: 3}); !apperrors.IsCode(err, apperrors.NoTarget) {
		t.Errorf("err = %v, want NoTarget", err)
	}
}

func TestSetRegionValidates(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	ctx := context.Background()

	if err := h.m.SetRegion(ctx, &frame.Region{Left: -1, Width: 5, Height: 5}); !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
	if err := h.m.SetRegion(ctx, &frame.Region{Left: 5, Top: 5, Width: 10, Height: 10}); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	if st := h.m.Status(); st.Region == nil || st.Region.Left != 5 {
		t.Errorf("status region = %v", st.Region)
	}
}

func TestDetectionTimeoutRestarts(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 1, false)
	ctx := context.Background()
	h.target(t)
	if err := h.m.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	first := *h.m.Status().SessionID

	h.screen.changed.Store(true)
	waitFor(t, "restart", func() bool {
		st := h.m.Status()
		return st.State == "running" && st.SessionID != nil && *st.SessionID != first
	})

	entries := h.m.History().List(0)
	if len(entries) != 1 {
		t.Fatalf("history = %d entries, want 1", len(entries))
	}
	if entries[0].SessionID != first {
		t.Error("history entry should belong to the first session")
	}
	waitFor(t, "outcome", func() bool { return h.m.History().List(1)[0].Outcome == "restart" })
	if h.presenter.count() != 1 {
		t.Errorf("presented %d alerts, want 1", h.presenter.count())
	}
}

func TestCloseThenDeclineStops(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 1000, false)
	ctx := context.Background()
	h.target(t)
	if err := h.m.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}

	h.screen.changed.Store(true)
	waitFor(t, "open episode", func() bool { return len(h.m.Status().OpenAlerts) == 1 })
	if h.m.State() != monitor.Detected {
		t.Errorf("state = %v, want detected", h.m.State())
	}
	if !h.m.CloseAlert(uuid.Nil) {
		t.Fatal("CloseAlert should finalize the open episode")
	}
	waitFor(t, "stop", func() bool { return h.m.State() == monitor.Idle })
}

func TestDesktopNotificationsGate(t *testing.T) {
	settings := config.DefaultSettings()
	settings.DesktopNotifications = false
	h := newHarness(t, settings, 1, true)
	h.target(t)
	if err := h.m.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}

	h.screen.changed.Store(true)
	waitFor(t, "alert recorded", func() bool { return len(h.m.History().List(0)) == 1 })
	waitFor(t, "restart", func() bool { return h.m.State() == monitor.Running })
	if h.presenter.count() != 0 {
		t.Error("presenter should not be called with desktop notifications off")
	}
}

func TestRemoteCommands(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	remote := &fakeRemote{}
	h.m.SetRemote(remote, "42")
	h.target(t)

	q := h.m.Queue()
	q.Enqueue(command.Message{UpdateID: 1, Text: "/status"})
	waitFor(t, "status reply", func() bool { return len(remote.sent()) == 1 })
	if got := remote.sent()[0]; got != command.ReplyStatusIdle {
		t.Errorf("reply = %q, want %q", got, command.ReplyStatusIdle)
	}
	if h.m.State() != monitor.Idle {
		t.Error("status must not change state")
	}

	q.Enqueue(command.Message{UpdateID: 2, Text: "/start"})
	q.Enqueue(command.Message{UpdateID: 3, Text: "hello"})
	q.Enqueue(command.Message{UpdateID: 4, Text: "/start"})
	waitFor(t, "start replies", func() bool { return len(remote.sent()) == 3 })
	sent := remote.sent()
	if sent[1] != command.ReplyStarted || sent[2] != command.ReplyAlreadyActive {
		t.Errorf("replies = %q", sent[1:])
	}
	if h.m.State() != monitor.Running {
		t.Errorf("state = %v, want running", h.m.State())
	}
	if !h.m.Status().RemoteEnabled {
		t.Error("status should report the remote")
	}

	h.m.SetRemote(nil, "")
	if h.m.Dispatcher().Notifier() != nil {
		t.Error("SetRemote(nil) should clear the notifier")
	}
}

func TestStateListeners(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	var mu sync.Mutex
	var seen []monitor.State
	h.m.OnState(func(s monitor.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	h.target(t)
	if err := h.m.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != monitor.Running {
		t.Errorf("states = %v, want [running]", seen)
	}
}

func TestStaleActionIgnored(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	h.target(t)
	if err := h.m.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}

	h.m.actions <- episodeResult{sessionID: uuid.New(), alertID: uuid.New(), action: resume.ActionStop}
	time.Sleep(20 * time.Millisecond)
	if h.m.State() != monitor.Running {
		t.Error("decision for another session must not stop monitoring")
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), 20, true)
	h.cancel()
	<-h.done

	if err := h.m.RequestStart(context.Background()); !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Errorf("err = %v, want Unavailable", err)
	}
}
