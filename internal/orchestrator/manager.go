package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/screenwatch/internal/config"
	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/alert"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/command"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/history"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/monitor"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/resume"
	"github.com/GriffinCanCode/screenwatch/internal/screen"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// Screen captures frames and resolves capture targets.
type Screen interface {
	screen.Capturer
	Resolve(t screen.Target) (frame.Region, error)
	Displays() []frame.Region
}

// Remote is a configured command and notification channel.
type Remote interface {
	alert.Notifier
	command.Source
}

// Config holds the Manager's tunables.
type Config struct {
	Monitor       monitor.Config
	Resume        resume.Config
	Poller        command.PollerConfig
	DrainInterval time.Duration
	Region        *frame.Region
}

// Deps are the collaborators the Manager drives.
type Deps struct {
	Screen    Screen
	Sound     alert.Sound
	Presenter resume.Presenter
	Prompter  resume.Prompter
}

// Manager is the single owner of monitoring state. Start and Stop of the
// monitor only happen on the goroutine running Run.
type Manager struct {
	cfg    Config
	screen Screen

	monitor    *monitor.Monitor
	dispatcher *alert.Dispatcher
	resume     *resume.Controller
	queue      *command.Queue
	history    *history.Store
	desktop    atomic.Bool

	detections chan monitor.Detection
	actions    chan episodeResult
	requests   chan request
	done       chan struct{}

	mu        sync.Mutex
	region    *frame.Region
	listeners []func(monitor.State)
	runCtx    context.Context
	remote    Remote
	remoteID  string
	stopPoll  context.CancelFunc
}

type episodeResult struct {
	sessionID uuid.UUID
	alertID   uuid.UUID
	action    resume.Action
}

type request struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// New wires a Manager. settings are applied as with ApplySettings.
func New(cfg Config, deps Deps, settings config.Settings) *Manager {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	m := &Manager{
		cfg:        cfg,
		screen:     deps.Screen,
		queue:      command.NewQueue(command.DefaultQueueSize),
		history:    history.NewStore(HistoryMaxEntries, HistoryEventBuffer),
		detections: make(chan monitor.Detection, DetectionBuffer),
		actions:    make(chan episodeResult, ActionBuffer),
		requests:   make(chan request),
		done:       make(chan struct{}),
	}
	if cfg.Region != nil {
		r := *cfg.Region
		m.region = &r
	}
	m.monitor = monitor.New(deps.Screen, cfg.Monitor, m.onDetection).WithStateHook(m.onState)
	m.dispatcher = alert.NewDispatcher(nil, deps.Sound, alert.Settings{})
	m.resume = resume.New(cfg.Resume, &gatedPresenter{inner: deps.Presenter, enabled: &m.desktop}, deps.Prompter)
	m.ApplySettings(settings)
	return m
}

// Run owns monitoring state until ctx is done. The monitor is stopped on exit.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	if m.remote != nil && m.stopPoll == nil {
		m.startPollerLocked()
	}
	m.mu.Unlock()

	ticker := time.NewTicker(m.cfg.DrainInterval)
	defer ticker.Stop()
	defer close(m.done)
	defer m.monitor.Stop()

	log := trace.Logger(ctx)
	log.Info("manager started", "drain_interval", m.cfg.DrainInterval)

	for {
		select {
		case <-ctx.Done():
			log.Info("manager stopping")
			return nil
		case <-ticker.C:
			m.drainCommands(ctx)
		case det := <-m.detections:
			m.handleDetection(ctx, det)
		case res := <-m.actions:
			m.applyAction(ctx, res)
		case req := <-m.requests:
			req.reply <- req.fn(ctx)
		}
	}
}

// submit runs fn on the owner goroutine and waits for its result.
func (m *Manager) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case m.requests <- req:
	case <-m.done:
		return apperrors.New(apperrors.Unavailable, "manager is not running")
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "request cancelled")
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "request cancelled")
	}
}

// RequestStart asks the owner to start monitoring.
func (m *Manager) RequestStart(ctx context.Context) error {
	return m.submit(ctx, func(ctx context.Context) error {
		_, err := m.start(ctx)
		return err
	})
}

// RequestStop asks the owner to stop monitoring. It returns NotRunning when
// monitoring was already idle.
func (m *Manager) RequestStop(ctx context.Context) error {
	return m.submit(ctx, func(context.Context) error {
		if !m.monitor.Stop() {
			return apperrors.New(apperrors.NotRunning, "monitoring is not active")
		}
		return nil
	})
}

// SetTarget resolves t and makes it the capture rectangle for the next session.
func (m *Manager) SetTarget(ctx context.Context, t screen.Target) (frame.Region, error) {
	var resolved frame.Region
	err := m.submit(ctx, func(ctx context.Context) error {
		r, err := m.screen.Resolve(t)
		if err != nil {
			return err
		}
		resolved = r
		m.monitor.SetTarget(&r)
		trace.Logger(ctx).Info("capture target set", "target", r.String())
		return nil
	})
	return resolved, err
}

// SetRegion sets the monitored sub-region, relative to the capture target, for
// the next session. nil monitors the whole capture.
func (m *Manager) SetRegion(ctx context.Context, r *frame.Region) error {
	if r != nil && (!r.Valid() || r.Left < 0 || r.Top < 0) {
		return apperrors.Newf(apperrors.InvalidArgument, "region %s must have non-negative origin and positive size", *r)
	}
	return m.submit(ctx, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if r == nil {
			m.region = nil
			return nil
		}
		c := *r
		m.region = &c
		return nil
	})
}

// Displays lists the active display bounds.
func (m *Manager) Displays() []frame.Region { return m.screen.Displays() }

// CloseAlert finalizes an alert episode as closed. uuid.Nil closes the latest.
func (m *Manager) CloseAlert(id uuid.UUID) bool { return m.resume.Close(id) }

// History returns the alert log.
func (m *Manager) History() *history.Store { return m.history }

// Queue returns the remote command queue.
func (m *Manager) Queue() *command.Queue { return m.queue }

// Dispatcher returns the alert dispatcher.
func (m *Manager) Dispatcher() *alert.Dispatcher { return m.dispatcher }

// OnState registers fn to be called after every monitor state transition.
func (m *Manager) OnState(fn func(monitor.State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// ApplySettings updates the alert settings, the change-area gate and the
// presenter gate.
func (m *Manager) ApplySettings(s config.Settings) {
	m.dispatcher.SetSettings(alert.Settings{
		Sound:    s.NotificationSound,
		Telegram: s.TelegramAlerts,
		Cooldown: s.Cooldown(),
	})
	m.monitor.SetMinChangePercent(s.MinChangePercent)
	m.desktop.Store(s.DesktopNotifications)
}

// SetRemote replaces the notification and command channel. nil disables both.
// chatID restricts accepted commands.
func (m *Manager) SetRemote(r Remote, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopPoll != nil {
		m.stopPoll()
		m.stopPoll = nil
	}
	m.remote, m.remoteID = r, chatID
	if r == nil {
		m.dispatcher.SetNotifier(nil)
		return
	}
	m.dispatcher.SetNotifier(r)
	if m.runCtx != nil {
		m.startPollerLocked()
	}
}

func (m *Manager) startPollerLocked() {
	ctx, cancel := context.WithCancel(m.runCtx)
	m.stopPoll = cancel

	cfg := m.cfg.Poller
	cfg.ChatID = m.remoteID
	p := command.NewPoller(m.remote, m.queue, cfg)
	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	go p.Run(ctx)
}

// Status is a point-in-time view for the local surfaces.
type Status struct {
	State           string        `json:"state"`
	SessionID       *uuid.UUID    `json:"session_id,omitempty"`
	Started         *time.Time    `json:"started,omitempty"`
	Ticks           int           `json:"ticks"`
	Failures        int           `json:"failures"`
	Drift           int           `json:"drift"`
	Target          *frame.Region `json:"target,omitempty"`
	Region          *frame.Region `json:"region,omitempty"`
	RemoteEnabled   bool          `json:"telegram_configured"`
	OpenAlerts      []uuid.UUID   `json:"open_alerts"`
	PendingCommands int           `json:"pending_commands"`
}

// Status reports the monitor snapshot and the Manager's own counters.
func (m *Manager) Status() Status {
	snap := m.monitor.Snapshot()
	st := Status{
		State:           snap.State.String(),
		Ticks:           snap.Ticks,
		Failures:        snap.Failures,
		Drift:           snap.Drift,
		Target:          snap.Target,
		Region:          snap.Region,
		OpenAlerts:      m.resume.Open(),
		PendingCommands: m.queue.Len(),
	}
	if snap.SessionID != uuid.Nil {
		id, started := snap.SessionID, snap.Started
		st.SessionID, st.Started = &id, &started
	}
	m.mu.Lock()
	st.RemoteEnabled = m.remote != nil
	if st.Region == nil && m.region != nil {
		r := *m.region
		st.Region = &r
	}
	m.mu.Unlock()
	return st
}

// State returns the monitor state.
func (m *Manager) State() monitor.State { return m.monitor.State() }

// start must run on the owner goroutine. Sessions live on the Run context.
func (m *Manager) start(ctx context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	var region *frame.Region
	if m.region != nil {
		r := *m.region
		region = &r
	}
	sessCtx := m.runCtx
	m.mu.Unlock()
	if sessCtx == nil {
		sessCtx = ctx
	}
	return m.monitor.Start(sessCtx, region)
}

func (m *Manager) onDetection(det monitor.Detection) {
	select {
	case m.detections <- det:
	case <-m.done:
	}
}

func (m *Manager) onState(st monitor.State) {
	m.history.Emit(history.Event{Kind: history.KindState, Payload: st.String()})
	m.mu.Lock()
	ls := append([]func(monitor.State){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range ls {
		fn(st)
	}
}

func (m *Manager) drainCommands(ctx context.Context) {
	msgs := m.queue.Drain()
	if len(msgs) == 0 {
		return
	}
	log := trace.Logger(ctx)
	target := ownerTarget{m: m, ctx: ctx}

	var replies []string
	for _, msg := range msgs {
		cmd := command.Parse(msg.Text)
		reply, ok := command.Execute(cmd, target)
		log.Info("remote command", "update_id", msg.UpdateID, "command", cmd.String(), "recognized", ok)
		if ok {
			replies = append(replies, reply)
		}
	}

	n := m.dispatcher.Notifier()
	if n == nil || len(replies) == 0 {
		return
	}
	go func() {
		for _, r := range replies {
			if err := n.SendText(ctx, r); err != nil {
				log.Warn("command reply failed", "error", err)
			}
		}
	}()
}

// handleDetection hands the detection to an alert episode. The episode's
// decision comes back through m.actions.
func (m *Manager) handleDetection(ctx context.Context, det monitor.Detection) {
	go func() {
		ctx, span := trace.StartSpan(trace.WithSession(ctx, det.SessionID), "alert_episode")
		defer span.End()

		a, err := m.dispatcher.Dispatch(ctx, det)
		if err != nil {
			span.SetAttr("error", err.Error())
		}
		ctx = trace.WithAlert(ctx, a.ID)
		log := trace.Logger(ctx)
		m.history.Add(history.Entry{
			ID:             a.ID,
			SessionID:      a.SessionID,
			At:             a.At,
			Tiles:          a.Tiles,
			ChangedPercent: a.ChangedPercent,
			Notified:       a.Notified,
			NotifyError:    a.NotifyError,
		})

		action, err := m.resume.Run(ctx, a)
		if err != nil {
			log.Debug("alert episode abandoned", "error", err)
			return
		}
		m.history.SetOutcome(a.ID, action.String())
		select {
		case m.actions <- episodeResult{sessionID: det.SessionID, alertID: a.ID, action: action}:
		case <-m.done:
		}
	}()
}

// applyAction acts on a resume decision, unless the session it belongs to has
// been replaced or stopped in the meantime.
func (m *Manager) applyAction(ctx context.Context, res episodeResult) {
	log := trace.Logger(ctx)
	snap := m.monitor.Snapshot()
	if snap.State != monitor.Detected || snap.SessionID != res.sessionID {
		log.Info("ignoring stale resume decision", "alert_id", res.alertID, "action", res.action.String())
		return
	}
	switch res.action {
	case resume.ActionRestart:
		if _, err := m.start(ctx); err != nil {
			log.Error("restart after alert failed", "error", err)
			m.monitor.Stop()
		}
	case resume.ActionStop:
		m.monitor.Stop()
	}
}

// ownerTarget adapts the Manager for command execution on the owner goroutine.
type ownerTarget struct {
	m   *Manager
	ctx context.Context
}

func (t ownerTarget) State() monitor.State { return t.m.monitor.State() }

func (t ownerTarget) Start() error {
	_, err := t.m.start(t.ctx)
	return err
}

func (t ownerTarget) Stop() bool { return t.m.monitor.Stop() }

// gatedPresenter drops presentation calls while desktop notifications are off.
// Decisions still arrive through Close and the timeout.
type gatedPresenter struct {
	inner   resume.Presenter
	enabled *atomic.Bool
}

func (g *gatedPresenter) Present(a alert.Alert, seconds int) {
	if g.inner != nil && g.enabled.Load() {
		g.inner.Present(a, seconds)
	}
}

func (g *gatedPresenter) Countdown(id uuid.UUID, seconds int) {
	if g.inner != nil && g.enabled.Load() {
		g.inner.Countdown(id, seconds)
	}
}

func (g *gatedPresenter) Dismiss(id uuid.UUID, outcome resume.Outcome) {
	if g.inner != nil && g.enabled.Load() {
		g.inner.Dismiss(id, outcome)
	}
}
