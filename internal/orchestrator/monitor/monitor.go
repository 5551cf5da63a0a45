// Package monitor runs the capture, diff and decide loop for one screen target.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
	"github.com/GriffinCanCode/screenwatch/internal/screen"
	"github.com/GriffinCanCode/screenwatch/internal/tilediff"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// State is the monitoring state.
type State int32

const (
	Idle State = iota
	Running
	Detected
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Detected:
		return "detected"
	default:
		return "idle"
	}
}

// Config tunes the loop.
type Config struct {
	Interval             time.Duration
	TileSize             int
	Threshold            float64 // zero flags any pixel change
	FailureWarnThreshold int
	// MinChangePercent additionally requires exceeding tiles to cover at least
	// this share of the monitored area. Zero alerts on any exceeding tile.
	MinChangePercent float64
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		Interval:             DefaultInterval,
		TileSize:             tilediff.DefaultTileSize,
		Threshold:            tilediff.DefaultThreshold,
		FailureWarnThreshold: DefaultFailureWarnThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.TileSize <= 0 {
		c.TileSize = d.TileSize
	}
	if c.Threshold < 0 {
		slog.Warn("negative change threshold, using default", "threshold", c.Threshold, "default", d.Threshold)
		c.Threshold = d.Threshold
	}
	if c.FailureWarnThreshold <= 0 {
		c.FailureWarnThreshold = d.FailureWarnThreshold
	}
	return c
}

// Detection describes the change that ended a session.
type Detection struct {
	SessionID uuid.UUID
	At        time.Time
	// Full is the whole captured frame; Overlay covers only Region when one
	// was monitored.
	Full           *frame.Frame
	Overlay        *frame.Frame
	Region         *frame.Region
	Tiles          []tilediff.Tile
	ChangedPercent float64
}

// Handler receives detections on the session goroutine.
type Handler func(Detection)

type session struct {
	id      uuid.UUID
	target  frame.Region
	region  *frame.Region
	started time.Time
	cancel  context.CancelFunc

	originHash *goimagehash.ImageHash
	baseline   *frame.Frame
	failures   int
	ticks      int
	alerted    bool
}

// Monitor owns the monitoring state machine. Start and Stop are expected to be
// called from a single owner; the lock covers the loop's own transitions.
type Monitor struct {
	capturer screen.Capturer
	cfg      Config
	onDetect Handler
	onState  func(State)

	mu     sync.Mutex
	state  State
	sess   *session
	target *frame.Region
}

// New creates an idle monitor.
func New(capturer screen.Capturer, cfg Config, onDetect Handler) *Monitor {
	return &Monitor{
		capturer: capturer,
		cfg:      cfg.withDefaults(),
		onDetect: onDetect,
	}
}

// WithStateHook sets a callback invoked after every state transition.
func (m *Monitor) WithStateHook(fn func(State)) *Monitor {
	m.onState = fn
	return m
}

// SetTarget sets the screen rectangle to capture. nil clears it.
func (m *Monitor) SetTarget(r *frame.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == nil {
		m.target = nil
		return
	}
	t := *r
	m.target = &t
}

// SetMinChangePercent updates the area gate for sessions started afterwards.
func (m *Monitor) SetMinChangePercent(p float64) {
	m.mu.Lock()
	m.cfg.MinChangePercent = p
	m.mu.Unlock()
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start captures a baseline and begins a new session. region, when set, is
// relative to the capture target. ctx bounds the session's lifetime.
func (m *Monitor) Start(ctx context.Context, region *frame.Region) (uuid.UUID, error) {
	m.mu.Lock()
	if m.state == Running {
		m.mu.Unlock()
		return uuid.Nil, apperrors.New(apperrors.AlreadyRunning, "monitoring is already active")
	}
	if m.target == nil {
		m.mu.Unlock()
		return uuid.Nil, apperrors.New(apperrors.NoTarget, "no capture target configured")
	}
	target, cfg := *m.target, m.cfg
	m.mu.Unlock()

	full, err := m.capturer.Capture(ctx, target)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(err, apperrors.Capture, "baseline capture failed")
	}

	var crop *frame.Region
	baseline := full
	if region != nil {
		c, ok := region.Clamp(full.Bounds())
		if !ok {
			return uuid.Nil, apperrors.Newf(apperrors.NoTarget, "region %s is outside the %dx%d capture", *region, full.Width(), full.Height())
		}
		crop = &c
		if baseline, err = full.Crop(c); err != nil {
			return uuid.Nil, err
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:       uuid.New(),
		target:   target,
		region:   crop,
		started:  time.Now(),
		cancel:   cancel,
		baseline: baseline,
	}
	if h, err := goimagehash.PerceptionHash(baseline.Image()); err == nil {
		s.originHash = h
	}

	m.mu.Lock()
	if m.state == Running {
		m.mu.Unlock()
		cancel()
		return uuid.Nil, apperrors.New(apperrors.AlreadyRunning, "monitoring is already active")
	}
	if m.sess != nil {
		m.sess.cancel()
	}
	m.sess = s
	m.state = Running
	m.mu.Unlock()

	sctx, span := trace.StartSpan(trace.WithSession(sctx, s.id), "monitor_session")
	trace.Logger(sctx).Info("monitoring started", "target", target.String(), "region", crop, "interval", cfg.Interval)
	m.notify(Running)

	go m.run(sctx, s, cfg, span)
	return s.id, nil
}

// Stop ends the current session from any state and reports whether there was one.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	s := m.sess
	prev := m.state
	m.sess = nil
	m.state = Idle
	m.mu.Unlock()

	if s != nil {
		s.cancel()
	}
	if prev != Idle {
		trace.Logger(context.Background()).Info("monitoring stopped", "previous", prev.String())
		m.notify(Idle)
	}
	return s != nil
}

func (m *Monitor) run(ctx context.Context, s *session, cfg Config, span *trace.Span) {
	defer span.End()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.tick(ctx, s, cfg) {
				return
			}
		}
	}
}

// tick runs one iteration and reports whether the loop should continue.
func (m *Monitor) tick(ctx context.Context, s *session, cfg Config) bool {
	log := trace.Logger(ctx)
	if !m.isActive(s) {
		return false
	}

	full, err := m.capturer.Capture(ctx, s.target)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		n := m.recordFailure(s)
		if n%cfg.FailureWarnThreshold == 0 {
			log.Error("capture keeps failing", "consecutive", n, "error", err)
		} else {
			log.Warn("capture failed", "consecutive", n, "error", err)
		}
		return true
	}

	current := full
	if s.region != nil {
		if current, err = full.Crop(*s.region); err != nil {
			log.Error("monitored region no longer fits the capture", "error", err)
			m.end(s)
			return false
		}
	}

	m.mu.Lock()
	if m.sess != s || m.state != Running {
		m.mu.Unlock()
		return false
	}
	s.failures = 0
	s.ticks++
	if s.alerted {
		m.mu.Unlock()
		return true
	}
	baseline := s.baseline
	m.mu.Unlock()

	if current.SameSize(baseline) && current.Digest() == baseline.Digest() {
		m.advance(s, current)
		return true
	}

	res, err := tilediff.Compare(baseline, current, cfg.TileSize, cfg.Threshold)
	if err != nil {
		log.Error("frame comparison failed, stopping session", "error", err)
		m.end(s)
		return false
	}

	pct := res.ChangedPercent()
	if !res.AnyExceedsThreshold || pct < cfg.MinChangePercent {
		if res.AnyExceedsThreshold {
			log.Debug("change below area gate", "changed_percent", pct, "min", cfg.MinChangePercent)
		}
		m.advance(s, current)
		return true
	}

	m.mu.Lock()
	if m.sess != s || m.state != Running || s.alerted {
		m.mu.Unlock()
		return false
	}
	s.alerted = true
	m.state = Detected
	m.mu.Unlock()

	tiles := res.Exceeding()
	log.Info("change detected", "tiles", len(tiles), "changed_percent", pct)
	m.notify(Detected)

	if m.onDetect != nil {
		m.onDetect(Detection{
			SessionID:      s.id,
			At:             time.Now(),
			Full:           full,
			Overlay:        res.Overlay,
			Region:         s.region,
			Tiles:          tiles,
			ChangedPercent: pct,
		})
	}
	return false
}

func (m *Monitor) isActive(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess == s && m.state == Running
}

func (m *Monitor) recordFailure(s *session) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.failures++
	return s.failures
}

// advance replaces the baseline with the latest accepted frame.
func (m *Monitor) advance(s *session, f *frame.Frame) {
	m.mu.Lock()
	if m.sess == s {
		s.baseline = f
	}
	m.mu.Unlock()
}

// end tears down s if it is still the active session.
func (m *Monitor) end(s *session) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.state = Idle
	m.mu.Unlock()
	s.cancel()
	m.notify(Idle)
}

func (m *Monitor) notify(st State) {
	if m.onState != nil {
		m.onState(st)
	}
}
