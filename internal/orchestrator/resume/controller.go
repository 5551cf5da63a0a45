// Package resume decides what happens after an alert: the user closes the
// presentation and is asked whether to restart, or the countdown runs out and
// monitoring resumes on its own.
package resume

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/alert"
	"github.com/GriffinCanCode/screenwatch/internal/syncx"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// RestartQuestion is asked after the user closes an alert.
const RestartQuestion = "Would you like to restart monitoring?"

// Outcome is how an episode finished.
type Outcome int

const (
	Closed Outcome = iota + 1
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Closed:
		return "closed"
	case Timeout:
		return "timeout"
	default:
		return "pending"
	}
}

// Action is what the owner should do with monitoring.
type Action int

const (
	ActionNone Action = iota
	ActionRestart
	ActionStop
)

func (a Action) String() string {
	return [...]string{"none", "restart", "stop"}[a]
}

// Presenter shows an alert and its countdown.
type Presenter interface {
	Present(a alert.Alert, seconds int)
	Countdown(id uuid.UUID, seconds int)
	Dismiss(id uuid.UUID, outcome Outcome)
}

// Prompter asks the user a yes/no question about an episode.
type Prompter interface {
	Confirm(ctx context.Context, id uuid.UUID, question string) (bool, error)
}

// Config sets the countdown length and its step.
type Config struct {
	Countdown int
	Tick      time.Duration
}

// DefaultConfig returns a 20 second countdown.
func DefaultConfig() Config {
	return Config{Countdown: 20, Tick: time.Second}
}

// Controller runs alert episodes.
type Controller struct {
	cfg       Config
	presenter Presenter
	prompter  Prompter

	mu       sync.Mutex
	episodes map[uuid.UUID]*syncx.Once[Outcome]
	order    []uuid.UUID // open episodes, oldest first
}

// New creates a controller.
func New(cfg Config, presenter Presenter, prompter Prompter) *Controller {
	d := DefaultConfig()
	if cfg.Countdown <= 0 {
		cfg.Countdown = d.Countdown
	}
	if cfg.Tick <= 0 {
		cfg.Tick = d.Tick
	}
	return &Controller{
		cfg:       cfg,
		presenter: presenter,
		prompter:  prompter,
		episodes:  make(map[uuid.UUID]*syncx.Once[Outcome]),
	}
}

// Run presents a and blocks until the episode is decided.
func (c *Controller) Run(ctx context.Context, a alert.Alert) (Action, error) {
	ctx, span := trace.StartSpan(trace.WithAlert(ctx, a.ID), "resume_episode")
	defer span.End()
	log := trace.Logger(ctx)

	decision := c.open(a.ID)
	defer c.close(a.ID)

	c.presenter.Present(a, c.cfg.Countdown)
	outcome, err := c.wait(ctx, a.ID, decision)
	if err != nil {
		return ActionNone, err
	}
	c.presenter.Dismiss(a.ID, outcome)
	span.SetAttr("outcome", outcome.String())
	log.Info("alert episode finished", "outcome", outcome.String())

	if outcome == Timeout {
		return ActionRestart, nil
	}
	restart, err := c.prompter.Confirm(ctx, a.ID, RestartQuestion)
	if err != nil {
		return ActionNone, err
	}
	if restart {
		return ActionRestart, nil
	}
	return ActionStop, nil
}

func (c *Controller) wait(ctx context.Context, id uuid.UUID, decision *syncx.Once[Outcome]) (Outcome, error) {
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	remaining := c.cfg.Countdown
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-decision.Done():
			o, _ := decision.Value()
			return o, nil
		case <-ticker.C:
			remaining--
			if remaining <= 0 {
				decision.Set(Timeout)
				continue
			}
			c.presenter.Countdown(id, remaining)
		}
	}
}

// Close finalizes episode id as closed by the user. uuid.Nil targets the most
// recent episode still open. It reports false when the episode was already
// decided or is unknown.
func (c *Controller) Close(id uuid.UUID) bool {
	c.mu.Lock()
	if id == uuid.Nil && len(c.order) > 0 {
		id = c.order[len(c.order)-1]
	}
	d, ok := c.episodes[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return d.Set(Closed)
}

// Open returns the ids of episodes still waiting for a decision.
func (c *Controller) Open() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.episodes))
	for id, d := range c.episodes {
		if _, decided := d.Value(); !decided {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Controller) open(id uuid.UUID) *syncx.Once[Outcome] {
	d := &syncx.Once[Outcome]{}
	c.mu.Lock()
	c.episodes[id] = d
	c.order = append(c.order, id)
	c.mu.Unlock()
	return d
}

func (c *Controller) close(id uuid.UUID) {
	c.mu.Lock()
	delete(c.episodes, id)
	c.order = slices.DeleteFunc(c.order, func(o uuid.UUID) bool { return o == id })
	c.mu.Unlock()
}
