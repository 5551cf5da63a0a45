package command

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/resilience"
	"github.com/GriffinCanCode/screenwatch/internal/telegram"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// Source long-polls for updates after offset-1.
type Source interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// PollerConfig tunes the poller.
type PollerConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
	// ChatID restricts accepted updates to one chat. Empty accepts all.
	ChatID string
}

// DefaultPollerConfig returns a 30 second long poll with a 5 second retry delay.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Timeout: 30 * time.Second, RetryDelay: 5 * time.Second}
}

// Poller receives remote commands and enqueues them. It never touches
// monitoring state.
type Poller struct {
	src     Source
	queue   *Queue
	cfg     PollerConfig
	breaker *resilience.Breaker

	cursor  atomic.Int64
	stopped atomic.Bool
}

// NewPoller creates a poller feeding queue.
func NewPoller(src Source, queue *Queue, cfg PollerConfig) *Poller {
	d := DefaultPollerConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = d.RetryDelay
	}
	p := &Poller{src: src, queue: queue, cfg: cfg}
	p.breaker = resilience.New(resilience.PollConfig()).WithHook(p.breakerMoved)
	return p
}

func (p *Poller) breakerMoved(from, to resilience.State) {
	switch to {
	case resilience.Open:
		slog.Warn("remote commands paused, bot api unreachable", "retry_in", p.breaker.RetryIn(), "cursor", p.cursor.Load())
	case resilience.HalfOpen:
		slog.Info("probing bot api", "cursor", p.cursor.Load())
	case resilience.Closed:
		slog.Info("remote commands resumed", "was", from.String())
	}
}

// Run polls until ctx is done or Stop is called. Stop is observed between
// polls, so exit can lag by up to one poll timeout.
func (p *Poller) Run(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "command_poller")
	defer span.End()
	log := trace.Logger(ctx)
	log.Info("command poller started", "timeout", p.cfg.Timeout)

	for !p.stopped.Load() && ctx.Err() == nil {
		err := p.pollOnce(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		delay := p.cfg.RetryDelay
		if errors.Is(err, resilience.ErrOpen) {
			delay = max(delay, p.breaker.RetryIn())
		}
		log.Warn("command poll failed", "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	log.Info("command poller stopped", "cursor", p.cursor.Load())
}

// Stop asks Run to return after the current poll.
func (p *Poller) Stop() { p.stopped.Store(true) }

// Cursor returns the highest update id seen.
func (p *Poller) Cursor() int64 { return p.cursor.Load() }

func (p *Poller) pollOnce(ctx context.Context) error {
	offset := p.cursor.Load() + 1
	updates, err := resilience.ExecuteWithResult(p.breaker, func() ([]telegram.Update, error) {
		return p.src.GetUpdates(ctx, offset, p.cfg.Timeout)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return err
		}
		return apperrors.Wrap(err, apperrors.RemotePoll, "get updates")
	}

	for _, u := range updates {
		if u.ID <= p.cursor.Load() {
			continue
		}
		p.cursor.Store(u.ID)

		if p.cfg.ChatID != "" && strconv.FormatInt(u.ChatID, 10) != p.cfg.ChatID {
			trace.Logger(ctx).Debug("ignoring update from foreign chat", "chat_id", u.ChatID)
			continue
		}
		text := strings.ToLower(strings.TrimSpace(u.Text))
		if text == "" {
			continue
		}
		p.queue.Enqueue(Message{UpdateID: u.ID, ChatID: u.ChatID, Text: text})
	}
	return nil
}
