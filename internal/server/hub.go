package server

import (
	"context"
	"encoding/base64"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/alert"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/history"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/resume"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// Outbound message types.
type AlertMessage struct {
	Type           string    `json:"type"`
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	At             time.Time `json:"at"`
	Tiles          int       `json:"tiles"`
	ChangedPercent float64   `json:"changed_percent"`
	Notified       bool      `json:"notified"`
	Countdown      int       `json:"countdown"`
	Image          string    `json:"image"` // base64 PNG
}

type CountdownMessage struct {
	Type    string    `json:"type"`
	ID      uuid.UUID `json:"id"`
	Seconds int       `json:"seconds"`
}

type DismissedMessage struct {
	Type    string    `json:"type"`
	ID      uuid.UUID `json:"id"`
	Outcome string    `json:"outcome"`
}

type PromptMessage struct {
	Type     string    `json:"type"`
	ID       uuid.UUID `json:"id"`
	Question string    `json:"question"`
}

type EventMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one websocket connection. Every outbound message goes through
// out and is written by a single goroutine, so clients see messages in the
// order they were sent.
type client struct {
	conn    *websocket.Conn
	remote  string
	limiter *rateLimiter
	out     chan any
}

// send queues msg without blocking. A client that falls ClientBuffer
// messages behind loses messages rather than stalling the hub.
func (c *client) send(msg any) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// Hub fans alert presentation out to websocket clients and collects restart
// answers. It implements resume.Presenter and resume.Prompter.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]*client

	pmu     sync.Mutex
	pending map[uuid.UUID]chan bool
	order   []uuid.UUID // pending ids, oldest first

	promptTimeout time.Duration
}

// NewHub creates a hub. promptTimeout <= 0 uses DefaultPromptTimeout.
func NewHub(promptTimeout time.Duration) *Hub {
	if promptTimeout <= 0 {
		promptTimeout = DefaultPromptTimeout
	}
	return &Hub{
		conns:         make(map[*websocket.Conn]*client),
		pending:       make(map[uuid.UUID]chan bool),
		promptTimeout: promptTimeout,
	}
}

func (h *Hub) add(conn *websocket.Conn, remote string) *client {
	c := &client{conn: conn, remote: remote, limiter: &rateLimiter{}, out: make(chan any, ClientBuffer)}
	h.mu.Lock()
	h.conns[conn] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) broadcast(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if !c.send(msg) {
			slog.Warn("websocket client lagging, message dropped", "remote", c.remote)
		}
	}
}

// Run forwards history events to clients until ctx is done.
func (h *Hub) Run(ctx context.Context, events <-chan history.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			h.broadcast(EventMessage{Type: ev.Kind, Payload: ev.Payload})
		}
	}
}

// Present shows a new alert with its countdown.
func (h *Hub) Present(a alert.Alert, seconds int) {
	msg := AlertMessage{
		Type:           "alert",
		ID:             a.ID,
		SessionID:      a.SessionID,
		At:             a.At,
		Tiles:          a.Tiles,
		ChangedPercent: a.ChangedPercent,
		Notified:       a.Notified,
		Countdown:      seconds,
	}
	if a.Image != nil {
		data, err := a.Image.PNG()
		if err != nil {
			trace.Logger(context.Background()).Warn("encode alert image", "alert_id", a.ID, "error", err)
		} else {
			msg.Image = base64.StdEncoding.EncodeToString(data)
		}
	}
	h.broadcast(msg)
}

func (h *Hub) Countdown(id uuid.UUID, seconds int) {
	h.broadcast(CountdownMessage{Type: "countdown", ID: id, Seconds: seconds})
}

func (h *Hub) Dismiss(id uuid.UUID, outcome resume.Outcome) {
	h.broadcast(DismissedMessage{Type: "dismissed", ID: id, Outcome: outcome.String()})
}

// Confirm broadcasts question and waits for Answer. Without an answer within
// the prompt timeout it declines.
func (h *Hub) Confirm(ctx context.Context, id uuid.UUID, question string) (bool, error) {
	ch := make(chan bool, 1)
	h.pmu.Lock()
	h.pending[id] = ch
	h.order = append(h.order, id)
	h.pmu.Unlock()
	defer func() {
		h.pmu.Lock()
		h.forget(id)
		h.pmu.Unlock()
	}()

	h.broadcast(PromptMessage{Type: "prompt", ID: id, Question: question})

	timer := time.NewTimer(h.promptTimeout)
	defer timer.Stop()
	select {
	case yes := <-ch:
		return yes, nil
	case <-timer.C:
		trace.Logger(ctx).Info("restart question unanswered, declining", "alert_id", id)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Answer resolves the pending question for id. uuid.Nil answers the most
// recent question still pending. It reports false when no question is pending.
func (h *Hub) Answer(id uuid.UUID, yes bool) bool {
	h.pmu.Lock()
	defer h.pmu.Unlock()
	if id == uuid.Nil && len(h.order) > 0 {
		id = h.order[len(h.order)-1]
	}
	ch, ok := h.pending[id]
	if !ok {
		return false
	}
	h.forget(id)
	ch <- yes
	return true
}

// forget drops id from the pending set. pmu must be held.
func (h *Hub) forget(id uuid.UUID) {
	delete(h.pending, id)
	h.order = slices.DeleteFunc(h.order, func(o uuid.UUID) bool { return o == id })
}
