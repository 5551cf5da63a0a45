package command

import "log/slog"

// DefaultQueueSize bounds pending commands between drains.
const DefaultQueueSize = 64

// Message is one inbound text, lower-cased and trimmed.
type Message struct {
	UpdateID int64
	ChatID   int64
	Text     string
}

// Queue hands messages from the poller to the owner.
type Queue struct {
	ch chan Message
}

// NewQueue creates a queue holding at most size messages.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, size)}
}

// Enqueue adds m without blocking and reports whether it was accepted.
func (q *Queue) Enqueue(m Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
		slog.Warn("command queue full, dropping message", "update_id", m.UpdateID, "text", m.Text)
		return false
	}
}

// Drain returns every pending message in arrival order.
func (q *Queue) Drain() []Message {
	var out []Message
	for {
		select {
		case m := <-q.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

// Len returns the number of pending messages.
func (q *Queue) Len() int { return len(q.ch) }
