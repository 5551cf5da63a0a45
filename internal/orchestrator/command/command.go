// Package command carries remote text commands from the poller to the owner
// of monitoring state.
package command

import (
	"strings"

	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/monitor"
)

// Command is a parsed remote command.
type Command int

const (
	Unrecognized Command = iota
	StartMonitoring
	StopMonitoring
	Status
	Help
)

func (c Command) String() string {
	return [...]string{"unrecognized", "start", "stop", "status", "help"}[c]
}

// Replies sent back to the remote chat.
const (
	ReplyStarted        = "Monitoring started"
	ReplyAlreadyActive  = "Monitoring is already active"
	ReplyStopped        = "Monitoring stopped"
	ReplyNotActive      = "Monitoring is not active"
	ReplyStatusRunning  = "Monitoring is currently active"
	ReplyStatusIdle     = "Monitoring is currently stopped"
	ReplyStatusDetected = "Change detected, awaiting review"
	ReplyStartFailed    = "Failed to start monitoring: "

	HelpText = "Available commands:\n" +
		"/start - Start monitoring\n" +
		"/stop - Stop monitoring\n" +
		"/status - Show monitoring status\n" +
		"/help - Show this message"
)

// Parse maps text to a command. The leading slash is optional and a trailing
// @botname is ignored.
func Parse(text string) Command {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return Unrecognized
	}
	word := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	switch word {
	case "start":
		return StartMonitoring
	case "stop":
		return StopMonitoring
	case "status":
		return Status
	case "help":
		return Help
	default:
		return Unrecognized
	}
}

// Target is the owner-side view of monitoring state.
type Target interface {
	State() monitor.State
	Start() error
	Stop() bool
}

// Execute applies cmd to t and returns the reply. ok is false for
// unrecognized commands, which get no reply.
func Execute(cmd Command, t Target) (reply string, ok bool) {
	switch cmd {
	case StartMonitoring:
		if t.State() == monitor.Running {
			return ReplyAlreadyActive, true
		}
		if err := t.Start(); err != nil {
			return ReplyStartFailed + err.Error(), true
		}
		return ReplyStarted, true
	case StopMonitoring:
		if t.State() == monitor.Idle {
			return ReplyNotActive, true
		}
		t.Stop()
		return ReplyStopped, true
	case Status:
		switch t.State() {
		case monitor.Running:
			return ReplyStatusRunning, true
		case monitor.Detected:
			return ReplyStatusDetected, true
		default:
			return ReplyStatusIdle, true
		}
	case Help:
		return HelpText, true
	default:
		return "", false
	}
}
