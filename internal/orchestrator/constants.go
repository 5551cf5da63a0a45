// Package orchestrator owns monitoring state and connects detection, alerting,
// resume decisions and remote commands.
package orchestrator

import "time"

// Manager configuration constants
const (
	// Owner loop cadence for draining remote commands
	DefaultDrainInterval = time.Second

	// Channel buffer sizes
	DetectionBuffer = 4
	ActionBuffer    = 4

	// Alert history
	HistoryMaxEntries  = 50
	HistoryEventBuffer = 100
)
