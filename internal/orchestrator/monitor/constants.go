package monitor

import "time"

// Monitor defaults
const (
	DefaultInterval = time.Second

	// Consecutive capture failures between error-level log lines. Failures
	// never end a session.
	DefaultFailureWarnThreshold = 5
)
