package resilience

import "time"

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// A dead Bot API should not be hammered every poll retry delay.
	PollThreshold         = 3
	PollResetTimeout      = 60 * time.Second
	PollHalfOpenSuccesses = 1
)

// Config holds breaker limits. Zero fields take the Default values.
type Config struct {
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // open period before calls pass again
	HalfOpenSuccesses int           // probation successes needed to close
}

// PollConfig returns the limits for the remote command long poll.
func PollConfig() Config {
	return Config{
		Threshold:         PollThreshold,
		ResetTimeout:      PollResetTimeout,
		HalfOpenSuccesses: PollHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
