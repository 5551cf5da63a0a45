// Package server provides the local HTTP API and the WebSocket alert surface.
package server

import "time"

// Server configuration constants
const (
	// Per-connection inbound message limit
	RateLimitMessages = 30          // Max messages per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Outbound websocket write deadline and per-client queue
	WriteTimeout = 5 * time.Second
	ClientBuffer = 32

	// How long a restart question waits for an answer before declining
	DefaultPromptTimeout = 2 * time.Minute

	// Default and maximum number of alerts returned by /api/alerts
	DefaultAlertsLimit = 20
	MaxAlertsLimit     = 200

	// Request body limit for JSON endpoints
	MaxBodyBytes = 1 << 16
)
