package monitor

import (
	"time"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	State     State
	SessionID uuid.UUID
	Started   time.Time
	Ticks     int
	Failures  int
	Target    *frame.Region
	Region    *frame.Region
	Baseline  *frame.Frame
	// Drift is the perceptual hash distance between the first and the current
	// baseline, or -1 when unknown. Large values mean the screen has moved a
	// long way from where monitoring began without any single tick alerting.
	Drift int
}

// Snapshot returns the current state and session counters.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{State: m.state, Drift: -1}
	if m.target != nil {
		t := *m.target
		snap.Target = &t
	}
	s := m.sess
	var origin *goimagehash.ImageHash
	if s != nil {
		snap.SessionID = s.id
		snap.Started = s.started
		snap.Ticks = s.ticks
		snap.Failures = s.failures
		snap.Region = s.region
		snap.Baseline = s.baseline
		origin = s.originHash
	}
	m.mu.Unlock()

	if origin != nil && snap.Baseline != nil {
		snap.Drift = drift(origin, snap.Baseline)
	}
	return snap
}

func drift(origin *goimagehash.ImageHash, f *frame.Frame) int {
	h, err := goimagehash.PerceptionHash(f.Image())
	if err != nil {
		return -1
	}
	d, err := origin.Distance(h)
	if err != nil {
		return -1
	}
	return d
}
