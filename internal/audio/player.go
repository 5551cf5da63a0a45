// Package audio plays the alert tone through the default output device.
package audio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	DefaultSampleRate = 44100
	framesPerBuffer   = 1024 // ~23ms at 44100Hz
	fadeDuration      = 5 * time.Millisecond
)

// Tone is one sine pulse followed by silence.
type Tone struct {
	Frequency float64
	Duration  time.Duration
	Gap       time.Duration
	Volume    float64 // 0..1
}

// DefaultPattern is a short rising double beep.
var DefaultPattern = []Tone{
	{Frequency: 880, Duration: 150 * time.Millisecond, Gap: 80 * time.Millisecond, Volume: 0.4},
	{Frequency: 1320, Duration: 200 * time.Millisecond, Volume: 0.4},
}

// Player synthesizes and plays a tone pattern. Calls to Play are serialized.
type Player struct {
	mu         sync.Mutex
	sampleRate int
	pattern    []Tone
}

// NewPlayer initializes PortAudio. Close releases it.
func NewPlayer(pattern []Tone) (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	if len(pattern) == 0 {
		pattern = DefaultPattern
	}
	return &Player{sampleRate: DefaultSampleRate, pattern: pattern}, nil
}

// Play blocks until the pattern has been written or ctx is done.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := Synthesize(p.pattern, p.sampleRate)
	buf := make([]float32, framesPerBuffer)

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), len(buf), &buf)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return err
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			slog.Debug("stop output stream", "error", err)
		}
	}()

	for off := 0; off < len(samples); off += len(buf) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates PortAudio.
func (p *Player) Close() error {
	return portaudio.Terminate()
}

// Synthesize renders pattern as mono float32 samples. Each pulse gets a short
// linear fade at both ends to avoid clicks.
func Synthesize(pattern []Tone, sampleRate int) []float32 {
	var total int
	for _, t := range pattern {
		total += samplesFor(t.Duration, sampleRate) + samplesFor(t.Gap, sampleRate)
	}
	out := make([]float32, 0, total)

	fade := samplesFor(fadeDuration, sampleRate)
	for _, t := range pattern {
		n := samplesFor(t.Duration, sampleRate)
		vol := math.Max(0, math.Min(1, t.Volume))
		step := 2 * math.Pi * t.Frequency / float64(sampleRate)
		for i := 0; i < n; i++ {
			env := 1.0
			if fade > 0 {
				env = math.Min(1, math.Min(float64(i)/float64(fade), float64(n-1-i)/float64(fade)))
			}
			out = append(out, float32(vol*env*math.Sin(step*float64(i))))
		}
		out = append(out, make([]float32, samplesFor(t.Gap, sampleRate))...)
	}
	return out
}

func samplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
