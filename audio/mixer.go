// Package audio plays short synthesized tones requested over the engine bus.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"

	"github.com/overdrive-engine/overdrive"
	"github.com/overdrive-engine/overdrive/core"
)

// OnPlayTone asks the mixer to play a sine tone.
type OnPlayTone struct {
	Frequency float64
	Duration  time.Duration
}

// Mixer is a system mixing tones into a single beep stream. When enabled the
// stream is played on the default output device; otherwise it is only
// available through Stream.
type Mixer struct {
	*overdrive.BaseSystem

	rate    beep.SampleRate
	enabled bool

	mu      sync.Mutex
	mixer   *beep.Mixer
	volume  float64
	playing bool
	sub     core.Subscription
}

// NewMixer returns a mixer at sampleRate. volume is relative and in powers
// of two: -1 halves the amplitude, 1 doubles it.
func NewMixer(enabled bool, sampleRate int, volume float64) *Mixer {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &Mixer{
		BaseSystem: overdrive.NewBaseSystem("audio"),
		rate:       beep.SampleRate(sampleRate),
		enabled:    enabled,
		mixer:      &beep.Mixer{},
		volume:     volume,
	}
}

// Initialize opens the speaker when enabled and subscribes to OnPlayTone.
// A speaker that cannot be opened is logged and the mixer stays silent.
func (m *Mixer) Initialize(ctx context.Context) error {
	if m.enabled {
		if err := speaker.Init(m.rate, m.rate.N(100*time.Millisecond)); err != nil {
			m.Log().Warn("audio disabled", core.F("error", err))
		} else {
			speaker.Play(m.mixer)
			m.mu.Lock()
			m.playing = true
			m.mu.Unlock()
		}
	}

	if bus := m.Bus(); bus != nil {
		m.sub = core.Subscribe(bus, func(t OnPlayTone) {
			if err := m.Play(t); err != nil {
				m.Log().Warn("tone dropped", core.F("frequency", t.Frequency), core.F("error", err))
			}
		})
	}
	return nil
}

// Update does nothing; the mixer reacts to messages only.
func (m *Mixer) Update(ctx context.Context) {}

// Play adds a tone to the mix.
func (m *Mixer) Play(t OnPlayTone) error {
	if t.Duration <= 0 {
		return nil
	}
	tone, err := generators.SineTone(m.rate, t.Frequency)
	if err != nil {
		return fmt.Errorf("sine tone: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	streamer := &effects.Volume{
		Streamer: beep.Take(m.rate.N(t.Duration), tone),
		Base:     2,
		Volume:   m.volume,
	}
	m.locked(func() { m.mixer.Add(streamer) })
	return nil
}

// SetVolume changes the volume of tones played from now on.
func (m *Mixer) SetVolume(volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = volume
}

// Pending returns the number of tones still being mixed.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	m.locked(func() { n = m.mixer.Len() })
	return n
}

// Stream reads mixed samples. It must not be used while the speaker is
// playing.
func (m *Mixer) Stream(samples [][2]float64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mixer.Stream(samples)
}

// locked runs fn holding the speaker lock when the speaker is playing the
// mixer. m.mu must be held.
func (m *Mixer) locked(fn func()) {
	if m.playing {
		speaker.Lock()
		defer speaker.Unlock()
	}
	fn()
}

// Shutdown drops pending tones and closes the speaker.
func (m *Mixer) Shutdown(ctx context.Context) error {
	if bus := m.Bus(); bus != nil && m.sub.Valid() {
		bus.Unsubscribe(m.sub)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked(m.mixer.Clear)
	if m.playing {
		speaker.Close()
		m.playing = false
	}
	return nil
}
