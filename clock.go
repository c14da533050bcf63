package overdrive

import (
	"sync"
	"time"
)

// Clock measures frame time. It is ticked once per presented frame.
type Clock struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
	last  time.Time
	delta time.Duration
	frame uint64
}

func NewClock() *Clock {
	return newClockAt(time.Now)
}

func newClockAt(now func() time.Time) *Clock {
	t := now()
	return &Clock{now: now, start: t, last: t}
}

// Tick advances to the next frame and returns the time since the previous
// tick.
func (c *Clock) Tick() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now()
	c.delta = t.Sub(c.last)
	c.last = t
	c.frame++
	return c.delta
}

// Frame returns the number of ticks so far.
func (c *Clock) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Delta returns the duration of the last frame.
func (c *Clock) Delta() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delta
}

// Elapsed returns the time since the clock was created or reset.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.start)
}

// FPS returns the frame rate implied by the last delta.
func (c *Clock) FPS() float64 {
	d := c.Delta()
	if d <= 0 {
		return 0
	}
	return float64(time.Second) / float64(d)
}

func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	c.start, c.last = t, t
	c.delta = 0
	c.frame = 0
}
