// Package video presents frames on a terminal through tcell.
package video

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/overdrive-engine/overdrive"
	"github.com/overdrive-engine/overdrive/core"
	"github.com/overdrive-engine/overdrive/input"
)

// OnRender is broadcast on the frame loop once per frame, between clearing
// the screen and showing it. Handlers draw with Screen.SetContent.
type OnRender struct {
	Screen        tcell.Screen
	Frame         uint64
	Delta         time.Duration
	Width, Height int
}

// Display is the system owning the terminal screen. Its Update is a
// repeating main-queue task that paces frames, ticks the engine clock and
// broadcasts OnRender.
type Display struct {
	*overdrive.BaseSystem

	screen   tcell.Screen
	interval atomic.Int64
	resize   core.Subscription
	open     atomic.Bool

	// Touched only by frame tasks.
	next time.Time
}

// NewDisplay returns a display for screen, which must not be initialized
// yet. A frameRate of zero or less presents frames as fast as the frame loop
// runs.
func NewDisplay(screen tcell.Screen, frameRate int) *Display {
	d := &Display{
		BaseSystem: overdrive.NewBaseSystem("display"),
		screen:     screen,
	}
	d.SetFrameRate(frameRate)
	return d
}

// Screen returns the underlying screen.
func (d *Display) Screen() tcell.Screen {
	return d.screen
}

// SetFrameRate changes the target frame rate. Safe from any goroutine.
func (d *Display) SetFrameRate(frameRate int) {
	if frameRate <= 0 {
		d.interval.Store(0)
		return
	}
	d.interval.Store(int64(time.Second / time.Duration(frameRate)))
}

// FrameRate returns the target frame rate, or 0 when unlimited.
func (d *Display) FrameRate() int {
	interval := time.Duration(d.interval.Load())
	if interval <= 0 {
		return 0
	}
	return int(time.Second / interval)
}

// Initialize initializes the screen and schedules the display on the main
// queue.
func (d *Display) Initialize(ctx context.Context) error {
	if err := d.screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	d.open.Store(true)
	d.screen.HideCursor()

	e := d.Engine()
	if e == nil {
		return nil
	}
	d.resize = core.Subscribe(e.Bus(), func(m input.OnResize) {
		// Resize arrives on a worker; sync on the frame loop.
		e.Processor().AddWork(func(ctx context.Context) {
			d.screen.Sync()
		})
	})
	e.UpdateSystem(d, true, false)

	w, h := d.screen.Size()
	d.Log().Info("display ready",
		core.F("width", w),
		core.F("height", h),
		core.F("frame_rate", d.FrameRate()),
	)
	return nil
}

// Update presents one frame.
func (d *Display) Update(ctx context.Context) {
	if !d.pace(ctx) {
		return
	}
	e := d.Engine()
	if e == nil {
		return
	}

	delta := e.Clock().Tick()
	w, h := d.screen.Size()

	d.screen.Clear()
	core.Broadcast(e.Bus(), OnRender{
		Screen: d.screen,
		Frame:  e.Clock().Frame(),
		Delta:  delta,
		Width:  w,
		Height: h,
	})
	d.screen.Show()
}

// pace waits until the next frame is due. It returns false if ctx ended
// first.
func (d *Display) pace(ctx context.Context) bool {
	interval := time.Duration(d.interval.Load())
	now := time.Now()
	if interval <= 0 {
		d.next = now
		return true
	}
	if d.next.IsZero() {
		d.next = now
	}

	if wait := d.next.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}

	d.next = d.next.Add(interval)
	if late := time.Now(); d.next.Before(late) {
		// Dropped behind; do not try to catch up.
		d.next = late.Add(interval)
	}
	return true
}

// Shutdown restores the terminal.
func (d *Display) Shutdown(ctx context.Context) error {
	if bus := d.Bus(); bus != nil && d.resize.Valid() {
		bus.Unsubscribe(d.resize)
	}
	if d.open.CompareAndSwap(true, false) {
		d.screen.Fini()
		d.Log().Info("display closed")
	}
	return nil
}
