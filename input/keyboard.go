// Package input turns terminal events into messages on the engine bus.
package input

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/overdrive-engine/overdrive"
	"github.com/overdrive-engine/overdrive/core"
)

// OnKeyPress is broadcast for every key event. Rune is only meaningful when
// Key is tcell.KeyRune.
type OnKeyPress struct {
	Key       tcell.Key
	Rune      rune
	Modifiers tcell.ModMask
	When      time.Time
}

// Name returns a human readable description of the key, e.g. "Ctrl+C".
func (k OnKeyPress) Name() string {
	return tcell.NewEventKey(k.Key, k.Rune, k.Modifiers).Name()
}

// OnResize is broadcast when the terminal changes size and once at startup.
type OnResize struct {
	Width, Height int
}

// OnMouse is broadcast for mouse events when the screen has mouse reporting
// enabled.
type OnMouse struct {
	X, Y      int
	Buttons   tcell.ButtonMask
	Modifiers tcell.ModMask
}

const pollSlice = 100 * time.Millisecond

// Keyboard is a system that reads events from a tcell screen on a background
// goroutine and broadcasts them from a repeating background task. Broadcasts
// therefore happen on a worker, never on the frame loop.
type Keyboard struct {
	*overdrive.BaseSystem

	screen tcell.Screen
	events chan tcell.Event
	done   chan struct{}

	started atomic.Bool
	closed  atomic.Bool

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewKeyboard returns a keyboard reading from screen. The screen is
// initialized and finalized by the display system, which the keyboard
// depends on.
func NewKeyboard(screen tcell.Screen) *Keyboard {
	return &Keyboard{
		BaseSystem: overdrive.NewBaseSystem("input", "display"),
		screen:     screen,
		events:     make(chan tcell.Event, 64),
		done:       make(chan struct{}),
	}
}

// Initialize starts the event pump and schedules the keyboard on the
// background queue.
func (k *Keyboard) Initialize(ctx context.Context) error {
	k.started.Store(true)
	k.wg.Add(1)
	go k.pump()

	if e := k.Engine(); e != nil {
		e.UpdateSystem(k, true, true)
	}
	k.Log().Info("keyboard ready")
	return nil
}

func (k *Keyboard) pump() {
	defer k.wg.Done()
	defer func() {
		k.closed.Store(true)
		close(k.events)
	}()

	for {
		ev := k.screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case <-k.done:
			return
		case k.events <- ev:
		}
	}
}

// Update broadcasts the events that arrived since the last call, waiting a
// short while for the first one.
func (k *Keyboard) Update(ctx context.Context) {
	events := k.events
	if k.closed.Load() {
		events = nil
	}

	timer := time.NewTimer(pollSlice)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		return
	case ev, ok := <-events:
		if !ok {
			return
		}
		k.Dispatch(ev)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			k.Dispatch(ev)
		default:
			return
		}
	}
}

// Dispatch broadcasts the message matching ev. It reports whether ev was
// translated.
func (k *Keyboard) Dispatch(ev tcell.Event) bool {
	bus := k.Bus()
	if bus == nil {
		return false
	}

	switch ev := ev.(type) {
	case *tcell.EventKey:
		core.Broadcast(bus, OnKeyPress{
			Key:       ev.Key(),
			Rune:      ev.Rune(),
			Modifiers: ev.Modifiers(),
			When:      ev.When(),
		})
	case *tcell.EventResize:
		w, h := ev.Size()
		core.Broadcast(bus, OnResize{Width: w, Height: h})
	case *tcell.EventMouse:
		x, y := ev.Position()
		core.Broadcast(bus, OnMouse{X: x, Y: y, Buttons: ev.Buttons(), Modifiers: ev.Modifiers()})
	default:
		return false
	}
	return true
}

// Shutdown stops the event pump. A screen that is still open is interrupted
// so that the pump returns from PollEvent.
func (k *Keyboard) Shutdown(ctx context.Context) error {
	k.stopOnce.Do(func() {
		close(k.done)
		if k.started.Load() && !k.closed.Load() {
			_ = k.screen.PostEvent(tcell.NewEventInterrupt(nil))
		}
	})
	k.wg.Wait()
	return nil
}
