// Package overdrive is a small real-time engine scaffold built around a
// frame-oriented task processor and a typed message bus.
//
// An Engine owns three things: a TaskProcessor, a Bus and a set of named
// Systems. Run initializes the systems, then turns the calling goroutine into
// the frame loop until something broadcasts OnStop (or calls Stop), and
// finally shuts the systems down and joins the worker goroutines.
//
// # Quick Start
//
//	e := overdrive.New(overdrive.DefaultConfig())
//	if err := e.Add(video.NewDisplay(screen, 60)); err != nil {
//		log.Fatal(err)
//	}
//	if err := e.SetApplication(game); err != nil {
//		log.Fatal(err)
//	}
//	if err := e.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Key Concepts
//
// TaskProcessor: two FIFO queues. The main queue is swapped into a snapshot
// and drained once per frame by the goroutine that called Run. The background
// queue is drained by a pool of workers. Repeating tasks re-enqueue themselves
// after every execution, which is how per-frame updates are expressed:
//
//	e.UpdateSystem(display, true, false)  // every frame, on the frame loop
//	e.UpdateSystem(keyboard, true, true)  // continuously, on a worker
//
// Bus: one subscriber list per Go message type. Broadcast delivers
// synchronously to a snapshot of the list on the calling goroutine:
//
//	sub := overdrive.Subscribe(e.Bus(), func(m input.OnKeyPress) { ... })
//	overdrive.Broadcast(e.Bus(), overdrive.OnStop{Reason: "quit"})
//	e.Bus().Unsubscribe(sub)
//
// System: embed *BaseSystem and override Initialize, Update and Shutdown.
// Names are unique; Add returns ErrDuplicateSystem for a second system with
// the same name.
//
// # Thread Safety
//
// Task submission, Broadcast, Subscribe and Stop are safe from any goroutine.
// Tasks on the main queue never run concurrently with each other, so state
// touched only by frame tasks needs no locking.
package overdrive
