package overdrive_test

import (
	"context"
	"fmt"

	"github.com/overdrive-engine/overdrive"
	"github.com/overdrive-engine/overdrive/core"
)

type counter struct {
	*overdrive.BaseSystem
	frames int
}

func (c *counter) Update(ctx context.Context) {
	c.frames++
	if c.frames == 3 {
		overdrive.Broadcast(c.Bus(), overdrive.OnStop{Reason: "done"})
	}
}

// ExampleEngine shows an application whose per-frame update stops the engine.
func ExampleEngine() {
	e := overdrive.New(overdrive.Config{Workers: 1, Logger: core.NewNoOpLogger()})

	app := &counter{BaseSystem: overdrive.NewBaseSystem("app")}
	if err := e.SetApplication(app); err != nil {
		fmt.Println(err)
		return
	}

	if err := e.Run(context.Background()); err != nil {
		fmt.Println(err)
	}
	fmt.Println("frames:", app.frames)

	// Output:
	// frames: 3
}

// ExampleSubscribe demonstrates typed fan-out on a bus.
func ExampleSubscribe() {
	type OnScore struct{ Points int }

	bus := core.NewBus()
	sub := overdrive.Subscribe(bus, func(m OnScore) { fmt.Println("hud:", m.Points) })
	overdrive.Subscribe(bus, func(m OnScore) { fmt.Println("audio:", m.Points) })

	overdrive.Broadcast(bus, OnScore{Points: 10})
	bus.Unsubscribe(sub)
	overdrive.Broadcast(bus, OnScore{Points: 20})

	// Output:
	// hud: 10
	// audio: 10
	// audio: 20
}

// ExampleTaskProcessor shows the repeating counter stopping its own processor.
func ExampleTaskProcessor() {
	p := core.NewTaskProcessorWithConfig(core.ProcessorConfig{Workers: 2, Logger: core.NewNoOpLogger()})
	defer p.Close()

	count := 0
	p.AddRepeatingWork(func(ctx context.Context) {
		count++
		if count == 10 {
			p.Stop()
		}
	})

	if err := p.Start(context.Background()); err != nil {
		fmt.Println(err)
	}
	fmt.Println("count:", count)

	// Output:
	// count: 10
}
