package overdrive

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/overdrive-engine/overdrive/core"
)

var (
	ErrDuplicateSystem   = errors.New("system already registered")
	ErrEngineRunning     = errors.New("engine already started")
	ErrNilSystem         = errors.New("nil system")
	ErrApplicationSet    = errors.New("application already set")
	ErrUnknownDependency = errors.New("unknown system dependency")
	ErrDependencyCycle   = errors.New("system dependency cycle")
)

// OnStop asks the engine to stop. Broadcast it on the engine bus from any
// goroutine.
type OnStop struct {
	Reason string
}

// Config holds configuration options for Engine.
type Config struct {
	// Workers is the number of background workers. 0 means runtime.NumCPU().
	Workers int

	// PollInterval of the foreground loop. Zero busy-polls.
	PollInterval time.Duration

	// LockOSThread pins the frame loop to the OS thread that calls Run.
	LockOSThread bool

	// OrderByDependencies initializes systems in dependency order instead of
	// registration order. Unknown dependencies and cycles then make Run fail.
	OrderByDependencies bool

	// StrictInit makes Run fail on the first Initialize error instead of
	// logging it and carrying on.
	StrictInit bool

	Logger       core.Logger
	Metrics      core.Metrics
	PanicHandler core.PanicHandler
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Logger:  core.NewDefaultLogger(),
		Metrics: &core.NilMetrics{},
	}
}

// Engine owns the task processor, the message bus and every registered
// system.
type Engine struct {
	id  string
	cfg Config
	log core.Logger

	mu      sync.RWMutex
	systems []System
	byName  map[string]System
	app     System
	started atomic.Bool

	processor *core.TaskProcessor
	bus       *core.Bus
	clock     *Clock
}

// New creates an engine. Systems are added with Add before calling Run.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = core.NewDefaultLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &core.NilMetrics{}
	}

	e := &Engine{
		id:     uuid.NewString(),
		cfg:    cfg,
		log:    cfg.Logger,
		byName: make(map[string]System),
		bus:    core.NewBusWithMetrics(cfg.Metrics),
		clock:  NewClock(),
	}
	e.processor = core.NewTaskProcessorWithConfig(core.ProcessorConfig{
		ID:           e.id,
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		LockOSThread: cfg.LockOSThread,
		Logger:       cfg.Logger,
		PanicHandler: cfg.PanicHandler,
		Metrics:      cfg.Metrics,
	})

	core.Subscribe(e.bus, func(m OnStop) {
		e.log.Info("engine stop requested", core.F("engine", e.id), core.F("reason", m.Reason))
		e.processor.Stop()
	})
	return e
}

// =============================================================================
// Registration
// =============================================================================

// Add registers s. It fails with ErrDuplicateSystem if a system of the same
// name exists, in which case the engine is left unchanged.
func (e *Engine) Add(s System) error {
	if s == nil {
		return ErrNilSystem
	}
	if e.started.Load() {
		return ErrEngineRunning
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkNameLocked(s.Name()); err != nil {
		return err
	}
	s.attach(e)
	e.systems = append(e.systems, s)
	e.byName[s.Name()] = s
	return nil
}

// SetApplication registers the application system. It is initialized after
// and shut down before every other system, and its Update runs once per
// frame on the main queue.
func (e *Engine) SetApplication(app System) error {
	if app == nil {
		return ErrNilSystem
	}
	if e.started.Load() {
		return ErrEngineRunning
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.app != nil {
		return fmt.Errorf("%w: %q", ErrApplicationSet, e.app.Name())
	}
	if err := e.checkNameLocked(app.Name()); err != nil {
		return err
	}
	app.attach(e)
	e.app = app
	e.byName[app.Name()] = app
	return nil
}

func (e *Engine) checkNameLocked(name string) error {
	if _, ok := e.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateSystem, name)
	}
	return nil
}

// System looks a system up by name.
func (e *Engine) System(name string) (System, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.byName[name]
	return s, ok
}

// Systems returns the registered systems in registration order, without the
// application.
func (e *Engine) Systems() []System {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.systems)
}

// Application returns the application system, if any.
func (e *Engine) Application() System {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app
}

// Get returns the system registered under name if it has type T.
func Get[T System](e *Engine, name string) (T, bool) {
	var zero T
	s, ok := e.System(name)
	if !ok {
		return zero, false
	}
	t, ok := s.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run initializes every system, runs the frame loop on the calling goroutine
// until the engine is stopped, joins the workers, then shuts the systems
// down.
//
// Initialize errors are logged and skipped unless Config.StrictInit is set.
// Shutdown errors are logged and returned joined together.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer e.processor.Close()

	e.mu.RLock()
	systems := slices.Clone(e.systems)
	app := e.app
	e.mu.RUnlock()

	order := systems
	if e.cfg.OrderByDependencies {
		sorted, err := sortByDependencies(systems)
		if err != nil {
			return err
		}
		order = sorted
	} else {
		e.checkDependencies(systems)
	}

	e.log.Info("engine starting",
		core.F("engine", e.id),
		core.F("systems", len(systems)),
		core.F("workers", e.processor.WorkerCount()),
	)

	if app != nil {
		order = append(order, app)
	}
	for i, s := range order {
		if err := s.Initialize(ctx); err != nil {
			if e.cfg.StrictInit {
				e.shutdownSystems(ctx, order[:i])
				return fmt.Errorf("initialize system %q: %w", s.Name(), err)
			}
			e.log.Error("system initialization failed",
				core.F("system", s.Name()),
				core.F("error", err),
			)
		}
	}

	if app != nil {
		e.UpdateSystem(app, true, false)
	}

	e.clock.Reset()
	runErr := e.processor.Start(ctx)
	// No system Update may still be running on a worker during Shutdown.
	e.processor.Wait()

	e.log.Info("engine stopping", core.F("engine", e.id), core.F("frames", e.clock.Frame()))

	// Application first, then registration order.
	shutdownOrder := systems
	if app != nil {
		shutdownOrder = append([]System{app}, systems...)
	}
	shutdownErr := e.shutdownSystems(ctx, shutdownOrder)

	return errors.Join(runErr, shutdownErr)
}

func (e *Engine) shutdownSystems(ctx context.Context, systems []System) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, s := range systems {
		if err := s.Shutdown(ctx); err != nil {
			e.log.Warn("system shutdown failed",
				core.F("system", s.Name()),
				core.F("error", err),
			)
			errs = append(errs, fmt.Errorf("shutdown system %q: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// checkDependencies warns about dependencies that registration order does
// not satisfy.
func (e *Engine) checkDependencies(systems []System) {
	seen := make(map[string]bool, len(systems))
	for _, s := range systems {
		for _, dep := range s.Dependencies() {
			if !seen[dep] {
				e.log.Warn("system dependency not initialized before dependent",
					core.F("system", s.Name()),
					core.F("dependency", dep),
				)
			}
		}
		seen[s.Name()] = true
	}
}

// Stop ends the frame loop. Safe from any goroutine and idempotent.
func (e *Engine) Stop() {
	e.processor.Stop()
}

// UpdateSystem submits s.Update to the processor.
func (e *Engine) UpdateSystem(s System, repeating, background bool) {
	task := core.MakeWrapped(s.Update, repeating, background, false).Named(s.Name() + ".update")
	e.processor.AddWrapped(task)
}

// =============================================================================
// Accessors
// =============================================================================

func (e *Engine) ID() string {
	return e.id
}

// Bus returns the message bus shared by every system.
func (e *Engine) Bus() *core.Bus {
	return e.bus
}

func (e *Engine) Processor() *core.TaskProcessor {
	return e.processor
}

func (e *Engine) Clock() *Clock {
	return e.clock
}

func (e *Engine) Log() core.Logger {
	return e.log
}

func (e *Engine) IsRunning() bool {
	return e.processor.IsRunning()
}
