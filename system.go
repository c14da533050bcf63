package overdrive

import (
	"context"
	"slices"
	"sync"

	"github.com/overdrive-engine/overdrive/core"
)

// System is a named subsystem owned by an Engine.
//
// Concrete systems embed *BaseSystem, which supplies the bookkeeping methods
// and default lifecycle hooks; they override Initialize, Update and Shutdown
// as needed.
type System interface {
	// Name is unique within an Engine and never changes.
	Name() string

	// Dependencies lists the names of systems this one expects to be
	// initialized first.
	Dependencies() []string

	// Initialize is called once from Engine.Run, before the processor starts.
	Initialize(ctx context.Context) error

	// Update is the periodic work of the system. It only runs when submitted
	// through Engine.UpdateSystem.
	Update(ctx context.Context)

	// Shutdown is called once after the processor has stopped.
	Shutdown(ctx context.Context) error

	attach(e *Engine)
}

// BaseSystem implements the bookkeeping part of System.
type BaseSystem struct {
	name string

	mu     sync.RWMutex
	deps   []string
	engine *Engine
	log    core.Logger
}

// NewBaseSystem creates the embeddable part of a system.
func NewBaseSystem(name string, dependencies ...string) *BaseSystem {
	return &BaseSystem{
		name: name,
		deps: slices.Clone(dependencies),
		log:  core.NewNoOpLogger(),
	}
}

func (b *BaseSystem) Name() string {
	return b.name
}

func (b *BaseSystem) Dependencies() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.deps)
}

// AddDependency records that this system expects name to be initialized
// first. Only honoured as an ordering constraint when the engine is
// configured with OrderByDependencies.
func (b *BaseSystem) AddDependency(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.deps, name) {
		b.deps = append(b.deps, name)
	}
}

// Engine returns the owning engine, or nil before registration.
func (b *BaseSystem) Engine() *Engine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.engine
}

// Bus returns the message bus of the owning engine.
func (b *BaseSystem) Bus() *core.Bus {
	if e := b.Engine(); e != nil {
		return e.Bus()
	}
	return nil
}

// Log returns a logger tagged with the system name.
func (b *BaseSystem) Log() core.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.log
}

func (b *BaseSystem) Initialize(ctx context.Context) error {
	b.Log().Info("initializing system")
	return nil
}

func (b *BaseSystem) Update(ctx context.Context) {
	b.Log().Debug("updating system")
}

func (b *BaseSystem) Shutdown(ctx context.Context) error {
	b.Log().Info("shutting down system")
	return nil
}

func (b *BaseSystem) attach(e *Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engine = e
	b.log = &systemLogger{base: e.Log(), system: b.name}
}

// systemLogger prefixes every entry with the system name.
type systemLogger struct {
	base   core.Logger
	system string
}

func (l *systemLogger) with(fields []core.Field) []core.Field {
	return append([]core.Field{core.F("system", l.system)}, fields...)
}

func (l *systemLogger) Debug(msg string, fields ...core.Field) { l.base.Debug(msg, l.with(fields)...) }
func (l *systemLogger) Info(msg string, fields ...core.Field)  { l.base.Info(msg, l.with(fields)...) }
func (l *systemLogger) Warn(msg string, fields ...core.Field)  { l.base.Warn(msg, l.with(fields)...) }
func (l *systemLogger) Error(msg string, fields ...core.Field) { l.base.Error(msg, l.with(fields)...) }
