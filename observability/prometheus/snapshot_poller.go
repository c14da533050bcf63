package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/overdrive-engine/overdrive/core"
)

// ProcessorSnapshotProvider provides current processor stats snapshots.
type ProcessorSnapshotProvider interface {
	Stats() core.ProcessorStats
}

// BusSnapshotProvider provides current bus stats snapshots.
type BusSnapshotProvider interface {
	Stats() core.BusStats
}

// SnapshotPoller periodically exports processor and bus Stats() snapshots
// into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	providersMu sync.RWMutex
	processors  map[string]ProcessorSnapshotProvider
	buses       map[string]BusSnapshotProvider

	processorQueued   *prom.GaugeVec
	processorDelayed  *prom.GaugeVec
	processorWorkers  *prom.GaugeVec
	processorExecuted *prom.GaugeVec
	processorRunning  *prom.GaugeVec

	busSubscribers *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	processorQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "processor_queued",
		Help:      "Queued tasks per processor queue.",
	}, []string{"processor", "queue"})
	processorDelayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "processor_delayed",
		Help:      "Tasks waiting for their delay to elapse.",
	}, []string{"processor"})
	processorWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "processor_workers",
		Help:      "Background worker count per processor.",
	}, []string{"processor"})
	processorExecuted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "processor_executed_total",
		Help:      "Processor executed task count snapshot.",
	}, []string{"processor"})
	processorRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "processor_running",
		Help:      "Processor running state (1=running, 0=stopped).",
	}, []string{"processor"})
	busSubscribers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "bus_subscribers",
		Help:      "Subscribers per message type.",
	}, []string{"bus", "message"})

	var err error
	if processorQueued, err = registerCollector(reg, processorQueued); err != nil {
		return nil, err
	}
	if processorDelayed, err = registerCollector(reg, processorDelayed); err != nil {
		return nil, err
	}
	if processorWorkers, err = registerCollector(reg, processorWorkers); err != nil {
		return nil, err
	}
	if processorExecuted, err = registerCollector(reg, processorExecuted); err != nil {
		return nil, err
	}
	if processorRunning, err = registerCollector(reg, processorRunning); err != nil {
		return nil, err
	}
	if busSubscribers, err = registerCollector(reg, busSubscribers); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:          interval,
		processors:        make(map[string]ProcessorSnapshotProvider),
		buses:             make(map[string]BusSnapshotProvider),
		processorQueued:   processorQueued,
		processorDelayed:  processorDelayed,
		processorWorkers:  processorWorkers,
		processorExecuted: processorExecuted,
		processorRunning:  processorRunning,
		busSubscribers:    busSubscribers,
	}, nil
}

// AddProcessor adds or replaces a processor snapshot provider by name.
func (p *SnapshotPoller) AddProcessor(name string, provider ProcessorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "processor")
	p.providersMu.Lock()
	p.processors[name] = provider
	p.providersMu.Unlock()
}

// AddBus adds or replaces a bus snapshot provider by name.
func (p *SnapshotPoller) AddBus(name string, provider BusSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "bus")
	p.providersMu.Lock()
	p.buses[name] = provider
	p.providersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.providersMu.RLock()
	defer p.providersMu.RUnlock()

	for name, provider := range p.processors {
		stats := provider.Stats()
		p.processorQueued.WithLabelValues(name, core.QueueMain.String()).Set(float64(stats.MainQueued))
		p.processorQueued.WithLabelValues(name, core.QueueBackground.String()).Set(float64(stats.BackgroundQueued))
		p.processorDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.processorWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.processorExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		if stats.Running {
			p.processorRunning.WithLabelValues(name).Set(1)
		} else {
			p.processorRunning.WithLabelValues(name).Set(0)
		}
	}

	for name, provider := range p.buses {
		for message, count := range provider.Stats().Subscribers {
			p.busSubscribers.WithLabelValues(name, message).Set(float64(count))
		}
	}
}
