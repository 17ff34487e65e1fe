// Package monitor runs the sampling-correction-decision loop that protects
// the board against sustained undervoltage.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/undervolt/railwatch/internal/correct"
)

// VoltageSource produces the mean raw rail voltage for one cycle.
// ok is false when no channel could be read.
type VoltageSource interface {
	MeanVoltage() (volts float64, ok bool)
}

// LoadSource produces per-cycle CPU and GPU utilization percentages.
type LoadSource interface {
	CPUPercent() float64
	GPUPercent(ctx context.Context) float64
}

// Action triggers the emergency host shutdown. It is invoked at most once
// per process lifetime.
type Action interface {
	Trigger(ctx context.Context) error
}

// Options configures a Monitor.
type Options struct {
	Interval  time.Duration
	Threshold float64
	Limit     int
	Voltage   VoltageSource
	Load      LoadSource
	Model     correct.Model
	Action    Action
	Logger    *slog.Logger
}

// Stats are cumulative cycle counters for observability.
type Stats struct {
	Cycles          uint64
	NoReadingCycles uint64
}

// Monitor owns the single sequential monitoring loop: sample, estimate,
// correct, decide, publish, sleep. It caches the latest reading and fans it
// out to subscribers.
type Monitor struct {
	interval  time.Duration
	threshold float64
	limit     int
	voltage   VoltageSource
	load      LoadSource
	model     correct.Model
	debouncer *Debouncer
	action    Action
	logger    *slog.Logger

	cycles     atomic.Uint64
	noReadings atomic.Uint64

	mu          sync.RWMutex
	latest      Reading
	haveLatest  bool
	subscribers map[*subscriber]struct{}
}

// New validates the options and builds a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if opts.Voltage == nil || opts.Load == nil || opts.Action == nil {
		return nil, fmt.Errorf("voltage source, load source and action are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		interval:    opts.Interval,
		threshold:   opts.Threshold,
		limit:       opts.Limit,
		voltage:     opts.Voltage,
		load:        opts.Load,
		model:       opts.Model,
		debouncer:   NewDebouncer(opts.Threshold, opts.Limit),
		action:      opts.Action,
		logger:      logger.With("component", "monitor"),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Run executes cycles until the context is canceled or the undervoltage
// limit is reached. When the limit is reached the shutdown action is invoked
// exactly once and Run returns immediately afterwards.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started",
		"threshold_v", m.threshold,
		"interval", m.interval,
		"undervoltage_limit", m.limit,
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if m.cycle(ctx) {
			m.logger.Warn("undervoltage threshold exceeded, initiating shutdown")
			if err := m.action.Trigger(ctx); err != nil {
				m.logger.Error("shutdown action failed", "err", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle performs one sampling pass and reports whether the shutdown limit
// was reached.
func (m *Monitor) cycle(ctx context.Context) bool {
	m.cycles.Add(1)

	raw, ok := m.voltage.MeanVoltage()
	if !ok {
		m.noReadings.Add(1)
		// A cycle without readings must not perturb the debounce counter.
		m.logger.Error("no rail channels produced a reading")
		return false
	}

	cpu := m.load.CPUPercent()
	gpu := m.load.GPUPercent(ctx)
	corrected := m.model.Apply(raw, cpu, gpu)

	decision := m.debouncer.Observe(corrected)

	reading := Reading{
		Timestamp:         time.Now().UTC(),
		RawVolts:          raw,
		CorrectedVolts:    corrected,
		CPUPercent:        cpu,
		GPUPercent:        gpu,
		UndervoltageCount: m.debouncer.Count(),
	}
	m.publish(reading)

	m.logger.Info("rail sample",
		"raw_v", raw,
		"corrected_v", corrected,
		"cpu_pct", cpu,
		"gpu_pct", gpu,
	)

	switch decision {
	case DecisionWarning:
		m.logger.Warn("corrected voltage below threshold",
			"corrected_v", corrected,
			"count", m.debouncer.Count(),
			"limit", m.limit,
		)
	case DecisionShutdown:
		return true
	}
	return false
}

// Latest returns the most recent completed reading.
func (m *Monitor) Latest() (Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.haveLatest
}

// Ready reports whether at least one cycle has completed.
func (m *Monitor) Ready() bool {
	return m.cycles.Load() > 0
}

// CurrentStats returns cumulative cycle counters.
func (m *Monitor) CurrentStats() Stats {
	return Stats{
		Cycles:          m.cycles.Load(),
		NoReadingCycles: m.noReadings.Load(),
	}
}

// Threshold returns the configured undervoltage threshold in volts.
func (m *Monitor) Threshold() float64 {
	return m.threshold
}

// Subscribe registers a listener for per-cycle readings. The returned
// function removes the subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan Reading, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := newSubscriber()
	m.subscribers[sub] = struct{}{}
	if m.haveLatest {
		sub.send(m.latest)
	}

	unsubscribe := func() {
		m.removeSubscriber(sub)
	}
	return sub.channel(), unsubscribe
}

func (m *Monitor) publish(reading Reading) {
	m.mu.Lock()
	m.latest = reading
	m.haveLatest = true

	targets := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.send(reading)
	}
}

func (m *Monitor) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, sub)
	sub.close()
}

type subscriber struct {
	ch     chan Reading
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Reading, 1),
	}
}

func (s *subscriber) channel() <-chan Reading {
	return s.ch
}

func (s *subscriber) send(reading Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- reading:
		return
	default:
		// Drop oldest to make room for the new reading.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- reading:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
