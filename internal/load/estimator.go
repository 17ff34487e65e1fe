package load

import (
	"context"
	"io"
	"log/slog"
)

// Estimator produces per-cycle CPU and GPU utilization percentages. It keeps
// the previous CPU counter snapshot between calls; GPU estimation is
// stateless per cycle.
type Estimator struct {
	procRoot string
	probes   []Probe
	logger   *slog.Logger

	prev     CPUStat
	havePrev bool
}

// NewEstimator builds an Estimator reading CPU counters under procRoot and
// walking the given GPU probe chain.
func NewEstimator(procRoot string, probes []Probe, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Estimator{
		procRoot: procRoot,
		probes:   probes,
		logger:   logger,
	}
}

// CPUPercent returns CPU utilization since the previous call. The first call
// primes the counter snapshot and reports 0.0. A read failure also reports
// 0.0 and leaves the stored snapshot unchanged.
func (e *Estimator) CPUPercent() float64 {
	cur, err := ReadCPUStat(e.procRoot)
	if err != nil {
		e.logger.Debug("cpu stat read failed", "err", err)
		return 0.0
	}

	if !e.havePrev {
		e.prev = cur
		e.havePrev = true
		return 0.0
	}

	usage := CPUUsage(e.prev, cur)
	e.prev = cur
	return usage
}

// GPUPercent walks the probe chain in its fixed order and returns the first
// successful estimate, clamped to [0,100]. An exhausted chain reports 0.0.
func (e *Estimator) GPUPercent(ctx context.Context) float64 {
	for _, probe := range e.probes {
		value, err := probe.Utilization(ctx)
		if err != nil {
			e.logger.Debug("gpu probe failed", "probe", probe.Name(), "err", err)
			continue
		}
		return clamp(value, 0, 100)
	}
	return 0.0
}
