package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/undervolt/railwatch/internal/monitor"
)

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if collector := newRailMetricsCollector(s.monitor); collector != nil {
		registry.MustRegister(collector)
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

type railMetricsCollector struct {
	monitor *monitor.Monitor
	metrics []railMetric

	cyclesDesc    *prometheus.Desc
	noReadingDesc *prometheus.Desc
	thresholdDesc *prometheus.Desc
}

type railMetric struct {
	desc    *prometheus.Desc
	extract func(reading monitor.Reading) (float64, bool)
}

func newRailMetricsCollector(mon *monitor.Monitor) prometheus.Collector {
	if mon == nil {
		return nil
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("railwatch", "rail", name),
			help,
			nil,
			nil,
		)
	}

	collector := &railMetricsCollector{
		monitor: mon,
		cyclesDesc: prometheus.NewDesc(
			prometheus.BuildFQName("railwatch", "monitor", "cycles_total"),
			"Total number of sampling cycles executed.",
			nil, nil,
		),
		noReadingDesc: prometheus.NewDesc(
			prometheus.BuildFQName("railwatch", "monitor", "no_reading_cycles_total"),
			"Cycles in which no rail channel produced a reading.",
			nil, nil,
		),
		thresholdDesc: desc("threshold_volts", "Configured undervoltage threshold in volts."),
	}

	collector.metrics = []railMetric{
		{
			desc: desc("raw_volts", "Mean raw rail voltage of the latest cycle."),
			extract: func(reading monitor.Reading) (float64, bool) {
				return reading.RawVolts, true
			},
		},
		{
			desc: desc("corrected_volts", "Load-corrected rail voltage of the latest cycle."),
			extract: func(reading monitor.Reading) (float64, bool) {
				return reading.CorrectedVolts, true
			},
		},
		{
			desc: desc("cpu_percent", "CPU utilization used for the latest correction."),
			extract: func(reading monitor.Reading) (float64, bool) {
				return reading.CPUPercent, true
			},
		},
		{
			desc: desc("gpu_percent", "GPU utilization used for the latest correction."),
			extract: func(reading monitor.Reading) (float64, bool) {
				return reading.GPUPercent, true
			},
		},
		{
			desc: desc("undervoltage_consecutive", "Consecutive under-threshold readings so far."),
			extract: func(reading monitor.Reading) (float64, bool) {
				return float64(reading.UndervoltageCount), true
			},
		},
		{
			desc: desc("sample_timestamp_seconds", "Unix timestamp of the latest reading."),
			extract: func(reading monitor.Reading) (float64, bool) {
				if reading.Timestamp.IsZero() {
					return 0, false
				}
				return float64(reading.Timestamp.Unix()), true
			},
		},
		{
			desc: desc("sample_age_seconds", "Seconds elapsed since the latest reading."),
			extract: func(reading monitor.Reading) (float64, bool) {
				if reading.Timestamp.IsZero() {
					return 0, false
				}
				age := time.Since(reading.Timestamp).Seconds()
				if age < 0 {
					age = 0
				}
				return age, true
			},
		},
	}

	return collector
}

func (c *railMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
	ch <- c.cyclesDesc
	ch <- c.noReadingDesc
	ch <- c.thresholdDesc
}

func (c *railMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.monitor.CurrentStats()
	ch <- prometheus.MustNewConstMetric(c.cyclesDesc, prometheus.CounterValue, float64(stats.Cycles))
	ch <- prometheus.MustNewConstMetric(c.noReadingDesc, prometheus.CounterValue, float64(stats.NoReadingCycles))
	ch <- prometheus.MustNewConstMetric(c.thresholdDesc, prometheus.GaugeValue, c.monitor.Threshold())

	reading, ok := c.monitor.Latest()
	if !ok {
		return
	}
	for _, metric := range c.metrics {
		value, ok := metric.extract(reading)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value)
	}
}
