package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts protocol traffic and frame timing. All methods accept a nil
// receiver so components can run without metrics.
type Metrics struct {
	registry         *prometheus.Registry
	CommandsTotal    *prometheus.CounterVec
	ReadErrorsTotal  *prometheus.CounterVec
	ReplayedTotal    prometheus.Counter
	FlushesProfiled  prometheus.Counter
	FrameInterval    prometheus.Histogram
	BatchCommands    prometheus.Histogram
	ConnectionFaults prometheus.Counter
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pglink",
			Name:      "commands_total",
			Help:      "Commands written to the host",
		}, []string{"command"}),
		ReadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pglink",
			Name:      "read_errors_total",
			Help:      "Failed reads by stage",
		}, []string{"stage"}),
		ReplayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pglink",
			Name:      "replayed_commands_total",
			Help:      "Commands replayed from a recording",
		}),
		FlushesProfiled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pglink",
			Name:      "flushes_profiled_total",
			Help:      "Flush timestamps stored by the profiler",
		}),
		FrameInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pglink",
			Name:      "frame_interval_seconds",
			Help:      "Interval between consecutive profiled flushes",
			Buckets:   []float64{0.004, 0.008, 0.0111, 0.0167, 0.02, 0.0334, 0.05, 0.1, 0.25},
		}),
		BatchCommands: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pglink",
			Name:      "batch_commands",
			Help:      "Commands the host executed per batch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ConnectionFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pglink",
			Name:      "connection_faults_total",
			Help:      "Connections lost in the middle of a message",
		}),
	}
	r.MustRegister(m.CommandsTotal, m.ReadErrorsTotal, m.ReplayedTotal, m.FlushesProfiled,
		m.FrameInterval, m.BatchCommands, m.ConnectionFaults)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) ReadError(stage string) {
	if m == nil {
		return
	}
	m.ReadErrorsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) Replayed() {
	if m == nil {
		return
	}
	m.ReplayedTotal.Inc()
}

func (m *Metrics) ConnectionFault() {
	if m == nil {
		return
	}
	m.ConnectionFaults.Inc()
}

// Flush records a profiled flush and, when prev is positive, the interval
// since the previous one.
func (m *Metrics) Flush(prev, now float64) {
	if m == nil {
		return
	}
	m.FlushesProfiled.Inc()
	if prev > 0 && now > prev {
		m.FrameInterval.Observe(now - prev)
	}
}

func (m *Metrics) Batch(executed int) {
	if m == nil {
		return
	}
	m.BatchCommands.Observe(float64(executed))
}
