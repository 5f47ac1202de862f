// Package prometheus backs stats.Collector with client_golang metrics that
// are created lazily on first use.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomtoy/chess-arena/internal/stats"
)

// Move latencies range from a few milliseconds (engine replies) to over a
// minute (slow model calls with retries).
var moveBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80}

var help = map[string]string{
	stats.MetricMatchesStarted:    "Matches that entered in_progress.",
	stats.MetricMatchesCompleted:  "Matches that finished with a result.",
	stats.MetricMatchesErrored:    "Matches marked errored.",
	stats.MetricMatchesRunning:    "Matches currently being played by this process.",
	stats.MetricMoves:             "Plies persisted.",
	stats.MetricAgentRetries:      "Extra model calls needed to obtain a legal agent move.",
	stats.MetricTokens:            "Model tokens spent on agent moves.",
	stats.MetricAgentMoveSeconds:  "Wall time to obtain one agent move.",
	stats.MetricEngineMoveSeconds: "Wall time to obtain one engine move.",
}

type Collector struct {
	registry prometheus.Registerer

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

var _ stats.Collector = (*Collector)(nil)

// New registers metrics on registry, or on the default registerer when nil.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

func (c *Collector) IncCounter(name string, delta int64) {
	if delta < 0 {
		return
	}
	getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: helpFor(name)})
	}).Add(float64(delta))
}

func (c *Collector) AddGauge(name string, delta int64) {
	getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: helpFor(name)})
	}).Add(float64(delta))
}

func (c *Collector) ObserveHistogram(name string, value float64) {
	getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: moveBuckets,
		})
	}).Observe(value)
}

// getOrCreate returns the metric cached under name, registering a new one on
// first use. A metric already registered elsewhere is adopted.
func getOrCreate[M prometheus.Collector](c *Collector, cache map[string]M, name string, build func() M) M {
	c.mu.RLock()
	m, ok := cache[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok = cache[name]; ok {
		return m
	}

	m = build()
	if err := c.registry.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(M); ok {
				m = existing
			}
		}
	}
	cache[name] = m
	return m
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}
