package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ProviderName identifies this backend; Name returns it.
const ProviderName = "prometheus"

// Prometheus is a Metrics implementation that mirrors every Timer/Counter
// into a registered prometheus.Registry, so a deployment can expose
// /metrics (via promhttp, wired by the operator's own HTTP mux — outside
// this repo's dataplane scope) while components still only depend on the
// plain Metrics interface above.
type Prometheus struct {
	registry   *prometheus.Registry
	histograms *prometheus.HistogramVec
	counters   *prometheus.CounterVec

	mu     sync.Mutex
	timers map[string]*promTimer
	local  map[string]*counter
}

// NewPrometheus creates a fresh provider with its own registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	histograms := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vast",
		Name:      "operation_duration_seconds",
		Help:      "Duration of named storage-engine operations.",
	}, []string{"name"})
	registry.MustRegister(histograms)

	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vast",
		Name:      "operation_total",
		Help:      "Count of named storage-engine events.",
	}, []string{"name"})
	registry.MustRegister(counters)

	return &Prometheus{
		registry:   registry,
		histograms: histograms,
		counters:   counters,
		timers:     map[string]*promTimer{},
		local:      map[string]*counter{},
	}
}

// Registry returns the underlying prometheus.Registry, for wiring into a
// promhttp.Handler at the deployment's own HTTP mux.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Name reports the provider name.
func (p *Prometheus) Name() string { return ProviderName }

// Gather collects and returns all registered metric families, in the
// shape a promhttp handler or a status endpoint would consume.
func (p *Prometheus) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}

func (p *Prometheus) Timer(name string) Timer {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.timers[name]
	if !ok {
		t = &promTimer{obs: p.histograms.WithLabelValues(name)}
		p.timers[name] = t
	}
	return t
}

func (p *Prometheus) Counter(name string) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.local[name]
	if !ok {
		c = &counter{}
		p.local[name] = c
		p.counters.WithLabelValues(name) // pre-register the series at zero
	}
	return &promCounter{counter: c, inc: p.counters.WithLabelValues(name)}
}

func (p *Prometheus) All() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]interface{}, len(p.timers)+len(p.local))
	for name, t := range p.timers {
		out[name+"_ns"] = t.Int64()
	}
	for name, c := range p.local {
		out[name] = c.Value()
	}
	return out
}

func (p *Prometheus) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers = map[string]*promTimer{}
	p.local = map[string]*counter{}
}

type promTimer struct {
	obs prometheus.Observer

	mu      sync.Mutex
	started time.Time
	elapsed time.Duration
	running bool
}

func (t *promTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Now()
	t.running = true
}

func (t *promTimer) Stop() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.elapsed = time.Since(t.started)
		t.running = false
		t.obs.Observe(t.elapsed.Seconds())
	}
	return t.elapsed
}

func (t *promTimer) Int64() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed.Nanoseconds()
}

type promCounter struct {
	*counter
	inc prometheus.Counter
}

func (c *promCounter) Incr() {
	c.counter.Incr()
	c.inc.Inc()
}

func (c *promCounter) Add(n uint64) {
	c.counter.Add(n)
	c.inc.Add(float64(n))
}
