// Package metrics is a small Timer/Counter abstraction every long-lived
// component records through. partition.Active and partition.Passive
// record "partition.lookup.runtime" and "partition.lookup.hits" on every
// query; engine.Index, eraser.Eraser and diskmonitor.Monitor record
// rotation/sweep/purge counters the same way.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer measures elapsed wall-clock time for one named operation. Start
// may be called again after Stop to time a subsequent occurrence; Int64
// always reflects the most recently completed measurement.
type Timer interface {
	Start()
	Stop() time.Duration
	Int64() int64
}

// Counter is a monotonically increasing named count.
type Counter interface {
	Incr()
	Add(n uint64)
	Value() uint64
}

// Metrics is the provider every component depends on; components never
// import a concrete backend directly.
type Metrics interface {
	Timer(name string) Timer
	Counter(name string) Counter
	All() map[string]interface{}
	Clear()
}

type timer struct {
	mu      sync.Mutex
	started time.Time
	elapsed time.Duration
	running bool
}

func (t *timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Now()
	t.running = true
}

func (t *timer) Stop() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.elapsed = time.Since(t.started)
		t.running = false
	}
	return t.elapsed
}

func (t *timer) Int64() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed.Nanoseconds()
}

type counter struct{ n atomic.Uint64 }

func (c *counter) Incr()         { c.n.Add(1) }
func (c *counter) Add(n uint64)  { c.n.Add(n) }
func (c *counter) Value() uint64 { return c.n.Load() }

// local is the default in-process Metrics implementation: a plain map of
// named timers and counters, used whenever no external metrics backend
// is configured.
type local struct {
	mu       sync.Mutex
	timers   map[string]*timer
	counters map[string]*counter
}

// New returns a fresh in-process metrics provider.
func New() Metrics {
	return &local{
		timers:   map[string]*timer{},
		counters: map[string]*counter{},
	}
}

func (m *local) Timer(name string) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	return t
}

func (m *local) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &counter{}
		m.counters[name] = c
	}
	return c
}

func (m *local) All() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(m.timers)+len(m.counters))
	for name, t := range m.timers {
		out[name+"_ns"] = t.Int64()
	}
	for name, c := range m.counters {
		out[name] = c.Value()
	}
	return out
}

func (m *local) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = map[string]*timer{}
	m.counters = map[string]*counter{}
}
