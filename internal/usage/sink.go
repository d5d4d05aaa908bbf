package usage

import (
	"sync"
)

// Counter names emitted for every response that carries a usage object.
const (
	CounterPromptTokens     = "usage.prompt.tokens"
	CounterCompletionTokens = "usage.completion.tokens"
	CounterTotalTokens      = "usage.total.tokens"
)

// Sink receives usage counters. Implementations must be safe for concurrent use.
type Sink interface {
	Counter(name string, value int64)
}

// NoopSink discards every counter.
type NoopSink struct{}

// Counter does nothing
func (NoopSink) Counter(string, int64) {}

// MultiSink fans counters out to every sink in order.
type MultiSink []Sink

// Counter forwards to each non-nil sink.
func (m MultiSink) Counter(name string, value int64) {
	for _, s := range m {
		if s != nil {
			s.Counter(name, value)
		}
	}
}

// Sample is one recorded counter emission.
type Sample struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Recorder keeps every emitted counter in memory, in emission order.
type Recorder struct {
	mu      sync.Mutex
	samples []Sample
}

// Counter records the emission.
func (r *Recorder) Counter(name string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{Name: name, Value: value})
}

// Samples returns a copy of the recorded emissions.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Totals sums recorded values per counter name.
func (r *Recorder) Totals() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, 3)
	for _, s := range r.samples {
		out[s.Name] += s.Value
	}
	return out
}
