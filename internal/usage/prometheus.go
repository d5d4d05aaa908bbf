package usage

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes usage counters as Prometheus counters named
// <namespace>_usage_<kind>_tokens_total.
type PrometheusSink struct {
	counters map[string]prometheus.Counter
}

// NewPrometheusSink registers one counter per usage counter name on reg.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) (*PrometheusSink, error) {
	s := &PrometheusSink{counters: make(map[string]prometheus.Counter, 3)}
	for _, name := range []string{CounterPromptTokens, CounterCompletionTokens, CounterTotalTokens} {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      metricName(name),
			Help:      "Tokens reported by the provider in " + name + ".",
		})
		if err := reg.Register(c); err != nil {
			return nil, err
		}
		s.counters[name] = c
	}
	return s, nil
}

// Counter adds value to the matching counter. Unknown names and negative
// values are ignored.
func (s *PrometheusSink) Counter(name string, value int64) {
	c, ok := s.counters[name]
	if !ok || value < 0 {
		return
	}
	c.Add(float64(value))
}

// metricName turns "usage.prompt.tokens" into "usage_prompt_tokens_total".
func metricName(counter string) string {
	return strings.ReplaceAll(counter, ".", "_") + "_total"
}
