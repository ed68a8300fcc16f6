// Package metrics exports job lifecycle counters and step timings to
// Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sebdeveloper6952/gobuffet"
	"github.com/sebdeveloper6952/gobuffet/domain"
)

const namespace = "gobuffet"

// transition label for a freshly created job.
const fromNone = "none"

var (
	_ gobuffet.Hook         = (*Collector)(nil)
	_ gobuffet.StepObserver = (*Collector)(nil)
)

type Collector struct {
	transitions *prometheus.CounterVec
	steps       *prometheus.CounterVec
	stepSeconds *prometheus.HistogramVec
}

// NewCollector registers the job metrics with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job state changes by service.",
		}, []string{"service", "from", "to"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_steps_total",
			Help:      "Service steps by the result they produced.",
		}, []string{"service", "result"}),
		stepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_step_duration_seconds",
			Help:      "Wall time of a single service step.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service"}),
	}

	for _, col := range []prometheus.Collector{c.transitions, c.steps, c.stepSeconds} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) OnTransition(_ context.Context, job *domain.Job, from domain.State) {
	f := string(from)
	if f == "" {
		f = fromNone
	}
	c.transitions.WithLabelValues(job.Service, f, string(job.State)).Inc()
}

func (c *Collector) OnStep(service string, kind gobuffet.ResultKind, elapsed time.Duration) {
	c.steps.WithLabelValues(service, string(kind)).Inc()
	c.stepSeconds.WithLabelValues(service).Observe(elapsed.Seconds())
}
