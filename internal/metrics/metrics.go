// Package metrics turns domain events into Prometheus collectors.
//
// Label cardinality stays bounded: result, change and source are closed sets
// and "to" is one of the canonical status names.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dispatchbot/internal/eventbus"
	logx "dispatchbot/pkg/logx"
)

const namespace = "dispatchbot"

type Metrics struct {
	reg *prometheus.Registry

	sends       *prometheus.CounterVec
	batches     prometheus.Counter
	duration    prometheus.Histogram
	transitions *prometheus.CounterVec
	rejected    prometheus.Counter
	synced      *prometheus.CounterVec

	busOnce sync.Once
}

// New builds the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Per-target send attempts by result (sent, failed).",
		}, []string{"result"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_batches_total",
			Help:      "Send directives that reached the dispatcher.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one fan-out batch.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Applied status changes by target status and source (reply, admin).",
		}, []string{"to", "source"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_rejected_total",
			Help:      "Replies refused by the forward-only check.",
		}),
		synced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_synced_total",
			Help:      "Project reconciliation changes by kind (added, renamed, removed).",
		}, []string{"change"}),
	}
	m.reg.MustRegister(
		m.sends, m.batches, m.duration, m.transitions, m.rejected, m.synced,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe applies one event. Unknown event types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.DispatchCompleted:
		m.batches.Inc()
		m.sends.WithLabelValues("sent").Add(float64(d.Sent))
		m.sends.WithLabelValues("failed").Add(float64(d.Failed))
		m.duration.Observe(d.Duration.Seconds())
	case eventbus.StatusChanged:
		source := "reply"
		if d.Admin {
			source = "admin"
		}
		m.transitions.WithLabelValues(d.To, source).Inc()
	case eventbus.TransitionRejected:
		m.rejected.Inc()
	case eventbus.ProjectsSynced:
		m.synced.WithLabelValues("added").Add(float64(d.Added))
		m.synced.WithLabelValues("renamed").Add(float64(d.Renamed))
		m.synced.WithLabelValues("removed").Add(float64(d.Removed))
	}
}

// Run feeds bus events into the collectors until ctx ends. The first call
// also exports the bus drop counter.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus, log logx.Logger) error {
	m.busOnce.Do(func() {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Event deliveries skipped because a subscriber was full.",
		}, func() float64 { return float64(bus.Dropped()) }))
	})
	ch, unsubscribe := bus.Subscribe(256,
		eventbus.TypeDispatchCompleted,
		eventbus.TypeStatusChanged,
		eventbus.TypeTransitionRejected,
		eventbus.TypeProjectsSynced,
	)
	defer unsubscribe()
	log.Debug("metrics subscriber started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
