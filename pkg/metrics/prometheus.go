package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver maps events onto three vectors keyed by event name
// and the optional "status" tag.
type PrometheusObserver struct {
	counters *prometheus.CounterVec
	gauges   *prometheus.GaugeVec
	timings  *prometheus.HistogramVec
}

func NewPrometheusObserver(namespace string, reg prometheus.Registerer) *PrometheusObserver {
	if namespace == "" {
		namespace = "parley"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusObserver{
		counters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of orchestration events",
			},
			[]string{"event", "status"},
		),
		gauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gauge",
				Help:      "Current value of orchestration gauges",
			},
			[]string{"event", "status"},
		),
		timings: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "duration_seconds",
				Help:      "Latency of orchestration stages",
				Buckets:   []float64{.025, .05, .1, .2, .3, .5, .75, 1, 2, 5, 10},
			},
			[]string{"event", "status"},
		),
	}
}

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	status := ""
	if ev.Tags != nil {
		status = ev.Tags["status"]
	}
	switch ev.Kind {
	case KindGauge:
		p.gauges.WithLabelValues(ev.Name, status).Set(ev.Value)
	case KindTiming:
		p.timings.WithLabelValues(ev.Name, status).Observe(ev.Value / 1000)
	default:
		v := ev.Value
		if v <= 0 {
			v = 1
		}
		p.counters.WithLabelValues(ev.Name, status).Add(v)
	}
}
