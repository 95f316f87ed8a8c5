package assetpreview

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "assetpreview"

type metrics struct {
	cacheRequests  *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	captureSources *prometheus.CounterVec
	cleanupResidue prometheus.Counter
	queueDepth     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by layer and result.",
		}, []string{"layer", "result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_total",
			Help:      "Finished generation jobs by tier and status.",
		}, []string{"tier", "status"}),
		captureSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "capture_source_total",
			Help:      "Produced previews by the capture step that produced them.",
		}, []string{"source"}),
		cleanupResidue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_residue_objects_total",
			Help:      "Objects left behind by sandbox cleanup.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for the host worker.",
		}),
	}

	var err error
	if m.cacheRequests, err = register(reg, m.cacheRequests); err != nil {
		return nil, err
	}
	if m.jobs, err = register(reg, m.jobs); err != nil {
		return nil, err
	}
	if m.captureSources, err = register(reg, m.captureSources); err != nil {
		return nil, err
	}
	if m.cleanupResidue, err = register(reg, m.cleanupResidue); err != nil {
		return nil, err
	}
	if m.queueDepth, err = register(reg, m.queueDepth); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector already registered under
// the same descriptor so several previewers can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register metric: %w", err)
	}
	return c, nil
}
