// Package metrics exposes the orchestration core's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bidflow",
		Subsystem: "phases",
		Name:      "transitions_total",
		Help:      "Applied phase transitions by kind and target phase.",
	}, []string{"kind", "to_phase"})

	TransitionRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bidflow",
		Subsystem: "phases",
		Name:      "transition_rejections_total",
		Help:      "Rejected transition attempts by outcome.",
	}, []string{"outcome"})

	WorkflowsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidflow",
		Subsystem: "phases",
		Name:      "workflows_active",
		Help:      "Workflows not yet in a terminal status.",
	})

	ItemsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bidflow",
		Subsystem: "scheduler",
		Name:      "items_released_total",
		Help:      "Work items released for execution.",
	})

	ItemsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bidflow",
		Subsystem: "scheduler",
		Name:      "items_completed_total",
		Help:      "Work items reported completed.",
	})

	ItemsRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bidflow",
		Subsystem: "scheduler",
		Name:      "items_retried_total",
		Help:      "Failed work items scheduled for another attempt.",
	})

	ItemsDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bidflow",
		Subsystem: "scheduler",
		Name:      "items_dead_lettered_total",
		Help:      "Work items quarantined to the dead letter queue.",
	})
)
